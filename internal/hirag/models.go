// Package hirag implements the three-tier context cache and retrieval
// pipeline: tiered storage, composite ranking, token budgeting, and the
// background lifecycle of stored contexts.
package hirag

import (
	"errors"

	"github.com/google/uuid"

	"hirag/internal/vectorstore"
)

// ErrNotFound reports that a context id is absent from every tier.
var ErrNotFound = errors.New("hirag: context not found")

// Priority of a retrieval request.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Context is the unit stored and retrieved.
type Context struct {
	ID   uuid.UUID
	Text string
	Tier vectorstore.Tier

	// RelevanceScore carries the similarity score from the vector search
	// until ranking replaces it with the composite score.
	RelevanceScore float32

	TokenCount int
	CreatedAt  int64
	Metadata   map[string]any
}

// StoreRequest is an ingest.
type StoreRequest struct {
	Text      string
	Tier      vectorstore.Tier
	Metadata  map[string]any
	AgentID   string
	SessionID string
}

// RetrieveRequest is a similarity query under a token budget.
type RetrieveRequest struct {
	Query     string
	MaxTokens int
	// Tiers restricts the search; empty means all enabled tiers (LongTerm is
	// left out when L3 is disabled).
	Tiers     []vectorstore.Tier
	Filter    *vectorstore.Filter
	Priority  Priority
	SessionID string
}

// RetrieveResponse carries the budget-bounded, ranked contexts.
type RetrieveResponse struct {
	Contexts        []Context
	TotalTokens     int
	RetrievalTimeMs int64
	Metadata        ResponseMetadata
}

// ResponseMetadata describes how the response was assembled.
type ResponseMetadata struct {
	TierDistribution map[vectorstore.Tier]int
	AvgRelevance     float32
	CacheHits        int
	TotalSearched    int
}

// Stats is a snapshot of the manager's working state.
type Stats struct {
	L1Size             int
	EmbeddingCacheSize int
}
