package vectorstore

import (
	"strings"

	"github.com/google/uuid"
)

// Tier classifies a context item's lifetime: Immediate (L1) lives in process
// memory, ShortTerm (L2) and LongTerm (L3) live in the vector index.
type Tier string

const (
	TierImmediate Tier = "Immediate"
	TierShortTerm Tier = "ShortTerm"
	TierLongTerm  Tier = "LongTerm"
)

// AllTiers returns the three tiers in L1..L3 order.
func AllTiers() []Tier {
	return []Tier{TierImmediate, TierShortTerm, TierLongTerm}
}

// Valid reports whether t is one of the three known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierImmediate, TierShortTerm, TierLongTerm:
		return true
	}
	return false
}

// CollectionName returns "{prefix}_{tier_lowercase}".
func (t Tier) CollectionName(prefix string) string {
	return prefix + "_" + strings.ToLower(string(t))
}

// Point is a stored vector with its payload.
type Point struct {
	ID      uuid.UUID
	Vector  []float32
	Payload Payload
}

// Payload is the metadata stored alongside a vector. Metadata keys are
// flattened next to the fixed fields when persisted.
type Payload struct {
	Text      string
	Tier      Tier
	Timestamp int64
	AgentID   string
	SessionID string
	Metadata  map[string]any
}

// Field resolves a payload field or flattened metadata key by name, the way
// filters address persisted payloads.
func (p *Payload) Field(key string) (any, bool) {
	switch key {
	case "text":
		return p.Text, true
	case "level":
		return string(p.Tier), true
	case "timestamp":
		return p.Timestamp, true
	case "agent_id":
		return p.AgentID, true
	case "session_id":
		if p.SessionID == "" {
			return nil, false
		}
		return p.SessionID, true
	}
	v, ok := p.Metadata[key]
	return v, ok
}

// SearchParams configures a similarity query.
type SearchParams struct {
	Vector         []float32
	Limit          int
	ScoreThreshold *float32
	Filter         *Filter
	WithPayload    bool
	WithVector     bool
}

// SearchResult is one hit, highest-score first in a result list.
type SearchResult struct {
	ID      uuid.UUID
	Score   float32
	Payload *Payload
	Vector  []float32
}

// Filter combines conditions: all of Must, at least one of Should, none of
// MustNot.
type Filter struct {
	Must    []Condition
	Should  []Condition
	MustNot []Condition
}

// Condition is a single predicate; exactly one branch is set.
type Condition struct {
	Match *MatchCondition
	Range *RangeCondition
	HasID []uuid.UUID
}

// MatchCondition is equality on a payload field.
type MatchCondition struct {
	Key   string
	Value any
}

// RangeCondition is a numeric bound on a payload field. Nil bounds are open.
type RangeCondition struct {
	Key string
	Gte *float64
	Lte *float64
}

// NewFilter returns an empty filter for builder-style construction.
func NewFilter() *Filter { return &Filter{} }

// WithMust appends a required condition.
func (f *Filter) WithMust(c Condition) *Filter {
	f.Must = append(f.Must, c)
	return f
}

// WithShould appends an alternative condition.
func (f *Filter) WithShould(c Condition) *Filter {
	f.Should = append(f.Should, c)
	return f
}

// WithMustNot appends an excluded condition.
func (f *Filter) WithMustNot(c Condition) *Filter {
	f.MustNot = append(f.MustNot, c)
	return f
}

// Match builds an equality condition.
func Match(key string, value any) Condition {
	return Condition{Match: &MatchCondition{Key: key, Value: value}}
}

// RangeLte builds an upper-bounded range condition.
func RangeLte(key string, lte float64) Condition {
	return Condition{Range: &RangeCondition{Key: key, Lte: &lte}}
}

// RangeGte builds a lower-bounded range condition.
func RangeGte(key string, gte float64) Condition {
	return Condition{Range: &RangeCondition{Key: key, Gte: &gte}}
}

// HasID builds an id-membership condition.
func HasID(ids ...uuid.UUID) Condition {
	return Condition{HasID: ids}
}
