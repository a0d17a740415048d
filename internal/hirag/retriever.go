package hirag

import (
	"context"

	"github.com/rs/zerolog/log"

	"hirag/internal/tokenizer"
	"hirag/internal/vectorstore"
)

// searchLimit is the generous per-tier candidate cap; the token budget does
// the real shaping.
const searchLimit = 100

// RetrievalStrategy splits the token budget across tiers. Allocations must
// sum to 1.0±0.01.
type RetrievalStrategy struct {
	L1Allocation       float64 `yaml:"l1Allocation"`
	L2Allocation       float64 `yaml:"l2Allocation"`
	L3Allocation       float64 `yaml:"l3Allocation"`
	MinContextsPerTier int     `yaml:"minContextsPerTier"`
}

// DefaultRetrievalStrategy biases toward the immediate tier.
func DefaultRetrievalStrategy() RetrievalStrategy {
	return RetrievalStrategy{L1Allocation: 0.4, L2Allocation: 0.3, L3Allocation: 0.3, MinContextsPerTier: 1}
}

// Sum returns the allocation total.
func (s RetrievalStrategy) Sum() float64 {
	return s.L1Allocation + s.L2Allocation + s.L3Allocation
}

// Retriever owns per-tier search and the token-allocation math.
type Retriever struct {
	store     vectorstore.Store
	estimator tokenizer.Estimator
	strategy  RetrievalStrategy
	threshold *float32
}

// NewRetriever builds a Retriever. A positive relevanceThreshold becomes the
// score floor for tier searches.
func NewRetriever(store vectorstore.Store, estimator tokenizer.Estimator, strategy RetrievalStrategy, relevanceThreshold float64) Retriever {
	r := Retriever{store: store, estimator: estimator, strategy: strategy}
	if relevanceThreshold > 0 {
		t := float32(relevanceThreshold)
		r.threshold = &t
	}
	return r
}

// Allocations returns the static per-tier token budgets: floor(max*aᵢ).
func (r Retriever) Allocations(maxTokens int) (l1, l2, l3 int) {
	l1 = int(float64(maxTokens) * r.strategy.L1Allocation)
	l2 = int(float64(maxTokens) * r.strategy.L2Allocation)
	l3 = int(float64(maxTokens) * r.strategy.L3Allocation)
	return l1, l2, l3
}

// DynamicAllocations redistributes the budget of tiers with zero available
// contexts equally among the tiers that have any.
func (r Retriever) DynamicAllocations(maxTokens, l1Available, l2Available, l3Available int) (l1, l2, l3 int) {
	l1, l2, l3 = r.Allocations(maxTokens)

	unused := 0
	active := 0
	if l1Available == 0 {
		unused += l1
		l1 = 0
	} else {
		active++
	}
	if l2Available == 0 {
		unused += l2
		l2 = 0
	} else {
		active++
	}
	if l3Available == 0 {
		unused += l3
		l3 = 0
	} else {
		active++
	}
	if active == 0 || unused == 0 {
		return l1, l2, l3
	}

	share := unused / active
	if l1Available > 0 {
		l1 += share
	}
	if l2Available > 0 {
		l2 += share
	}
	if l3Available > 0 {
		l3 += share
	}
	return l1, l2, l3
}

// FetchCandidates searches one tier collection and converts hits to contexts
// in descending-score order, with token counts estimated.
func (r Retriever) FetchCandidates(ctx context.Context, collection string, queryVector []float32, filter *vectorstore.Filter) ([]Context, error) {
	results, err := r.store.Search(ctx, collection, vectorstore.SearchParams{
		Vector:         queryVector,
		Limit:          searchLimit,
		ScoreThreshold: r.threshold,
		Filter:         filter,
		WithPayload:    true,
		WithVector:     false,
	})
	if err != nil {
		return nil, err
	}
	contexts := make([]Context, 0, len(results))
	for _, hit := range results {
		if hit.Payload == nil {
			continue
		}
		contexts = append(contexts, Context{
			ID:             hit.ID,
			Text:           hit.Payload.Text,
			Tier:           hit.Payload.Tier,
			RelevanceScore: hit.Score,
			TokenCount:     r.estimator.Estimate(hit.Payload.Text),
			CreatedAt:      hit.Payload.Timestamp,
			Metadata:       hit.Payload.Metadata,
		})
	}
	log.Debug().Str("collection", collection).Int("candidates", len(contexts)).Msg("tier_candidates_fetched")
	return contexts, nil
}

// TakeWithinBudget walks candidates in order, accumulating until the next
// inclusion would exceed the tier budget. At least MinContextsPerTier
// candidates are admitted when available; the global budget truncation still
// bounds the final response.
func (r Retriever) TakeWithinBudget(candidates []Context, maxTokens int) []Context {
	out := make([]Context, 0, len(candidates))
	total := 0
	for _, c := range candidates {
		if total+c.TokenCount > maxTokens {
			if len(out) < r.strategy.MinContextsPerTier {
				total += c.TokenCount
				out = append(out, c)
				continue
			}
			break
		}
		total += c.TokenCount
		out = append(out, c)
	}
	return out
}
