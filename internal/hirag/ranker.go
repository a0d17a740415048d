package hirag

import (
	"math"
	"sort"

	"hirag/internal/vectorstore"
)

// RankingWeights blend the four scoring signals. They must sum to 1.0±0.01.
type RankingWeights struct {
	Similarity float64 `yaml:"similarity"`
	Recency    float64 `yaml:"recency"`
	Tier       float64 `yaml:"tier"`
	Frequency  float64 `yaml:"frequency"`
}

// DefaultRankingWeights favor similarity while keeping freshness relevant.
func DefaultRankingWeights() RankingWeights {
	return RankingWeights{Similarity: 0.5, Recency: 0.2, Tier: 0.2, Frequency: 0.1}
}

// Sum returns the weight total.
func (w RankingWeights) Sum() float64 {
	return w.Similarity + w.Recency + w.Tier + w.Frequency
}

// Ranker computes composite scores and orders contexts by them.
type Ranker struct {
	weights RankingWeights
}

// NewRanker builds a Ranker with the given weights.
func NewRanker(weights RankingWeights) Ranker {
	return Ranker{weights: weights}
}

// Rank scores every context at the given time and sorts descending, ties
// broken by newer CreatedAt first.
func (r Ranker) Rank(contexts []Context, now int64) []Context {
	for i := range contexts {
		contexts[i].RelevanceScore = r.Score(&contexts[i], now)
	}
	sort.SliceStable(contexts, func(i, j int) bool {
		if contexts[i].RelevanceScore != contexts[j].RelevanceScore {
			return contexts[i].RelevanceScore > contexts[j].RelevanceScore
		}
		return contexts[i].CreatedAt > contexts[j].CreatedAt
	})
	return contexts
}

// Score blends similarity, recency, tier, and frequency with the configured
// weights. The context's RelevanceScore holds the similarity signal on entry.
func (r Ranker) Score(c *Context, now int64) float32 {
	sim := float64(c.RelevanceScore)
	rec := recencyScore(c.CreatedAt, now)
	tier := tierScore(c.Tier)
	freq := frequencyScore(c.Metadata)

	score := sim*r.weights.Similarity +
		rec*r.weights.Recency +
		tier*r.weights.Tier +
		freq*r.weights.Frequency
	return float32(score)
}

// recencyScore decays exponentially: e^(-age_hours/24). After 24 hours the
// score is ~0.37, after 48 hours ~0.14.
func recencyScore(createdAt, now int64) float64 {
	age := now - createdAt
	if age < 0 {
		age = 0
	}
	ageHours := float64(age) / 3600.0
	return math.Exp(-ageHours / 24.0)
}

func tierScore(tier vectorstore.Tier) float64 {
	switch tier {
	case vectorstore.TierImmediate:
		return 1.0
	case vectorstore.TierShortTerm:
		return 0.7
	case vectorstore.TierLongTerm:
		return 0.5
	default:
		return 0.0
	}
}

// frequencyScore scales logarithmically: log10(1+n)/log10(101), reaching 1.0
// at 100 accesses. The access count is externally maintained metadata;
// absence degrades to 0.
func frequencyScore(metadata map[string]any) float64 {
	raw, ok := metadata["access_count"]
	if !ok {
		return 0.0
	}
	n, ok := toFloat(raw)
	if !ok || n <= 0 {
		return 0.0
	}
	score := math.Log10(1+n) / math.Log10(101)
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
