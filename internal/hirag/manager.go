package hirag

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"hirag/internal/observability"
	"hirag/internal/tokenizer"
	"hirag/internal/validation"
	"hirag/internal/vectorstore"
)

// Embedder is the slice of the embedding client the manager needs.
type Embedder interface {
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// CacheSizer is implemented by embedding clients that expose cache size.
type CacheSizer interface {
	CacheSize(ctx context.Context) int
}

// Config tunes the retrieval core.
type Config struct {
	CollectionPrefix   string
	L1Size             int
	L3Enabled          bool
	MaxContextTokens   int
	RelevanceThreshold float64
	Strategy           RetrievalStrategy
	Weights            RankingWeights
}

// DefaultConfig returns the core defaults.
func DefaultConfig() Config {
	return Config{
		CollectionPrefix:   "contexts",
		L1Size:             10,
		L3Enabled:          true,
		MaxContextTokens:   4096,
		RelevanceThreshold: 0,
		Strategy:           DefaultRetrievalStrategy(),
		Weights:            DefaultRankingWeights(),
	}
}

// Manager orchestrates ingest and retrieval across the three tiers. It owns
// each subsystem; children receive read-capable handles and mutate only
// through their own guarded methods.
type Manager struct {
	cfg       Config
	embedder  Embedder
	store     vectorstore.Store
	l1        *L1Cache
	retriever Retriever
	ranker    Ranker
	estimator tokenizer.Estimator
	metrics   observability.Metrics

	now func() time.Time
}

// NewManager wires the retrieval core together.
func NewManager(cfg Config, embedder Embedder, store vectorstore.Store, estimator tokenizer.Estimator) *Manager {
	if cfg.CollectionPrefix == "" {
		cfg.CollectionPrefix = "contexts"
	}
	if cfg.L1Size <= 0 {
		cfg.L1Size = 10
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = 4096
	}
	return &Manager{
		cfg:       cfg,
		embedder:  embedder,
		store:     store,
		l1:        NewL1Cache(cfg.L1Size),
		retriever: NewRetriever(store, estimator, cfg.Strategy, cfg.RelevanceThreshold),
		ranker:    NewRanker(cfg.Weights),
		estimator: estimator,
		now:       time.Now,
	}
}

// WithMetrics attaches a metrics sink.
func (m *Manager) WithMetrics(metrics observability.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// Initialize ensures all three tier collections exist. Idempotent.
func (m *Manager) Initialize(ctx context.Context) error {
	for _, tier := range vectorstore.AllTiers() {
		if err := m.store.CreateCollection(ctx, m.collection(tier)); err != nil {
			return fmt.Errorf("initialize %s: %w", m.collection(tier), err)
		}
	}
	log.Info().Str("prefix", m.cfg.CollectionPrefix).Msg("tier_collections_ready")
	return nil
}

func (m *Manager) collection(tier vectorstore.Tier) string {
	return tier.CollectionName(m.cfg.CollectionPrefix)
}

// StoreContext validates, embeds, and persists one context item, seeding the
// L1 cache for the Immediate tier. The VectorStore write happens before the
// L1 push: a concurrent query may observe neither, store-only, or both, never
// L1-only.
func (m *Manager) StoreContext(ctx context.Context, req StoreRequest) (uuid.UUID, error) {
	if !req.Tier.Valid() {
		return uuid.Nil, &validation.Error{Field: "tier", Reason: fmt.Sprintf("unknown tier %q", req.Tier)}
	}
	if req.Tier == vectorstore.TierLongTerm && !m.cfg.L3Enabled {
		return uuid.Nil, &validation.Error{Field: "tier", Reason: "long-term tier is disabled"}
	}
	if err := validation.Text("text", req.Text); err != nil {
		return uuid.Nil, err
	}
	if err := validation.Metadata(req.Metadata); err != nil {
		return uuid.Nil, err
	}

	vector, err := m.embedder.EmbedSingle(ctx, req.Text)
	if err != nil {
		return uuid.Nil, err
	}
	if err := validation.VectorDimension(len(vector), m.embedder.Dimension()); err != nil {
		return uuid.Nil, err
	}

	id := uuid.New()
	createdAt := m.now().Unix()
	agentID := req.AgentID
	if agentID == "" {
		agentID = "default"
	}

	point := vectorstore.Point{
		ID:     id,
		Vector: vector,
		Payload: vectorstore.Payload{
			Text:      req.Text,
			Tier:      req.Tier,
			Timestamp: createdAt,
			AgentID:   agentID,
			SessionID: req.SessionID,
			Metadata:  req.Metadata,
		},
	}
	if err := m.store.InsertPoints(ctx, m.collection(req.Tier), []vectorstore.Point{point}); err != nil {
		return uuid.Nil, fmt.Errorf("store context: %w", err)
	}

	if req.Tier == vectorstore.TierImmediate {
		m.l1.Put(Context{
			ID:             id,
			Text:           req.Text,
			Tier:           req.Tier,
			RelevanceScore: 1.0,
			TokenCount:     m.estimator.Estimate(req.Text),
			CreatedAt:      createdAt,
			Metadata:       req.Metadata,
		})
	}

	if m.metrics != nil {
		m.metrics.IncCounter("hirag_store_total", map[string]string{"tier": string(req.Tier)})
	}
	log.Debug().Str("context_id", id.String()).Str("tier", string(req.Tier)).Msg("context_stored")
	return id, nil
}

// tierCandidates is one tier's fetched-but-unbudgeted result set.
type tierCandidates struct {
	tier       vectorstore.Tier
	candidates []Context
}

// RetrieveContext embeds the query, fans out across the requested tiers with
// partial-failure tolerance, then dedups, ranks, and truncates to the token
// budget.
func (m *Manager) RetrieveContext(ctx context.Context, req RetrieveRequest) (*RetrieveResponse, error) {
	start := m.now()

	if err := validation.Text("query", req.Query); err != nil {
		return nil, err
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = m.cfg.MaxContextTokens
	}
	if err := validation.TokenBudget(maxTokens); err != nil {
		return nil, err
	}
	tiers := req.Tiers
	if len(tiers) == 0 {
		tiers = vectorstore.AllTiers()
		if !m.cfg.L3Enabled {
			tiers = tiers[:2]
		}
	}
	for _, tier := range tiers {
		if !tier.Valid() {
			return nil, &validation.Error{Field: "tiers", Reason: fmt.Sprintf("unknown tier %q", tier)}
		}
	}

	queryVector, err := m.embedder.EmbedSingle(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	// Fetch candidates: the L1 read runs on the caller, vector-store tiers
	// fan out in parallel. A tier's failure is demoted to a warning so the
	// query still returns whatever succeeded.
	perTier := make(map[vectorstore.Tier][]Context, len(tiers))
	cacheHits := 0
	g, gctx := errgroup.WithContext(ctx)
	results := make(chan tierCandidates, len(tiers))
	for _, tier := range tiers {
		if tier == vectorstore.TierImmediate {
			perTier[tier] = m.l1.Snapshot()
			if len(perTier[tier]) > 0 {
				cacheHits = 1
			}
			continue
		}
		tier := tier
		g.Go(func() error {
			candidates, err := m.retriever.FetchCandidates(gctx, m.collection(tier), queryVector, req.Filter)
			if err != nil {
				log.Warn().Err(err).Str("tier", string(tier)).Msg("tier_retrieval_failed")
				if m.metrics != nil {
					m.metrics.IncCounter("hirag_tier_failures_total", map[string]string{"tier": string(tier)})
				}
				return nil
			}
			results <- tierCandidates{tier: tier, candidates: candidates}
			return nil
		})
	}
	_ = g.Wait()
	close(results)
	for r := range results {
		perTier[r.tier] = r.candidates
	}

	available := func(t vectorstore.Tier) int { return len(perTier[t]) }
	l1Budget, l2Budget, l3Budget := m.retriever.DynamicAllocations(
		maxTokens,
		available(vectorstore.TierImmediate),
		available(vectorstore.TierShortTerm),
		available(vectorstore.TierLongTerm),
	)
	budgets := map[vectorstore.Tier]int{
		vectorstore.TierImmediate: l1Budget,
		vectorstore.TierShortTerm: l2Budget,
		vectorstore.TierLongTerm:  l3Budget,
	}

	totalSearched := 0
	merged := make([]Context, 0, searchLimit)
	for _, tier := range vectorstore.AllTiers() {
		candidates, ok := perTier[tier]
		if !ok {
			continue
		}
		totalSearched += len(candidates)
		if tier == vectorstore.TierImmediate {
			// L1 reads newest-first under a strict token bound; the
			// min-contexts floor applies to vector-store tiers only.
			merged = append(merged, m.l1.Read(budgets[tier])...)
			continue
		}
		merged = append(merged, m.retriever.TakeWithinBudget(candidates, budgets[tier])...)
	}

	merged = deduplicate(merged)
	merged = m.ranker.Rank(merged, m.now().Unix())

	final := make([]Context, 0, len(merged))
	totalTokens := 0
	for _, c := range merged {
		if totalTokens+c.TokenCount > maxTokens {
			break
		}
		totalTokens += c.TokenCount
		final = append(final, c)
	}

	distribution := make(map[vectorstore.Tier]int)
	var relevanceSum float32
	for _, c := range final {
		distribution[c.Tier]++
		relevanceSum += c.RelevanceScore
	}
	var avgRelevance float32
	if len(final) > 0 {
		avgRelevance = relevanceSum / float32(len(final))
	}

	elapsed := m.now().Sub(start)
	if m.metrics != nil {
		m.metrics.IncCounter("hirag_retrieve_total", nil)
		m.metrics.ObserveHistogram("hirag_retrieve_duration_ms", float64(elapsed.Milliseconds()), nil)
		if cacheHits > 0 {
			m.metrics.IncCounter("hirag_l1_cache_hits_total", nil)
		}
	}
	log.Debug().Int("contexts", len(final)).Int("total_tokens", totalTokens).
		Dur("elapsed", elapsed).Msg("context_retrieved")

	return &RetrieveResponse{
		Contexts:        final,
		TotalTokens:     totalTokens,
		RetrievalTimeMs: elapsed.Milliseconds(),
		Metadata: ResponseMetadata{
			TierDistribution: distribution,
			AvgRelevance:     avgRelevance,
			CacheHits:        cacheHits,
			TotalSearched:    totalSearched,
		},
	}, nil
}

// UpdateContext merges metadata into an existing context (last-writer-wins
// per key), refreshes its timestamp, and reinserts it. Fails with ErrNotFound
// when the id is absent from every tier.
func (m *Manager) UpdateContext(ctx context.Context, id uuid.UUID, metadata map[string]any) error {
	if err := validation.Metadata(metadata); err != nil {
		return err
	}

	for _, tier := range vectorstore.AllTiers() {
		collection := m.collection(tier)
		point, err := m.store.GetPoint(ctx, collection, id)
		if err != nil {
			return fmt.Errorf("lookup context in %s: %w", collection, err)
		}
		if point == nil {
			continue
		}

		if point.Payload.Metadata == nil {
			point.Payload.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			point.Payload.Metadata[k] = v
		}
		point.Payload.Timestamp = m.now().Unix()

		if err := m.store.InsertPoints(ctx, collection, []vectorstore.Point{*point}); err != nil {
			return fmt.Errorf("update context: %w", err)
		}

		if tier == vectorstore.TierImmediate {
			m.l1.Put(Context{
				ID:             point.ID,
				Text:           point.Payload.Text,
				Tier:           point.Payload.Tier,
				RelevanceScore: 1.0,
				TokenCount:     m.estimator.Estimate(point.Payload.Text),
				CreatedAt:      point.Payload.Timestamp,
				Metadata:       point.Payload.Metadata,
			})
		}
		log.Debug().Str("context_id", id.String()).Str("collection", collection).Msg("context_updated")
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// DeleteContext removes a context from every tier collection and from L1.
// Absence is success.
func (m *Manager) DeleteContext(ctx context.Context, id uuid.UUID) error {
	for _, tier := range vectorstore.AllTiers() {
		if err := m.store.DeletePoints(ctx, m.collection(tier), []uuid.UUID{id}); err != nil {
			log.Warn().Err(err).Str("collection", m.collection(tier)).Msg("context_delete_failed")
		}
	}
	m.l1.Remove(id)
	log.Debug().Str("context_id", id.String()).Msg("context_deleted")
	return nil
}

// ClearTier deletes and recreates a tier collection; for Immediate it also
// empties L1.
func (m *Manager) ClearTier(ctx context.Context, tier vectorstore.Tier) error {
	if !tier.Valid() {
		return &validation.Error{Field: "tier", Reason: fmt.Sprintf("unknown tier %q", tier)}
	}
	collection := m.collection(tier)
	if err := m.store.DeleteCollection(ctx, collection); err != nil {
		log.Warn().Err(err).Str("collection", collection).Msg("tier_clear_delete_failed")
	}
	if err := m.store.CreateCollection(ctx, collection); err != nil {
		return fmt.Errorf("recreate %s: %w", collection, err)
	}
	if tier == vectorstore.TierImmediate {
		m.l1.Clear()
	}
	log.Info().Str("tier", string(tier)).Msg("tier_cleared")
	return nil
}

// Stats snapshots the manager's working state.
func (m *Manager) Stats(ctx context.Context) Stats {
	s := Stats{L1Size: m.l1.Len()}
	if sizer, ok := m.embedder.(CacheSizer); ok {
		s.EmbeddingCacheSize = sizer.CacheSize(ctx)
	}
	return s
}

// L1 exposes the immediate-tier cache.
func (m *Manager) L1() *L1Cache { return m.l1 }

func deduplicate(contexts []Context) []Context {
	seen := make(map[uuid.UUID]struct{}, len(contexts))
	out := contexts[:0]
	for _, c := range contexts {
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}
