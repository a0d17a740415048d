package hirag

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"hirag/internal/vectorstore"
)

const (
	// gcScanLimit bounds one GC sweep per tier per cycle.
	gcScanLimit = 1000
	// gcDeleteBatch bounds one delete call.
	gcDeleteBatch = 100
)

// GCConfig tunes the background garbage collector.
type GCConfig struct {
	Interval   time.Duration
	L2TTL      time.Duration
	L3TTL      time.Duration
	L3Enabled  bool
	Prefix     string
	VectorSize int
}

// DefaultGCConfig sweeps every 5 minutes; L2 entries live an hour, L3 a day.
func DefaultGCConfig() GCConfig {
	return GCConfig{
		Interval:   5 * time.Minute,
		L2TTL:      time.Hour,
		L3TTL:      24 * time.Hour,
		L3Enabled:  true,
		Prefix:     "contexts",
		VectorSize: 1024,
	}
}

// GC periodically deletes tier entries past their TTL in bounded batches.
// It is idempotent and best-effort: errors are logged and the next cycle
// continues. It never touches L1, whose eviction is size-based.
type GC struct {
	store vectorstore.Store
	cfg   GCConfig

	now func() time.Time
}

// NewGC builds a garbage collector over the tier collections.
func NewGC(store vectorstore.Store, cfg GCConfig) *GC {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "contexts"
	}
	return &GC{store: store, cfg: cfg, now: time.Now}
}

// Run loops until ctx is cancelled, sweeping at the configured interval.
func (g *GC) Run(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()
	log.Info().Dur("interval", g.cfg.Interval).Msg("gc_started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("gc_stopped")
			return
		case <-ticker.C:
			g.Sweep(ctx)
		}
	}
}

// Sweep runs one GC cycle over the enabled tiers.
func (g *GC) Sweep(ctx context.Context) {
	if deleted, err := g.sweepTier(ctx, vectorstore.TierShortTerm, g.cfg.L2TTL); err != nil {
		log.Error().Err(err).Msg("gc_l2_sweep_failed")
	} else if deleted > 0 {
		log.Info().Int("deleted", deleted).Msg("gc_l2_swept")
	}
	if g.cfg.L3Enabled {
		if deleted, err := g.sweepTier(ctx, vectorstore.TierLongTerm, g.cfg.L3TTL); err != nil {
			log.Error().Err(err).Msg("gc_l3_sweep_failed")
		} else if deleted > 0 {
			log.Info().Int("deleted", deleted).Msg("gc_l3_swept")
		}
	}
}

// sweepTier finds entries older than the tier TTL and deletes them in
// chunks. A failed chunk is skipped; the rest still delete.
func (g *GC) sweepTier(ctx context.Context, tier vectorstore.Tier, ttl time.Duration) (int, error) {
	cutoff := g.now().Add(-ttl).Unix()
	collection := tier.CollectionName(g.cfg.Prefix)

	filter := vectorstore.NewFilter().
		WithMust(vectorstore.Match("level", string(tier))).
		WithMust(vectorstore.RangeLte("timestamp", float64(cutoff)))

	// Filter-only search: the dummy zero vector carries no similarity signal.
	results, err := g.store.Search(ctx, collection, vectorstore.SearchParams{
		Vector:      make([]float32, g.cfg.VectorSize),
		Limit:       gcScanLimit,
		Filter:      filter,
		WithPayload: false,
		WithVector:  false,
	})
	if err != nil {
		return 0, fmt.Errorf("scan expired contexts: %w", err)
	}
	if len(results) == 0 {
		return 0, nil
	}

	ids := make([]uuid.UUID, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.ID)
	}

	deleted := 0
	for start := 0; start < len(ids); start += gcDeleteBatch {
		end := start + gcDeleteBatch
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		if err := g.store.DeletePoints(ctx, collection, chunk); err != nil {
			log.Warn().Err(err).Int("batch", len(chunk)).Str("collection", collection).
				Msg("gc_delete_batch_failed")
			continue
		}
		deleted += len(chunk)
	}
	log.Debug().Int("found", len(ids)).Int("deleted", deleted).Int64("cutoff", cutoff).
		Str("collection", collection).Msg("gc_tier_swept")
	return deleted, nil
}
