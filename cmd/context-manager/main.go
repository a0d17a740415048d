// Command context-manager runs the hierarchical context retrieval service
// core: it wires the embedding client, vector index, and tier manager
// together and keeps the background garbage collector running until
// interrupted.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"hirag/internal/breaker"
	"hirag/internal/config"
	"hirag/internal/embedding"
	"hirag/internal/hirag"
	"hirag/internal/observability"
	"hirag/internal/tokenizer"
	"hirag/internal/vectorstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger is not configured yet; stderr is all we have.
		os.Stderr.WriteString("configuration error: " + err.Error() + "\n")
		os.Exit(1)
	}
	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := vectorstore.New(ctx, cfg.Vector)
	if err != nil {
		log.Fatal().Err(err).Msg("vector_store_init_failed")
	}
	defer store.Close()

	client, err := embedding.NewClient(cfg.EmbeddingClientConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("embedding_client_init_failed")
	}
	guard := breaker.New(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		OpenTimeout:      time.Duration(cfg.Breaker.OpenTimeoutSecs) * time.Second,
	})
	client.WithBreaker(guard)

	if cfg.Redis.Enabled {
		cache, err := embedding.NewRedisCache(cfg.Redis, time.Duration(cfg.Embedding.CacheTTLSecs)*time.Second)
		if err != nil {
			log.Fatal().Err(err).Msg("redis_cache_init_failed")
		}
		if cache != nil {
			defer cache.Close()
			client.WithCache(cache)
			log.Info().Str("addr", cfg.Redis.Addr).Msg("redis_embedding_cache_enabled")
		}
	}

	if err := client.Ping(ctx); err != nil {
		// Degraded start: retrieval will fail until the endpoint recovers,
		// but the breaker keeps the failures bounded.
		log.Warn().Err(err).Msg("embedding_endpoint_unreachable")
	}

	metrics := observability.NewOtelMetrics()
	estimator := tokenizer.New(cfg.Core.TokenEstimator)
	manager := hirag.NewManager(cfg.CoreConfig(), client, store, estimator).WithMetrics(metrics)

	if err := manager.Initialize(ctx); err != nil {
		log.Fatal().Err(err).Msg("manager_init_failed")
	}

	if cfg.GCEnabled() {
		gc := hirag.NewGC(store, cfg.GCConfig())
		go gc.Run(ctx)
	}

	// Periodically export breaker state and working-set gauges.
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := manager.Stats(ctx)
				metrics.SetGauge("embedding_circuit_breaker_state", guard.Gauge(), nil)
				metrics.SetGauge("hirag_l1_size", int64(stats.L1Size), nil)
				metrics.SetGauge("embedding_cache_size", int64(stats.EmbeddingCacheSize), nil)
				bs := guard.Stats()
				metrics.SetGauge("embedding_circuit_breaker_failures", int64(bs.CurrentFailures), nil)
			}
		}
	}()

	log.Info().Str("backend", cfg.Vector.Backend).Msg("context_manager_started")
	<-ctx.Done()
	log.Info().Msg("context_manager_shutting_down")
}
