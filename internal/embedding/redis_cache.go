package embedding

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisConfig connects the Redis-backed embedding cache.
type RedisConfig struct {
	Enabled               bool   `yaml:"enabled"`
	Addr                  string `yaml:"addr"`
	Password              string `yaml:"password"`
	DB                    int    `yaml:"db"`
	TLSInsecureSkipVerify bool   `yaml:"tlsInsecureSkipVerify"`
}

// RedisCache shares embedding vectors across replicas. All failures degrade
// to cache misses so the embedding client keeps working without Redis.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisCache builds a Redis-backed cache when enabled. Returns nil when
// disabled.
func NewRedisCache(cfg RedisConfig, ttl time.Duration) (*RedisCache, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLSInsecureSkipVerify {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis embedding cache ping: %w", err)
	}
	if ttl <= 0 {
		ttl = 1 * time.Hour
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

func (c *RedisCache) Get(ctx context.Context, fingerprint string) ([]float32, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	// GETEX refreshes the idle window on access: half the TTL, mirroring the
	// in-memory cache's idle expiry.
	val, err := c.client.GetEx(ctx, fingerprint, c.ttl/2).Result()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Str("key", fingerprint).Msg("redis_embedding_cache_get_error")
		}
		return nil, false
	}
	var vector []float32
	if err := json.Unmarshal([]byte(val), &vector); err != nil {
		log.Debug().Err(err).Str("key", fingerprint).Msg("redis_embedding_cache_unmarshal_error")
		return nil, false
	}
	return vector, true
}

func (c *RedisCache) Put(ctx context.Context, fingerprint string, vector []float32) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(vector)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, fingerprint, data, c.ttl).Err(); err != nil {
		log.Debug().Err(err).Str("key", fingerprint).Msg("redis_embedding_cache_set_error")
	}
}

func (c *RedisCache) Clear(ctx context.Context) {
	if c == nil || c.client == nil {
		return
	}
	iter := c.client.Scan(ctx, 0, "emb_*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			log.Debug().Err(err).Str("key", iter.Val()).Msg("redis_embedding_cache_clear_error")
		}
	}
}

func (c *RedisCache) Size(ctx context.Context) int {
	if c == nil || c.client == nil {
		return 0
	}
	count := 0
	iter := c.client.Scan(ctx, 0, "emb_*", 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	return count
}

// Close closes the Redis client connection.
func (c *RedisCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
