// Package config loads service configuration from environment variables
// (optionally a .env file) merged with an optional config.yaml.
package config

import (
	"fmt"
	"math"
	"time"

	"hirag/internal/embedding"
	"hirag/internal/hirag"
	"hirag/internal/tokenizer"
	"hirag/internal/vectorstore"
)

// EmbeddingSettings configures the embedding API client.
type EmbeddingSettings struct {
	APIURL       string  `yaml:"apiURL"`
	APIToken     string  `yaml:"apiToken"`
	Model        string  `yaml:"model"`
	Dimension    int     `yaml:"dimension"`
	BatchSize    int     `yaml:"batchSize"`
	TimeoutSecs  int     `yaml:"timeoutSeconds"`
	MaxRetries   int     `yaml:"maxRetries"`
	CacheEnabled *bool   `yaml:"cacheEnabled"`
	CacheTTLSecs int     `yaml:"cacheTTLSeconds"`
	CacheSize    int     `yaml:"cacheSize"`
	TLSEnabled   bool    `yaml:"tlsEnabled"`
	TLSVerify    *bool   `yaml:"tlsVerify"`
}

// BreakerSettings configures the embedding circuit breaker.
type BreakerSettings struct {
	FailureThreshold int `yaml:"failureThreshold"`
	SuccessThreshold int `yaml:"successThreshold"`
	OpenTimeoutSecs  int `yaml:"openTimeoutSeconds"`
}

// CoreSettings configures the retrieval core.
type CoreSettings struct {
	CollectionPrefix   string                  `yaml:"collectionPrefix"`
	L1Size             int                     `yaml:"l1Size"`
	L3Enabled          *bool                   `yaml:"l3Enabled"`
	MaxContextTokens   int                     `yaml:"maxContextTokens"`
	RelevanceThreshold float64                 `yaml:"relevanceThreshold"`
	TokenEstimator     tokenizer.Config        `yaml:"tokenEstimator"`
	Strategy           hirag.RetrievalStrategy `yaml:"retrievalStrategy"`
	Weights            hirag.RankingWeights    `yaml:"rankingWeights"`
	GCEnabled          *bool                   `yaml:"gcEnabled"`
	GCIntervalSecs     int                     `yaml:"gcIntervalSeconds"`
	L2TTLSecs          int                     `yaml:"l2TTLSeconds"`
	L3TTLSecs          int                     `yaml:"l3TTLSeconds"`
}

// Config is the full service configuration.
type Config struct {
	LogPath  string `yaml:"logPath"`
	LogLevel string `yaml:"logLevel"`

	Embedding EmbeddingSettings     `yaml:"embedding"`
	Breaker   BreakerSettings       `yaml:"circuitBreaker"`
	Vector    vectorstore.Config    `yaml:"vector"`
	Redis     embedding.RedisConfig `yaml:"redis"`
	Core      CoreSettings          `yaml:"hirag"`
}

// EmbeddingClientConfig converts the settings into the client's config.
func (c Config) EmbeddingClientConfig() embedding.Config {
	cacheEnabled := true
	if c.Embedding.CacheEnabled != nil {
		cacheEnabled = *c.Embedding.CacheEnabled
	}
	tlsVerify := true
	if c.Embedding.TLSVerify != nil {
		tlsVerify = *c.Embedding.TLSVerify
	}
	return embedding.Config{
		APIURL:       c.Embedding.APIURL,
		APIToken:     c.Embedding.APIToken,
		Model:        c.Embedding.Model,
		Dimension:    c.Embedding.Dimension,
		BatchSize:    c.Embedding.BatchSize,
		Timeout:      time.Duration(c.Embedding.TimeoutSecs) * time.Second,
		MaxRetries:   c.Embedding.MaxRetries,
		CacheEnabled: cacheEnabled,
		CacheTTL:     time.Duration(c.Embedding.CacheTTLSecs) * time.Second,
		CacheSize:    c.Embedding.CacheSize,
		TLSEnabled:   c.Embedding.TLSEnabled,
		TLSVerify:    tlsVerify,
	}
}

// CoreConfig converts the settings into the manager's config.
func (c Config) CoreConfig() hirag.Config {
	l3Enabled := true
	if c.Core.L3Enabled != nil {
		l3Enabled = *c.Core.L3Enabled
	}
	return hirag.Config{
		CollectionPrefix:   c.Vector.CollectionPrefix,
		L1Size:             c.Core.L1Size,
		L3Enabled:          l3Enabled,
		MaxContextTokens:   c.Core.MaxContextTokens,
		RelevanceThreshold: c.Core.RelevanceThreshold,
		Strategy:           c.Core.Strategy,
		Weights:            c.Core.Weights,
	}
}

// GCConfig converts the settings into the garbage collector's config.
func (c Config) GCConfig() hirag.GCConfig {
	l3Enabled := true
	if c.Core.L3Enabled != nil {
		l3Enabled = *c.Core.L3Enabled
	}
	return hirag.GCConfig{
		Interval:   time.Duration(c.Core.GCIntervalSecs) * time.Second,
		L2TTL:      time.Duration(c.Core.L2TTLSecs) * time.Second,
		L3TTL:      time.Duration(c.Core.L3TTLSecs) * time.Second,
		L3Enabled:  l3Enabled,
		Prefix:     c.Vector.CollectionPrefix,
		VectorSize: c.Vector.VectorSize,
	}
}

// GCEnabled reports whether the background GC should run.
func (c Config) GCEnabled() bool {
	if c.Core.GCEnabled != nil {
		return *c.Core.GCEnabled
	}
	return true
}

// Validate rejects out-of-range settings. Configuration errors are fatal at
// startup and never surface as per-request errors.
func (c Config) Validate() error {
	e := c.Embedding
	if e.APIURL == "" {
		return fmt.Errorf("embedding.apiURL is required")
	}
	if e.BatchSize < 1 || e.BatchSize > 1000 {
		return fmt.Errorf("embedding.batchSize must be in 1..1000 (got %d)", e.BatchSize)
	}
	if e.TimeoutSecs < 1 || e.TimeoutSecs > 300 {
		return fmt.Errorf("embedding.timeoutSeconds must be in 1..300 (got %d)", e.TimeoutSecs)
	}
	if e.MaxRetries < 0 || e.MaxRetries > 10 {
		return fmt.Errorf("embedding.maxRetries must be in 0..10 (got %d)", e.MaxRetries)
	}
	if e.TLSEnabled && e.TLSVerify != nil && !*e.TLSVerify {
		return fmt.Errorf("embedding.tlsVerify cannot be disabled")
	}

	if c.Vector.VectorSize < 1 || c.Vector.VectorSize > 4096 {
		return fmt.Errorf("vector.vectorSize must be in 1..4096 (got %d)", c.Vector.VectorSize)
	}
	switch c.Vector.Distance {
	case "", "cosine", "euclidean", "dot":
	default:
		return fmt.Errorf("vector.distance must be cosine, euclidean, or dot (got %q)", c.Vector.Distance)
	}
	if e.Dimension != 0 && e.Dimension != c.Vector.VectorSize {
		return fmt.Errorf("embedding.dimension %d does not match vector.vectorSize %d", e.Dimension, c.Vector.VectorSize)
	}

	core := c.Core
	if core.L1Size < 1 {
		return fmt.Errorf("hirag.l1Size must be positive (got %d)", core.L1Size)
	}
	if core.RelevanceThreshold < 0 || core.RelevanceThreshold > 1 {
		return fmt.Errorf("hirag.relevanceThreshold must be in 0..1 (got %g)", core.RelevanceThreshold)
	}
	if sum := core.Strategy.Sum(); math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("hirag.retrievalStrategy allocations must sum to 1.0 (got %g)", sum)
	}
	if sum := core.Weights.Sum(); math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("hirag.rankingWeights must sum to 1.0 (got %g)", sum)
	}
	if core.GCIntervalSecs < 1 {
		return fmt.Errorf("hirag.gcIntervalSeconds must be positive (got %d)", core.GCIntervalSecs)
	}
	if core.L2TTLSecs < 1 || core.L3TTLSecs < 1 {
		return fmt.Errorf("hirag tier TTLs must be positive")
	}
	return nil
}
