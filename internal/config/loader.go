package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"

	"hirag/internal/hirag"
	"hirag/internal/tokenizer"
)

// Load reads configuration from environment variables (optionally .env),
// merges an optional YAML file, applies defaults, and validates. The file
// path can be specified with HIRAG_CONFIG; otherwise config.yaml/config.yml
// in the working directory are tried.
func Load() (Config, error) {
	// Use Overload so .env values override existing OS environment variables:
	// repository-local configuration deterministically controls development
	// runs unless explicitly changed.
	_ = godotenv.Overload()

	cfg := Config{}
	if err := mergeYAML(&cfg); err != nil {
		return Config{}, err
	}

	cfg.LogPath = firstNonEmpty(strings.TrimSpace(os.Getenv("LOG_PATH")), cfg.LogPath)
	cfg.LogLevel = firstNonEmpty(strings.TrimSpace(os.Getenv("LOG_LEVEL")), cfg.LogLevel)

	// Embedding service configuration via environment variables
	if v := strings.TrimSpace(os.Getenv("EMBED_API_URL")); v != "" {
		cfg.Embedding.APIURL = v
	}
	if v := strings.TrimSpace(os.Getenv("EMBED_API_TOKEN")); v != "" {
		cfg.Embedding.APIToken = v
	}
	if v := strings.TrimSpace(os.Getenv("EMBED_MODEL")); v != "" {
		cfg.Embedding.Model = v
	}
	setInt(&cfg.Embedding.Dimension, "EMBED_DIMENSION")
	setInt(&cfg.Embedding.BatchSize, "EMBED_BATCH_SIZE")
	setInt(&cfg.Embedding.TimeoutSecs, "EMBED_TIMEOUT")
	setInt(&cfg.Embedding.MaxRetries, "EMBED_MAX_RETRIES")
	setBoolPtr(&cfg.Embedding.CacheEnabled, "EMBED_CACHE_ENABLED")
	setInt(&cfg.Embedding.CacheTTLSecs, "EMBED_CACHE_TTL")
	setInt(&cfg.Embedding.CacheSize, "EMBED_CACHE_SIZE")
	setBool(&cfg.Embedding.TLSEnabled, "EMBED_TLS_ENABLED")
	setBoolPtr(&cfg.Embedding.TLSVerify, "EMBED_TLS_VERIFY")

	setInt(&cfg.Breaker.FailureThreshold, "BREAKER_FAILURE_THRESHOLD")
	setInt(&cfg.Breaker.SuccessThreshold, "BREAKER_SUCCESS_THRESHOLD")
	setInt(&cfg.Breaker.OpenTimeoutSecs, "BREAKER_OPEN_TIMEOUT")

	// Vector index backend via environment variables
	if v := strings.TrimSpace(os.Getenv("VECTOR_BACKEND")); v != "" {
		cfg.Vector.Backend = v
	}
	if v := strings.TrimSpace(os.Getenv("VECTOR_URL")); v != "" {
		cfg.Vector.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("VECTOR_API_KEY")); v != "" {
		cfg.Vector.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("COLLECTION_PREFIX")); v != "" {
		cfg.Vector.CollectionPrefix = v
	}
	setInt(&cfg.Vector.VectorSize, "VECTOR_DIMENSIONS")
	if v := strings.TrimSpace(os.Getenv("VECTOR_METRIC")); v != "" {
		cfg.Vector.Distance = strings.ToLower(v)
	}
	setInt(&cfg.Vector.TimeoutSecs, "VECTOR_TIMEOUT")

	// Redis-backed embedding cache (optional)
	setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	if v := strings.TrimSpace(os.Getenv("REDIS_ADDR")); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	setInt(&cfg.Redis.DB, "REDIS_DB")

	// Core retrieval settings
	setInt(&cfg.Core.L1Size, "HIRAG_L1_SIZE")
	setBoolPtr(&cfg.Core.L3Enabled, "HIRAG_L3_ENABLED")
	setInt(&cfg.Core.MaxContextTokens, "HIRAG_MAX_CONTEXT_TOKENS")
	setFloat(&cfg.Core.RelevanceThreshold, "HIRAG_RELEVANCE_THRESHOLD")
	if v := strings.TrimSpace(os.Getenv("HIRAG_TOKEN_ESTIMATOR")); v != "" {
		cfg.Core.TokenEstimator.Strategy = tokenizer.Strategy(v)
	}
	setFloat(&cfg.Core.TokenEstimator.CharsPerToken, "HIRAG_CHARS_PER_TOKEN")
	setFloat(&cfg.Core.TokenEstimator.WordsPerToken, "HIRAG_WORDS_PER_TOKEN")
	setBoolPtr(&cfg.Core.GCEnabled, "GC_ENABLED")
	setInt(&cfg.Core.GCIntervalSecs, "GC_INTERVAL")
	setInt(&cfg.Core.L2TTLSecs, "L2_TTL_SECONDS")
	setInt(&cfg.Core.L3TTLSecs, "L3_TTL_SECONDS")

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func mergeYAML(cfg *Config) error {
	var paths []string
	if p := strings.TrimSpace(os.Getenv("HIRAG_CONFIG")); p != "" {
		paths = append(paths, p)
	}
	paths = append(paths, "config.yaml", "config.yml")
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("read %s: %w", p, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", p, err)
		}
		return nil
	}
	return nil // optional
}

func applyDefaults(cfg *Config) {
	if cfg.Embedding.APIURL == "" {
		cfg.Embedding.APIURL = "https://api.openai.com/v1/embeddings"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "multilingual-e5-large"
	}
	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = 1024
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 32
	}
	if cfg.Embedding.TimeoutSecs == 0 {
		cfg.Embedding.TimeoutSecs = 30
	}
	if cfg.Embedding.MaxRetries == 0 {
		cfg.Embedding.MaxRetries = 3
	}
	if cfg.Embedding.CacheTTLSecs == 0 {
		cfg.Embedding.CacheTTLSecs = 3600
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1000
	}

	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.SuccessThreshold == 0 {
		cfg.Breaker.SuccessThreshold = 2
	}
	if cfg.Breaker.OpenTimeoutSecs == 0 {
		cfg.Breaker.OpenTimeoutSecs = 60
	}

	if cfg.Vector.Backend == "" {
		cfg.Vector.Backend = "memory"
	}
	if cfg.Vector.CollectionPrefix == "" {
		cfg.Vector.CollectionPrefix = "contexts"
	}
	if cfg.Vector.VectorSize == 0 {
		cfg.Vector.VectorSize = cfg.Embedding.Dimension
	}
	if cfg.Vector.Distance == "" {
		cfg.Vector.Distance = "cosine"
	}
	if cfg.Vector.TimeoutSecs == 0 {
		cfg.Vector.TimeoutSecs = 10
	}

	if cfg.Core.L1Size == 0 {
		cfg.Core.L1Size = 10
	}
	if cfg.Core.MaxContextTokens == 0 {
		cfg.Core.MaxContextTokens = 4096
	}
	if cfg.Core.TokenEstimator.Strategy == "" {
		cfg.Core.TokenEstimator = tokenizer.DefaultConfig()
	}
	if cfg.Core.Strategy.Sum() == 0 {
		cfg.Core.Strategy = hirag.DefaultRetrievalStrategy()
	}
	if cfg.Core.Weights.Sum() == 0 {
		cfg.Core.Weights = hirag.DefaultRankingWeights()
	}
	if cfg.Core.GCIntervalSecs == 0 {
		cfg.Core.GCIntervalSecs = 300
	}
	if cfg.Core.L2TTLSecs == 0 {
		cfg.Core.L2TTLSecs = 3600
	}
	if cfg.Core.L3TTLSecs == 0 {
		cfg.Core.L3TTLSecs = 86400
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
	}
}

func setBoolPtr(dst **bool, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		b := strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
		*dst = &b
	}
}
