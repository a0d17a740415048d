package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// Config selects and parameterizes a vector index backend.
type Config struct {
	// Backend is one of "memory", "qdrant", "postgres".
	Backend string `yaml:"backend"`
	// URL is the backend DSN (ignored by the memory backend).
	URL string `yaml:"url"`
	// APIKey optionally authenticates the backend connection.
	APIKey string `yaml:"apiKey"`
	// CollectionPrefix names tier collections: "{prefix}_{tier}".
	CollectionPrefix string `yaml:"collectionPrefix"`
	// VectorSize is the embedding dimension (1..4096).
	VectorSize int `yaml:"vectorSize"`
	// Distance is one of "cosine", "euclidean", "dot".
	Distance string `yaml:"distance"`
	// TimeoutSecs bounds backend calls.
	TimeoutSecs int `yaml:"timeoutSeconds"`
}

// New resolves a Store from configuration.
func New(ctx context.Context, cfg Config) (Store, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	switch backend {
	case "", "memory":
		log.Debug().Msg("vector_store_memory_backend")
		return NewMemory(), nil
	case "qdrant":
		dsn := cfg.URL
		if cfg.APIKey != "" && !strings.Contains(dsn, "api_key=") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn = dsn + sep + "api_key=" + cfg.APIKey
		}
		return NewQdrant(dsn, cfg.VectorSize, cfg.Distance)
	case "postgres", "pgvector":
		return NewPostgres(ctx, cfg.URL, cfg.VectorSize, cfg.Distance)
	default:
		return nil, fmt.Errorf("unknown vector store backend %q", cfg.Backend)
	}
}
