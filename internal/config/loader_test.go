package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"hirag/internal/tokenizer"
)

// isolate runs Load from an empty directory so a developer's config.yaml or
// .env cannot leak into tests.
func isolate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("HIRAG_CONFIG", "")
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "https://api.openai.com/v1/embeddings", cfg.Embedding.APIURL)
	require.Equal(t, 1024, cfg.Embedding.Dimension)
	require.Equal(t, 32, cfg.Embedding.BatchSize)
	require.Equal(t, 30, cfg.Embedding.TimeoutSecs)
	require.Equal(t, 3, cfg.Embedding.MaxRetries)
	require.Equal(t, "memory", cfg.Vector.Backend)
	require.Equal(t, "contexts", cfg.Vector.CollectionPrefix)
	require.Equal(t, 1024, cfg.Vector.VectorSize)
	require.Equal(t, "cosine", cfg.Vector.Distance)
	require.Equal(t, 10, cfg.Core.L1Size)
	require.Equal(t, 300, cfg.Core.GCIntervalSecs)
	require.Equal(t, 3600, cfg.Core.L2TTLSecs)
	require.Equal(t, 86400, cfg.Core.L3TTLSecs)
	require.True(t, cfg.GCEnabled())
	require.InDelta(t, 1.0, cfg.Core.Strategy.Sum(), 0.01)
	require.InDelta(t, 1.0, cfg.Core.Weights.Sum(), 0.01)
}

func TestLoadEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("EMBED_API_URL", "https://embeddings.internal/v1/embeddings")
	t.Setenv("EMBED_API_TOKEN", "secret")
	t.Setenv("EMBED_BATCH_SIZE", "64")
	t.Setenv("EMBED_DIMENSION", "512")
	t.Setenv("VECTOR_BACKEND", "qdrant")
	t.Setenv("VECTOR_URL", "http://localhost:6334")
	t.Setenv("VECTOR_DIMENSIONS", "512")
	t.Setenv("HIRAG_L1_SIZE", "25")
	t.Setenv("GC_ENABLED", "false")
	t.Setenv("L2_TTL_SECONDS", "120")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "https://embeddings.internal/v1/embeddings", cfg.Embedding.APIURL)
	require.Equal(t, "secret", cfg.Embedding.APIToken)
	require.Equal(t, 64, cfg.Embedding.BatchSize)
	require.Equal(t, "qdrant", cfg.Vector.Backend)
	require.Equal(t, 512, cfg.Vector.VectorSize)
	require.Equal(t, 25, cfg.Core.L1Size)
	require.Equal(t, 120, cfg.Core.L2TTLSecs)
	require.False(t, cfg.GCEnabled())
}

func TestLoadYAMLMerge(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "hirag.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
embedding:
  model: custom-embedder
  batchSize: 16
vector:
  collectionPrefix: memories
hirag:
  l1Size: 42
  tokenEstimator:
    strategy: word
    wordsPerToken: 1.5
`), 0o644))
	t.Setenv("HIRAG_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "custom-embedder", cfg.Embedding.Model)
	require.Equal(t, 16, cfg.Embedding.BatchSize)
	require.Equal(t, "memories", cfg.Vector.CollectionPrefix)
	require.Equal(t, 42, cfg.Core.L1Size)
	require.Equal(t, tokenizer.StrategyWord, cfg.Core.TokenEstimator.Strategy)
}

func TestEnvOverridesYAML(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "hirag.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hirag:\n  l1Size: 42\n"), 0o644))
	t.Setenv("HIRAG_CONFIG", path)
	t.Setenv("HIRAG_L1_SIZE", "7")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Core.L1Size)
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	isolate(t)

	cases := map[string]string{
		"EMBED_BATCH_SIZE":          "2000",
		"EMBED_TIMEOUT":             "500",
		"EMBED_MAX_RETRIES":         "11",
		"VECTOR_DIMENSIONS":         "5000",
		"VECTOR_METRIC":             "hamming",
		"HIRAG_RELEVANCE_THRESHOLD": "1.5",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestValidateRejectsDisabledTLSVerify(t *testing.T) {
	isolate(t)
	t.Setenv("EMBED_TLS_ENABLED", "true")
	t.Setenv("EMBED_TLS_VERIFY", "false")
	_, err := Load()
	require.Error(t, err)
}

func TestValidateRejectsSkewedWeights(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "hirag.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
hirag:
  rankingWeights:
    similarity: 0.9
    recency: 0.5
    tier: 0.2
    frequency: 0.1
`), 0o644))
	t.Setenv("HIRAG_CONFIG", path)
	_, err := Load()
	require.Error(t, err)
}

func TestConversionHelpers(t *testing.T) {
	isolate(t)
	t.Setenv("EMBED_DIMENSION", "256")
	t.Setenv("VECTOR_DIMENSIONS", "256")
	cfg, err := Load()
	require.NoError(t, err)

	cc := cfg.EmbeddingClientConfig()
	require.Equal(t, 256, cc.Dimension)
	require.True(t, cc.CacheEnabled)

	core := cfg.CoreConfig()
	require.Equal(t, "contexts", core.CollectionPrefix)
	require.True(t, core.L3Enabled)

	gc := cfg.GCConfig()
	require.Equal(t, 256, gc.VectorSize)
	require.True(t, gc.L3Enabled)
}
