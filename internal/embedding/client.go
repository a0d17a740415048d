package embedding

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"hirag/internal/breaker"
	"hirag/internal/validation"
)

const (
	// retryBase is the backoff base for network and API errors.
	retryBase = 100 * time.Millisecond
	// rateLimitBase is the longer backoff base for 429 responses.
	rateLimitBase = 500 * time.Millisecond
	// maxBackoff caps the exponential backoff before jitter; with jitter a
	// sleep can reach 1.25x this value.
	maxBackoff = 30 * time.Second
)

// Config parameterizes the embedding client.
type Config struct {
	APIURL       string        `yaml:"apiURL"`
	APIToken     string        `yaml:"-"`
	Model        string        `yaml:"model"`
	Dimension    int           `yaml:"dimension"`
	BatchSize    int           `yaml:"batchSize"`
	Timeout      time.Duration `yaml:"-"`
	MaxRetries   int           `yaml:"maxRetries"`
	CacheEnabled bool          `yaml:"cacheEnabled"`
	CacheTTL     time.Duration `yaml:"-"`
	CacheSize    int           `yaml:"cacheSize"`
	TLSEnabled   bool          `yaml:"tlsEnabled"`
	TLSVerify    bool          `yaml:"tlsVerify"`
}

type embedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
		Object    string    `json:"object"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// Client calls the external embedding API with content-keyed caching,
// bounded jittered retry, and circuit-breaker protection.
type Client struct {
	cfg        Config
	httpClient *http.Client
	cache      Cache
	breaker    *breaker.Breaker

	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient builds a Client. TLS verification cannot be disabled: a config
// asking for TLS without verification is rejected at construction.
func NewClient(cfg Config) (*Client, error) {
	if cfg.TLSEnabled && !cfg.TLSVerify {
		return nil, fmt.Errorf("embedding: TLS verification cannot be disabled")
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 1024
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 10
	if cfg.TLSEnabled {
		transport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout, Transport: transport},
		sleep:      sleepCtx,
	}
	if cfg.CacheEnabled {
		c.cache = NewMemoryCache(cfg.CacheSize, cfg.CacheTTL)
	}
	log.Info().Bool("cache_enabled", cfg.CacheEnabled).Int("dimension", cfg.Dimension).
		Msg("embedding_client_initialized")
	return c, nil
}

// WithCache replaces the cache backend (e.g. Redis).
func (c *Client) WithCache(cache Cache) *Client {
	c.cache = cache
	return c
}

// WithBreaker guards API calls with a circuit breaker.
func (c *Client) WithBreaker(b *breaker.Breaker) *Client {
	c.breaker = b
	return c
}

// Breaker returns the guarding breaker, or nil.
func (c *Client) Breaker() *breaker.Breaker { return c.breaker }

// Cache returns the configured cache, or nil.
func (c *Client) Cache() Cache { return c.cache }

// CacheSize returns the number of live cache entries, 0 without a cache.
func (c *Client) CacheSize(ctx context.Context) int {
	if c.cache == nil {
		return 0
	}
	return c.cache.Size(ctx)
}

// Dimension returns the fixed embedding dimension.
func (c *Client) Dimension() int { return c.cfg.Dimension }

// EmbedSingle returns the embedding for one text.
func (c *Client) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	out, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch returns one embedding per input text, order-preserving. Inputs
// beyond the configured batch size are chunked across API calls.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, &validation.Error{Field: "input", Reason: "empty batch"}
	}
	for _, t := range texts {
		if err := validation.Text("input", t); err != nil {
			return nil, err
		}
	}
	results := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		if err := c.embedChunk(ctx, texts[start:end], results[start:end]); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// embedChunk fills results for one chunk, consulting the cache first and
// issuing a single batched request for the misses.
func (c *Client) embedChunk(ctx context.Context, texts []string, results [][]float32) error {
	uncached := make([]string, 0, len(texts))
	uncachedIdx := make([]int, 0, len(texts))
	for i, t := range texts {
		if c.cache != nil {
			if vec, ok := c.cache.Get(ctx, Fingerprint(t)); ok {
				results[i] = vec
				continue
			}
		}
		uncached = append(uncached, t)
		uncachedIdx = append(uncachedIdx, i)
	}
	if len(uncached) == 0 {
		return nil
	}

	vectors, err := c.request(ctx, uncached)
	if err != nil {
		return err
	}
	for i, vec := range vectors {
		if c.cache != nil {
			c.cache.Put(ctx, Fingerprint(uncached[i]), vec)
		}
		results[uncachedIdx[i]] = vec
	}
	return nil
}

// Ping verifies the embedding endpoint is reachable and responding.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.request(ctx, []string{"ping"}); err != nil {
		return fmt.Errorf("embedding endpoint reachability check failed: %w", err)
	}
	return nil
}

// request performs the guarded, retried API call and returns one vector per
// input text.
func (c *Client) request(ctx context.Context, texts []string) ([][]float32, error) {
	if c.breaker != nil && !c.breaker.Allow() {
		log.Warn().Msg("embedding_request_rejected_circuit_open")
		return nil, ErrServiceUnavailable
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries+1; attempt++ {
		vectors, retryable, base, err := c.attempt(ctx, texts)
		if err == nil {
			if c.breaker != nil {
				c.breaker.RecordSuccess()
			}
			if attempt > 1 {
				log.Debug().Int("attempts", attempt).Msg("embedding_request_recovered")
			}
			return vectors, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		if c.breaker != nil {
			c.breaker.RecordFailure()
		}
		if attempt > c.cfg.MaxRetries {
			break
		}
		d := backoff(base, attempt)
		log.Debug().Err(err).Int("attempt", attempt).Dur("backoff", d).Msg("embedding_request_retry")
		if err := c.sleep(ctx, d); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// attempt issues one API call. It reports whether a failure is retryable and
// which backoff base applies.
func (c *Client) attempt(ctx context.Context, texts []string) (vectors [][]float32, retryable bool, base time.Duration, err error) {
	body, _ := json.Marshal(embedRequest{Input: texts, Model: c.cfg.Model})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return nil, false, retryBase, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, retryBase, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		// Authentication failures are terminal and breaker-neutral: they say
		// nothing about the dependency's health.
		return nil, false, retryBase, ErrAuthenticationFailed
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, rateLimitBase, fmt.Errorf("%w: %s", ErrRateLimited, resp.Status)
	case resp.StatusCode/100 != 2:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, true, retryBase, fmt.Errorf("embedding API error %s: %s", resp.Status, string(b))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, retryBase, fmt.Errorf("read embedding response: %w", err)
	}
	var er embedResponse
	if err := json.Unmarshal(raw, &er); err != nil {
		return nil, true, retryBase, fmt.Errorf("parse embedding response: %w", err)
	}
	if len(er.Data) != len(texts) {
		return nil, true, retryBase, fmt.Errorf("unexpected embedding count: got %d, want %d", len(er.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for i, d := range er.Data {
		idx := d.Index
		if idx < 0 || idx >= len(out) {
			idx = i
		}
		if err := validation.VectorDimension(len(d.Embedding), c.cfg.Dimension); err != nil {
			return nil, false, retryBase, err
		}
		out[idx] = d.Embedding
	}
	return out, false, retryBase, nil
}

// backoff computes base*2^(attempt-1) capped at maxBackoff with uniform
// jitter in [-25%, +25%].
func backoff(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt && d < maxBackoff; i++ {
		d *= 2
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	jitter := d / 4
	if jitter > 0 {
		d = d - jitter + time.Duration(rand.Int64N(int64(2*jitter)))
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
