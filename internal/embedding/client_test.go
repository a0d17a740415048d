package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hirag/internal/breaker"
	"hirag/internal/validation"
)

const testDim = 8

// newEmbedServer serves the embedding API shape, delegating status selection
// to pick so tests can script failures.
func newEmbedServer(t *testing.T, calls *atomic.Int64, pick func(n int64) int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if r.Header.Get("Authorization") == "" {
			t.Error("missing Authorization header")
		}
		if pick != nil {
			if status := pick(n); status != http.StatusOK {
				w.WriteHeader(status)
				return
			}
		}
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := map[string]any{"model": "test", "usage": map[string]int{"prompt_tokens": 1, "total_tokens": 1}}
		data := make([]map[string]any, len(req.Input))
		for i, text := range req.Input {
			vec := make([]float32, testDim)
			for j := range vec {
				vec[j] = float32(len(text)+i) / 10
			}
			data[i] = map[string]any{"embedding": vec, "index": i, "object": "embedding"}
		}
		resp["data"] = data
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newTestClient(t *testing.T, url string, maxRetries int) *Client {
	t.Helper()
	c, err := NewClient(Config{
		APIURL:       url,
		APIToken:     "test-token",
		Dimension:    testDim,
		BatchSize:    4,
		MaxRetries:   maxRetries,
		CacheEnabled: true,
		CacheTTL:     time.Minute,
		CacheSize:    100,
	})
	require.NoError(t, err)
	// No real sleeping in tests.
	c.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return c
}

func TestEmbedSingle(t *testing.T) {
	var calls atomic.Int64
	srv := newEmbedServer(t, &calls, nil)
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)
	vec, err := c.EmbedSingle(context.Background(), "hello")
	require.NoError(t, err)
	require.Len(t, vec, testDim)
}

func TestEmbedSingleValidation(t *testing.T) {
	c := newTestClient(t, "http://unused", 0)
	_, err := c.EmbedSingle(context.Background(), "")
	var verr *validation.Error
	require.ErrorAs(t, err, &verr)
}

func TestCacheTransparency(t *testing.T) {
	// Repeated embeds of the same text hit the API at most once.
	var calls atomic.Int64
	srv := newEmbedServer(t, &calls, nil)
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)
	ctx := context.Background()
	first, err := c.EmbedSingle(ctx, "cached text")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := c.EmbedSingle(ctx, "cached text")
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
	require.Equal(t, int64(1), calls.Load())
}

func TestEmbedBatchOrderPreserving(t *testing.T) {
	var calls atomic.Int64
	srv := newEmbedServer(t, &calls, nil)
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)
	ctx := context.Background()

	// Pre-warm one text so the batch mixes cached and uncached entries.
	warm, err := c.EmbedSingle(ctx, "bb")
	require.NoError(t, err)

	texts := []string{"a", "bb", "ccc"}
	out, err := c.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Equal(t, warm, out[1])
	for _, vec := range out {
		require.Len(t, vec, testDim)
	}
}

func TestEmbedBatchChunksLargeInput(t *testing.T) {
	var calls atomic.Int64
	srv := newEmbedServer(t, &calls, nil)
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)
	texts := make([]string, 10) // batch size 4 -> 3 API calls
	for i := range texts {
		texts[i] = "text-" + string(rune('a'+i))
	}
	out, err := c.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, out, 10)
	require.Equal(t, int64(3), calls.Load())
}

func TestAuthenticationFailureNotRetried(t *testing.T) {
	var calls atomic.Int64
	srv := newEmbedServer(t, &calls, func(int64) int { return http.StatusUnauthorized })
	defer srv.Close()

	c := newTestClient(t, srv.URL, 5)
	b := breaker.New(breaker.Config{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: time.Minute})
	c.WithBreaker(b)

	_, err := c.EmbedSingle(context.Background(), "hello")
	require.ErrorIs(t, err, ErrAuthenticationFailed)
	require.Equal(t, int64(1), calls.Load())
	// 401 is breaker-neutral.
	require.Equal(t, breaker.Closed, b.State())
}

func TestRateLimitRetried(t *testing.T) {
	var calls atomic.Int64
	srv := newEmbedServer(t, &calls, func(n int64) int {
		if n <= 2 {
			return http.StatusTooManyRequests
		}
		return http.StatusOK
	})
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)
	vec, err := c.EmbedSingle(context.Background(), "hello")
	require.NoError(t, err)
	require.Len(t, vec, testDim)
	require.Equal(t, int64(3), calls.Load())
}

func TestRetriesExhaustedSurfacesLastError(t *testing.T) {
	var calls atomic.Int64
	srv := newEmbedServer(t, &calls, func(int64) int { return http.StatusInternalServerError })
	defer srv.Close()

	c := newTestClient(t, srv.URL, 2)
	_, err := c.EmbedSingle(context.Background(), "hello")
	require.Error(t, err)
	require.Equal(t, int64(3), calls.Load()) // initial + 2 retries
}

func TestRateLimitExhaustedSurfacesRateLimited(t *testing.T) {
	var calls atomic.Int64
	srv := newEmbedServer(t, &calls, func(int64) int { return http.StatusTooManyRequests })
	defer srv.Close()

	c := newTestClient(t, srv.URL, 1)
	_, err := c.EmbedSingle(context.Background(), "hello")
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestOpenBreakerFailsFastWithoutNetworkCall(t *testing.T) {
	var calls atomic.Int64
	srv := newEmbedServer(t, &calls, func(int64) int { return http.StatusInternalServerError })
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)
	b := breaker.New(breaker.Config{FailureThreshold: 3, SuccessThreshold: 1, OpenTimeout: time.Hour})
	c.WithBreaker(b)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := c.EmbedSingle(ctx, "hello")
		require.Error(t, err)
	}
	require.Equal(t, breaker.Open, b.State())
	callsBefore := calls.Load()

	_, err := c.EmbedSingle(ctx, "hello")
	require.ErrorIs(t, err, ErrServiceUnavailable)
	require.Equal(t, callsBefore, calls.Load())
}

func TestBreakerRecordsSuccess(t *testing.T) {
	var calls atomic.Int64
	srv := newEmbedServer(t, &calls, nil)
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)
	b := breaker.New(breaker.DefaultConfig())
	c.WithBreaker(b)

	_, err := c.EmbedSingle(context.Background(), "hello")
	require.NoError(t, err)
	stats := b.Stats()
	require.Equal(t, uint64(1), stats.TotalCalls)
	require.Equal(t, uint64(0), stats.TotalFailures)
}

func TestDimensionMismatchRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{1, 2}, "index": 0}},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)
	_, err := c.EmbedSingle(context.Background(), "hello")
	require.Error(t, err)
	var verr *validation.Error
	require.True(t, errors.As(err, &verr))
}

func TestTLSVerifyCannotBeDisabled(t *testing.T) {
	_, err := NewClient(Config{APIURL: "https://x", TLSEnabled: true, TLSVerify: false})
	require.Error(t, err)
}

func TestBackoffBounds(t *testing.T) {
	for attempt := 1; attempt <= 12; attempt++ {
		d := backoff(retryBase, attempt)
		require.GreaterOrEqual(t, d, time.Duration(0))
		// cap plus max positive jitter
		require.LessOrEqual(t, d, maxBackoff+maxBackoff/4)
	}
	// First attempt stays near the base: [75ms, 125ms].
	for i := 0; i < 50; i++ {
		d := backoff(retryBase, 1)
		require.GreaterOrEqual(t, d, 75*time.Millisecond)
		require.LessOrEqual(t, d, 125*time.Millisecond)
	}
}
