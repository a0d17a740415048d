package embedding

import "errors"

// Sentinel errors callers discriminate with errors.Is.
var (
	// ErrAuthenticationFailed reports a 401 from the embedding API. Never
	// retried and neutral to the circuit breaker.
	ErrAuthenticationFailed = errors.New("embedding: authentication failed")

	// ErrRateLimited reports a 429 that survived all retries.
	ErrRateLimited = errors.New("embedding: rate limited")

	// ErrServiceUnavailable reports an open circuit breaker; no network call
	// was issued.
	ErrServiceUnavailable = errors.New("embedding: service unavailable")
)
