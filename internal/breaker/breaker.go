// Package breaker implements a three-state circuit breaker guarding an
// outbound dependency.
package breaker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// State of the circuit.
type State int32

const (
	// Closed lets requests flow normally.
	Closed State = iota
	// HalfOpen admits probe requests after the open timeout elapsed.
	HalfOpen
	// Open rejects requests.
	Open
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case HalfOpen:
		return "half-open"
	case Open:
		return "open"
	default:
		return "unknown"
	}
}

// Config controls when the circuit trips and recovers.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit from Closed.
	FailureThreshold int
	// SuccessThreshold is the consecutive-success count that closes the
	// circuit from HalfOpen.
	SuccessThreshold int
	// OpenTimeout is how long the circuit stays Open before admitting a
	// probe.
	OpenTimeout time.Duration
}

// DefaultConfig matches the service defaults: trip after 5 failures, recover
// after 2 probe successes, hold open for a minute.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      60 * time.Second,
	}
}

// Stats is a point-in-time snapshot of breaker counters.
type Stats struct {
	State           State
	TotalCalls      uint64
	TotalFailures   uint64
	CurrentFailures int
}

// Breaker is safe for concurrent use. State transitions are atomic with
// respect to Allow/RecordSuccess/RecordFailure: a racing pair of callers
// cannot both re-open a just-closed circuit.
type Breaker struct {
	cfg Config

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time

	totalCalls    atomic.Uint64
	totalFailures atomic.Uint64

	now func() time.Time
}

// New builds a Breaker. Zero thresholds fall back to defaults.
func New(cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	return &Breaker{cfg: cfg, state: Closed, now: time.Now}
}

// Allow reports whether a request may proceed. In Open it transitions to
// HalfOpen once the open timeout has elapsed and admits that caller as the
// probe.
func (b *Breaker) Allow() bool {
	b.totalCalls.Add(1)

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed, HalfOpen:
		return true
	case Open:
		if b.now().Sub(b.openedAt) >= b.cfg.OpenTimeout {
			b.state = HalfOpen
			b.successes = 0
			log.Debug().Msg("circuit_breaker_half_open")
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess notes a successful call. In Closed it clears the consecutive
// failure count; in HalfOpen it counts toward recovery and closes the circuit
// at the success threshold.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failures = 0
	case HalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = Closed
			b.failures = 0
			b.successes = 0
			log.Info().Msg("circuit_breaker_closed")
		}
	}
}

// RecordFailure notes a failed call. In Closed it counts toward the failure
// threshold and opens the circuit when reached; in HalfOpen it re-opens
// immediately.
func (b *Breaker) RecordFailure() {
	b.totalFailures.Add(1)

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.state = Open
			b.openedAt = b.now()
			log.Warn().Int("failures", b.failures).Msg("circuit_breaker_opened")
		}
	case HalfOpen:
		b.state = Open
		b.openedAt = b.now()
		b.successes = 0
		log.Warn().Msg("circuit_breaker_reopened")
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Gauge returns the state encoded for telemetry: 0=Closed, 1=HalfOpen,
// 2=Open.
func (b *Breaker) Gauge() int64 {
	return int64(b.State())
}

// Stats returns a snapshot of the breaker counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	state := b.state
	failures := b.failures
	b.mu.Unlock()
	return Stats{
		State:           state,
		TotalCalls:      b.totalCalls.Load(),
		TotalFailures:   b.totalFailures.Load(),
		CurrentFailures: failures,
	}
}

// Reset forces the breaker back to Closed and clears consecutive counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.successes = 0
	b.openedAt = time.Time{}
	log.Debug().Msg("circuit_breaker_reset")
}
