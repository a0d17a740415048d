package breaker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{FailureThreshold: 3, SuccessThreshold: 2, OpenTimeout: time.Second}
}

// withClock pins the breaker to a fake clock the test can advance.
func withClock(b *Breaker) *time.Time {
	now := time.Unix(1_700_000_000, 0)
	b.now = func() time.Time { return now }
	return &now
}

func TestClosedAllows(t *testing.T) {
	b := New(testConfig())
	require.Equal(t, Closed, b.State())
	require.True(t, b.Allow())
}

func TestOpensAtFailureThreshold(t *testing.T) {
	b := New(testConfig())
	withClock(b)

	b.RecordFailure()
	b.RecordFailure()
	require.Equal(t, Closed, b.State())
	b.RecordFailure()

	require.Equal(t, Open, b.State())
	require.False(t, b.Allow())
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := New(testConfig())
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	require.Equal(t, Closed, b.State())
}

func TestHalfOpenAfterTimeout(t *testing.T) {
	b := New(testConfig())
	now := withClock(b)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	require.False(t, b.Allow())

	*now = now.Add(time.Second)
	require.True(t, b.Allow())
	require.Equal(t, HalfOpen, b.State())
}

func TestRecoveryClosesCircuit(t *testing.T) {
	b := New(testConfig())
	now := withClock(b)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	*now = now.Add(time.Second)
	require.True(t, b.Allow())

	b.RecordSuccess()
	require.Equal(t, HalfOpen, b.State())
	b.RecordSuccess()
	require.Equal(t, Closed, b.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := New(testConfig())
	now := withClock(b)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	*now = now.Add(time.Second)
	require.True(t, b.Allow())
	require.Equal(t, HalfOpen, b.State())

	b.RecordFailure()
	require.Equal(t, Open, b.State())
	require.False(t, b.Allow())

	// The open timer restarted at the half-open failure.
	*now = now.Add(time.Second)
	require.True(t, b.Allow())
	require.Equal(t, HalfOpen, b.State())
}

func TestStatsAndGauge(t *testing.T) {
	b := New(testConfig())
	withClock(b)

	b.Allow()
	b.RecordFailure()
	stats := b.Stats()
	require.Equal(t, uint64(1), stats.TotalCalls)
	require.Equal(t, uint64(1), stats.TotalFailures)
	require.Equal(t, 1, stats.CurrentFailures)
	require.Equal(t, int64(0), b.Gauge())

	b.RecordFailure()
	b.RecordFailure()
	require.Equal(t, int64(2), b.Gauge())
}

func TestReset(t *testing.T) {
	b := New(testConfig())
	withClock(b)
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	require.Equal(t, Open, b.State())
	b.Reset()
	require.Equal(t, Closed, b.State())
	require.True(t, b.Allow())
}

func TestConcurrentRecording(t *testing.T) {
	b := New(Config{FailureThreshold: 1000, SuccessThreshold: 2, OpenTimeout: time.Second})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Allow()
				b.RecordFailure()
			}
		}()
	}
	wg.Wait()
	stats := b.Stats()
	require.Equal(t, uint64(800), stats.TotalCalls)
	require.Equal(t, uint64(800), stats.TotalFailures)
}
