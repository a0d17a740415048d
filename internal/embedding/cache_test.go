package embedding

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFingerprintDeterministic(t *testing.T) {
	k1 := Fingerprint("test text")
	k2 := Fingerprint("test text")
	k3 := Fingerprint("different text")
	require.Equal(t, k1, k2)
	require.NotEqual(t, k1, k3)
	require.Contains(t, k1, "emb_")
}

func TestCachePutGet(t *testing.T) {
	c := NewMemoryCache(10, time.Minute)
	ctx := context.Background()

	c.Put(ctx, "k", []float32{1, 2, 3})
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	require.Equal(t, []float32{1, 2, 3}, got)

	_, ok = c.Get(ctx, "missing")
	require.False(t, ok)
}

func TestCacheReturnsCopy(t *testing.T) {
	c := NewMemoryCache(10, time.Minute)
	ctx := context.Background()
	c.Put(ctx, "k", []float32{1, 2, 3})
	got, _ := c.Get(ctx, "k")
	got[0] = 99
	again, _ := c.Get(ctx, "k")
	require.Equal(t, float32(1), again[0])
}

func TestCacheTTLExpiry(t *testing.T) {
	c := NewMemoryCache(10, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Put(ctx, "k", []float32{1})
	now = now.Add(61 * time.Second)
	_, ok := c.Get(ctx, "k")
	require.False(t, ok)
}

func TestCacheIdleExpiry(t *testing.T) {
	c := NewMemoryCache(10, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Put(ctx, "k", []float32{1})
	// Touch within the idle window keeps the entry alive.
	now = now.Add(25 * time.Second)
	_, ok := c.Get(ctx, "k")
	require.True(t, ok)
	// 31s past the last access exceeds ttl/2.
	now = now.Add(31 * time.Second)
	_, ok = c.Get(ctx, "k")
	require.False(t, ok)
}

func TestCacheCapacityEviction(t *testing.T) {
	// Capacity 16 means one entry per shard; a second insert into the same
	// shard evicts the older entry.
	c := NewMemoryCache(16, time.Minute)
	ctx := context.Background()
	for i := 0; i < 200; i++ {
		c.Put(ctx, fmt.Sprintf("key-%d", i), []float32{float32(i)})
	}
	require.LessOrEqual(t, c.Size(ctx), 16)
}

func TestCacheClearAndSize(t *testing.T) {
	c := NewMemoryCache(100, time.Minute)
	ctx := context.Background()
	c.Put(ctx, "a", []float32{1})
	c.Put(ctx, "b", []float32{2})
	require.Equal(t, 2, c.Size(ctx))
	c.Clear(ctx)
	require.Equal(t, 0, c.Size(ctx))
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := NewMemoryCache(1000, time.Minute)
	ctx := context.Background()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("key-%d-%d", g, i)
				c.Put(ctx, key, []float32{float32(i)})
				c.Get(ctx, key)
			}
		}(g)
	}
	wg.Wait()
	require.Greater(t, c.Size(ctx), 0)
}
