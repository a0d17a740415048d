package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Cache maps text fingerprints to embedding vectors. Implementations must be
// safe for concurrent readers and writers.
type Cache interface {
	// Get returns a cached vector if still live, else a miss.
	Get(ctx context.Context, fingerprint string) ([]float32, bool)
	// Put inserts or refreshes a vector.
	Put(ctx context.Context, fingerprint string, vector []float32)
	// Clear drops all entries.
	Clear(ctx context.Context)
	// Size returns the number of live entries.
	Size(ctx context.Context) int
}

// Fingerprint derives the deterministic cache key for a text.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "emb_" + hex.EncodeToString(sum[:])
}

const cacheShards = 16

type cacheEntry struct {
	vector         []float32
	insertedAt     time.Time
	lastAccessedAt time.Time
}

type cacheShard struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
}

// MemoryCache is a sharded in-process cache with TTL and idle expiry. An
// entry is live while now-insertedAt <= ttl AND now-lastAccessedAt <= ttl/2.
// Readers of one shard never block writers of another.
type MemoryCache struct {
	shards   [cacheShards]cacheShard
	capacity int
	ttl      time.Duration

	now func() time.Time
}

// NewMemoryCache builds a cache bounded to capacity entries with the given
// TTL.
func NewMemoryCache(capacity int, ttl time.Duration) *MemoryCache {
	if capacity <= 0 {
		capacity = 1000
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	c := &MemoryCache{capacity: capacity, ttl: ttl, now: time.Now}
	for i := range c.shards {
		c.shards[i].entries = make(map[string]*cacheEntry)
	}
	return c
}

func (c *MemoryCache) shard(fingerprint string) *cacheShard {
	var h uint32
	for i := 0; i < len(fingerprint); i++ {
		h = h*31 + uint32(fingerprint[i])
	}
	return &c.shards[h%cacheShards]
}

func (c *MemoryCache) live(e *cacheEntry, now time.Time) bool {
	return now.Sub(e.insertedAt) <= c.ttl && now.Sub(e.lastAccessedAt) <= c.ttl/2
}

func (c *MemoryCache) Get(_ context.Context, fingerprint string) ([]float32, bool) {
	s := c.shard(fingerprint)
	now := c.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[fingerprint]
	if !ok {
		return nil, false
	}
	if !c.live(e, now) {
		delete(s.entries, fingerprint)
		return nil, false
	}
	e.lastAccessedAt = now
	return append([]float32(nil), e.vector...), true
}

func (c *MemoryCache) Put(_ context.Context, fingerprint string, vector []float32) {
	s := c.shard(fingerprint)
	now := c.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[fingerprint] = &cacheEntry{
		vector:         append([]float32(nil), vector...),
		insertedAt:     now,
		lastAccessedAt: now,
	}
	// Capacity is enforced per shard to keep insert pressure shard-local.
	shardCap := c.capacity / cacheShards
	if shardCap < 1 {
		shardCap = 1
	}
	if len(s.entries) > shardCap {
		c.evictLocked(s, now, len(s.entries)-shardCap)
	}
}

// evictLocked drops expired entries first, then the least recently accessed.
func (c *MemoryCache) evictLocked(s *cacheShard, now time.Time, excess int) {
	for k, e := range s.entries {
		if excess <= 0 {
			return
		}
		if !c.live(e, now) {
			delete(s.entries, k)
			excess--
		}
	}
	if excess <= 0 {
		return
	}
	type aged struct {
		key      string
		accessed time.Time
	}
	entries := make([]aged, 0, len(s.entries))
	for k, e := range s.entries {
		entries = append(entries, aged{key: k, accessed: e.lastAccessedAt})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].accessed.Before(entries[j].accessed) })
	for i := 0; i < excess && i < len(entries); i++ {
		delete(s.entries, entries[i].key)
	}
}

func (c *MemoryCache) Clear(_ context.Context) {
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		s.entries = make(map[string]*cacheEntry)
		s.mu.Unlock()
	}
	log.Debug().Msg("embedding_cache_cleared")
}

func (c *MemoryCache) Size(_ context.Context) int {
	now := c.now()
	total := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for k, e := range s.entries {
			if c.live(e, now) {
				total++
			} else {
				delete(s.entries, k)
			}
		}
		s.mu.Unlock()
	}
	return total
}
