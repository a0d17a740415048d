package hirag

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// L1Cache holds the most recent Immediate-tier contexts in process memory.
// Reads and writes are lock-free on the hot path; eviction tolerates
// concurrent insertions by recomputing the size after pruning rather than
// trusting a cached value.
type L1Cache struct {
	entries  sync.Map // uuid.UUID -> Context
	size     atomic.Int64
	capacity int
}

// NewL1Cache builds an L1 cache bounded to capacity items.
func NewL1Cache(capacity int) *L1Cache {
	if capacity <= 0 {
		capacity = 10
	}
	return &L1Cache{capacity: capacity}
}

// Put inserts or refreshes a context, then evicts the oldest entries when
// over capacity.
func (c *L1Cache) Put(ctx Context) {
	if _, loaded := c.entries.Swap(ctx.ID, ctx); !loaded {
		c.size.Add(1)
	}
	if int(c.size.Load()) <= c.capacity {
		return
	}

	entries := c.snapshot()
	// Oldest first; ties broken by id for determinism.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt != entries[j].CreatedAt {
			return entries[i].CreatedAt < entries[j].CreatedAt
		}
		return entries[i].ID.String() < entries[j].ID.String()
	})
	excess := len(entries) - c.capacity
	for i := 0; i < excess; i++ {
		if _, loaded := c.entries.LoadAndDelete(entries[i].ID); loaded {
			log.Debug().Str("context_id", entries[i].ID.String()).Msg("l1_cache_evicted")
		}
	}
	c.size.Store(int64(c.count()))
}

// Read returns contexts newest-first, cumulatively bounded by maxTokens.
func (c *L1Cache) Read(maxTokens int) []Context {
	entries := c.snapshot()
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt != entries[j].CreatedAt {
			return entries[i].CreatedAt > entries[j].CreatedAt
		}
		return entries[i].ID.String() < entries[j].ID.String()
	})
	out := make([]Context, 0, len(entries))
	total := 0
	for _, e := range entries {
		if total+e.TokenCount > maxTokens {
			break
		}
		total += e.TokenCount
		out = append(out, e)
	}
	return out
}

// Snapshot returns all entries newest-first without a token bound.
func (c *L1Cache) Snapshot() []Context {
	entries := c.snapshot()
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt != entries[j].CreatedAt {
			return entries[i].CreatedAt > entries[j].CreatedAt
		}
		return entries[i].ID.String() < entries[j].ID.String()
	})
	return entries
}

// Get returns the cached context for id, if present.
func (c *L1Cache) Get(id uuid.UUID) (Context, bool) {
	v, ok := c.entries.Load(id)
	if !ok {
		return Context{}, false
	}
	return v.(Context), true
}

// Remove deletes a context by id.
func (c *L1Cache) Remove(id uuid.UUID) {
	if _, loaded := c.entries.LoadAndDelete(id); loaded {
		c.size.Store(int64(c.count()))
	}
}

// Clear drops every entry.
func (c *L1Cache) Clear() {
	c.entries.Range(func(k, _ any) bool {
		c.entries.Delete(k)
		return true
	})
	c.size.Store(0)
}

// Len returns the tracked entry count.
func (c *L1Cache) Len() int {
	return int(c.size.Load())
}

func (c *L1Cache) snapshot() []Context {
	out := make([]Context, 0, c.capacity)
	c.entries.Range(func(_, v any) bool {
		out = append(out, v.(Context))
		return true
	})
	return out
}

func (c *L1Cache) count() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
