package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type memoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[uuid.UUID]Point
}

// NewMemory returns an in-process Store suitable for tests and single-node
// development. Similarity is cosine.
func NewMemory() Store {
	return &memoryStore{collections: make(map[string]map[uuid.UUID]Point)}
}

func (m *memoryStore) CreateCollection(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; !ok {
		m.collections[name] = make(map[uuid.UUID]Point)
	}
	return nil
}

func (m *memoryStore) DeleteCollection(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, name)
	return nil
}

func (m *memoryStore) InsertPoints(_ context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.collections[collection]
	if !ok {
		return fmt.Errorf("collection %s does not exist", collection)
	}
	for _, p := range points {
		coll[p.ID] = clonePoint(p)
	}
	return nil
}

func (m *memoryStore) Search(_ context.Context, collection string, params SearchParams) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	coll, ok := m.collections[collection]
	if !ok {
		return nil, fmt.Errorf("collection %s does not exist", collection)
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 10
	}
	qnorm := norm(params.Vector)
	results := make([]SearchResult, 0, len(coll))
	for id, p := range coll {
		if !matchesFilter(&p.Payload, id, params.Filter) {
			continue
		}
		score := float32(cosine(params.Vector, p.Vector, qnorm))
		if params.ScoreThreshold != nil && score < *params.ScoreThreshold {
			continue
		}
		r := SearchResult{ID: id, Score: score}
		if params.WithPayload {
			payload := clonePayload(p.Payload)
			r.Payload = &payload
		}
		if params.WithVector {
			r.Vector = append([]float32(nil), p.Vector...)
		}
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *memoryStore) DeletePoints(_ context.Context, collection string, ids []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.collections[collection]
	if !ok {
		return nil
	}
	for _, id := range ids {
		delete(coll, id)
	}
	return nil
}

func (m *memoryStore) GetPoint(_ context.Context, collection string, id uuid.UUID) (*Point, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	coll, ok := m.collections[collection]
	if !ok {
		return nil, nil
	}
	p, ok := coll[id]
	if !ok {
		return nil, nil
	}
	cp := clonePoint(p)
	return &cp, nil
}

func (m *memoryStore) Close() error { return nil }

func matchesFilter(p *Payload, id uuid.UUID, f *Filter) bool {
	if f == nil {
		return true
	}
	for _, c := range f.Must {
		if !matchesCondition(p, id, c) {
			return false
		}
	}
	for _, c := range f.MustNot {
		if matchesCondition(p, id, c) {
			return false
		}
	}
	if len(f.Should) > 0 {
		matched := false
		for _, c := range f.Should {
			if matchesCondition(p, id, c) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func matchesCondition(p *Payload, id uuid.UUID, c Condition) bool {
	switch {
	case c.Match != nil:
		v, ok := p.Field(c.Match.Key)
		if !ok {
			return false
		}
		return equalValue(v, c.Match.Value)
	case c.Range != nil:
		v, ok := p.Field(c.Range.Key)
		if !ok {
			return false
		}
		n, ok := asFloat(v)
		if !ok {
			return false
		}
		if c.Range.Gte != nil && n < *c.Range.Gte {
			return false
		}
		if c.Range.Lte != nil && n > *c.Range.Lte {
			return false
		}
		return true
	case len(c.HasID) > 0:
		for _, want := range c.HasID {
			if want == id {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func equalValue(a, b any) bool {
	if fa, ok := asFloat(a); ok {
		if fb, ok := asFloat(b); ok {
			return fa == fb
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func clonePoint(p Point) Point {
	cp := Point{
		ID:      p.ID,
		Vector:  append([]float32(nil), p.Vector...),
		Payload: clonePayload(p.Payload),
	}
	return cp
}

func clonePayload(p Payload) Payload {
	out := p
	if p.Metadata != nil {
		out.Metadata = make(map[string]any, len(p.Metadata))
		for k, v := range p.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

func norm(a []float32) float64 {
	var s float64
	for _, x := range a {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var s float64
	for i := 0; i < n; i++ {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func cosine(a, b []float32, anorm float64) float64 {
	if anorm == 0 {
		anorm = norm(a)
	}
	bnorm := norm(b)
	if anorm == 0 || bnorm == 0 {
		return 0
	}
	return dot(a, b) / (anorm * bnorm)
}
