package hirag

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"hirag/internal/vectorstore"
)

const gcDim = 8

func gcPoint(tier vectorstore.Tier, ts int64) vectorstore.Point {
	vec := make([]float32, gcDim)
	vec[0] = 1
	return vectorstore.Point{
		ID:     uuid.New(),
		Vector: vec,
		Payload: vectorstore.Payload{
			Text:      "gc item",
			Tier:      tier,
			Timestamp: ts,
			AgentID:   "default",
		},
	}
}

func newGCFixture(t *testing.T, l3Enabled bool) (*GC, vectorstore.Store, time.Time) {
	t.Helper()
	store := vectorstore.NewMemory()
	ctx := context.Background()
	for _, tier := range vectorstore.AllTiers() {
		require.NoError(t, store.CreateCollection(ctx, tier.CollectionName("contexts")))
	}
	now := time.Unix(1_700_000_000, 0)
	gc := NewGC(store, GCConfig{
		Interval:   time.Minute,
		L2TTL:      time.Hour,
		L3TTL:      24 * time.Hour,
		L3Enabled:  l3Enabled,
		Prefix:     "contexts",
		VectorSize: gcDim,
	})
	gc.now = func() time.Time { return now }
	return gc, store, now
}

func countPoints(t *testing.T, store vectorstore.Store, tier vectorstore.Tier) int {
	t.Helper()
	results, err := store.Search(context.Background(), tier.CollectionName("contexts"), vectorstore.SearchParams{
		Vector: make([]float32, gcDim),
		Limit:  1000,
	})
	require.NoError(t, err)
	return len(results)
}

func TestGCSweepsExpiredL2(t *testing.T) {
	gc, store, now := newGCFixture(t, false)
	ctx := context.Background()
	coll := vectorstore.TierShortTerm.CollectionName("contexts")

	expired := gcPoint(vectorstore.TierShortTerm, now.Add(-2*time.Hour).Unix())
	fresh := gcPoint(vectorstore.TierShortTerm, now.Add(-30*time.Minute).Unix())
	require.NoError(t, store.InsertPoints(ctx, coll, []vectorstore.Point{expired, fresh}))

	gc.Sweep(ctx)

	require.Equal(t, 1, countPoints(t, store, vectorstore.TierShortTerm))
	p, err := store.GetPoint(ctx, coll, fresh.ID)
	require.NoError(t, err)
	require.NotNil(t, p)
	p, err = store.GetPoint(ctx, coll, expired.ID)
	require.NoError(t, err)
	require.Nil(t, p)
}

func TestGCSweepsL3OnlyWhenEnabled(t *testing.T) {
	ctx := context.Background()

	gc, store, now := newGCFixture(t, false)
	coll := vectorstore.TierLongTerm.CollectionName("contexts")
	old := gcPoint(vectorstore.TierLongTerm, now.Add(-48*time.Hour).Unix())
	require.NoError(t, store.InsertPoints(ctx, coll, []vectorstore.Point{old}))
	gc.Sweep(ctx)
	require.Equal(t, 1, countPoints(t, store, vectorstore.TierLongTerm), "disabled L3 GC must not delete")

	gc2, store2, now2 := newGCFixture(t, true)
	old2 := gcPoint(vectorstore.TierLongTerm, now2.Add(-48*time.Hour).Unix())
	keep2 := gcPoint(vectorstore.TierLongTerm, now2.Add(-1*time.Hour).Unix())
	require.NoError(t, store2.InsertPoints(ctx, coll, []vectorstore.Point{old2, keep2}))
	gc2.Sweep(ctx)
	require.Equal(t, 1, countPoints(t, store2, vectorstore.TierLongTerm))
}

func TestGCSweepIdempotent(t *testing.T) {
	gc, store, now := newGCFixture(t, true)
	ctx := context.Background()
	coll := vectorstore.TierShortTerm.CollectionName("contexts")
	require.NoError(t, store.InsertPoints(ctx, coll, []vectorstore.Point{
		gcPoint(vectorstore.TierShortTerm, now.Add(-2*time.Hour).Unix()),
	}))

	gc.Sweep(ctx)
	gc.Sweep(ctx)
	require.Equal(t, 0, countPoints(t, store, vectorstore.TierShortTerm))
}

func TestGCNeverTouchesImmediate(t *testing.T) {
	gc, store, now := newGCFixture(t, true)
	ctx := context.Background()
	coll := vectorstore.TierImmediate.CollectionName("contexts")
	// Ancient immediate entries are not GC's business.
	require.NoError(t, store.InsertPoints(ctx, coll, []vectorstore.Point{
		gcPoint(vectorstore.TierImmediate, now.Add(-100*time.Hour).Unix()),
	}))
	gc.Sweep(ctx)
	require.Equal(t, 1, countPoints(t, store, vectorstore.TierImmediate))
}

func TestGCRunStopsOnCancel(t *testing.T) {
	gc, _, _ := newGCFixture(t, true)
	gc.cfg.Interval = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		gc.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("GC did not stop on context cancellation")
	}
}
