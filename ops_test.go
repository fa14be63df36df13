package plitka

import (
	"context"
	"slices"
	"sync"
	"testing"

	"github.com/drpcorg/plitka/geo"
	"github.com/drpcorg/plitka/item"
	"github.com/drpcorg/plitka/store"
	"github.com/stretchr/testify/assert"
)

var everything = geo.Rect{X0: -1e6, Y0: -1e6, X1: 1e6, Y1: 1e6}

// Adds and removals interleaved across goroutines must conserve items:
// whatever was added and not removed is recoverable, nothing else.
func TestConservation(t *testing.T) {
	dir, cancel := testdir("conserve")
	defer cancel()
	eng := openTestEngine(t, dir, Options{})
	defer eng.Close()
	ctx := context.Background()

	const workers = 4
	const perWorker = 30
	keptIDs := make([][]uint64, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			var mine item.Items
			for j := 0; j < perWorker; j++ {
				n := w*perWorker + j
				it := strokeAt(float64((n*137)%3000), float64((n*241)%3000))
				id, err := eng.AddItem(ctx, it)
				assert.Nil(t, err)
				it.ID = id
				mine = append(mine, it)
			}
			var evens item.Items
			for j := 0; j < perWorker; j += 2 {
				evens = append(evens, mine[j])
			}
			removed, err := eng.RemoveItems(ctx, evens)
			assert.Nil(t, err)
			assert.Equal(t, len(evens), removed)
			for j := 1; j < perWorker; j += 2 {
				keptIDs[w] = append(keptIDs[w], mine[j].ID)
			}
		}(w)
	}
	wg.Wait()

	var want []uint64
	for _, ids := range keptIDs {
		want = append(want, ids...)
	}
	slices.Sort(want)

	got, err := eng.GetRegionsInRect(ctx, everything)
	assert.Nil(t, err)
	gotIDs := make([]uint64, 0, len(got))
	for _, it := range got {
		gotIDs = append(gotIDs, it.ID)
	}
	slices.Sort(gotIDs)
	assert.Equal(t, want, gotIDs)
}

// An inserted item stays discoverable after its region has been
// evicted and must be reloaded from disk.
func TestDiscoverabilityAcrossEviction(t *testing.T) {
	dir, cancel := testdir("evictreload")
	defer cancel()
	eng := openTestEngine(t, dir, Options{MemoryLimitBytes: 1200})
	defer eng.Close()
	ctx := context.Background()

	target := strokeAt(100, 100)
	id, err := eng.AddItem(ctx, target)
	assert.Nil(t, err)
	probe := geo.Rect{X0: 90, Y0: 90, X1: 110, Y1: 110}

	got, err := eng.GetRegionsInRect(ctx, probe)
	assert.Nil(t, err)
	assert.Equal(t, 1, len(got))
	assert.Equal(t, id, got[0].ID)

	assert.Nil(t, eng.SaveAll(ctx))
	for i := 1; i <= 8; i++ {
		_, err = eng.AddItem(ctx, strokeAt(float64(i)*1000+500, 100))
		assert.Nil(t, err)
	}
	_, cached := eng.cache.peek(geo.Key{X: 0, Y: 0})
	assert.False(t, cached)

	got, err = eng.GetRegionsInRect(ctx, probe)
	assert.Nil(t, err)
	assert.Equal(t, 1, len(got))
	assert.Equal(t, id, got[0].ID)
}

func TestRangeQueryAcrossRegions(t *testing.T) {
	dir, cancel := testdir("range")
	defer cancel()
	eng := openTestEngine(t, dir, Options{})
	defer eng.Close()
	ctx := context.Background()

	_, err := eng.AddItem(ctx, strokeAt(900, 900))
	assert.Nil(t, err)
	_, err = eng.AddItem(ctx, strokeAt(1100, 1100))
	assert.Nil(t, err)

	got, err := eng.GetRegionsInRect(ctx, geo.Rect{X0: 850, Y0: 850, X1: 1150, Y1: 1150})
	assert.Nil(t, err)
	assert.Equal(t, 2, len(got))

	got, err = eng.GetRegionsInRect(ctx, geo.Rect{X0: 880, Y0: 880, X1: 920, Y1: 920})
	assert.Nil(t, err)
	assert.Equal(t, 1, len(got))

	got, err = eng.GetRegionsInRect(ctx, geo.Rect{X0: 5000, Y0: 5000, X1: 6000, Y1: 6000})
	assert.Nil(t, err)
	assert.Equal(t, 0, len(got))
}

// An item filed under a key that no longer matches its center (written
// by an older layout) is still found by removal through the indexed
// bounds overlap.
func TestRemoveFindsMisfiledItems(t *testing.T) {
	dir, cancel := testdir("misfiled")
	defer cancel()
	ctx := context.Background()

	legacy := strokeAt(1010, 1010)
	legacy.ID = 7
	its := item.Items{legacy}

	st, err := store.NewDir(dir, newTestLogger())
	assert.Nil(t, err)
	assert.Nil(t, st.Save(geo.Key{X: 0, Y: 0}, its))
	ix := store.NewIndex()
	ix.Bounds[geo.Key{X: 0, Y: 0}] = its.Bounds()
	ix.LastID = 7
	assert.Nil(t, st.SaveIndex(ix))

	eng, err := Open(st, Options{Logger: newTestLogger()})
	assert.Nil(t, err)
	defer eng.Close()

	removed, err := eng.RemoveItems(ctx, its)
	assert.Nil(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, len(eng.GetActiveKeys()))
}

func TestDeletionLifecycle(t *testing.T) {
	dir, cancel := testdir("delete")
	defer cancel()
	ctx := context.Background()

	eng := openTestEngine(t, dir, Options{})
	it := strokeAt(100, 100)
	id, err := eng.AddItem(ctx, it)
	assert.Nil(t, err)
	assert.Nil(t, eng.SaveAll(ctx))

	it.ID = id
	removed, err := eng.RemoveItems(ctx, item.Items{it})
	assert.Nil(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, len(eng.GetActiveKeys()))
	got, err := eng.GetRegionsInRect(ctx, everything)
	assert.Nil(t, err)
	assert.Equal(t, 0, len(got))

	assert.Nil(t, eng.SaveAll(ctx))
	assert.Nil(t, eng.Close())

	st, err := store.NewDir(dir, newTestLogger())
	assert.Nil(t, err)
	_, err = st.Load(geo.Key{X: 0, Y: 0})
	assert.ErrorIs(t, err, store.ErrNotFound)
	keys, err := st.Keys()
	assert.Nil(t, err)
	assert.Equal(t, 0, len(keys))
}

func TestClear(t *testing.T) {
	dir, cancel := testdir("clear")
	defer cancel()
	ctx := context.Background()

	eng := openTestEngine(t, dir, Options{})
	defer eng.Close()
	_, err := eng.AddItems(ctx, item.Items{
		strokeAt(100, 100), strokeAt(1500, 100), strokeAt(100, 1500),
		strokeAt(200, 200), strokeAt(1600, 200),
	})
	assert.Nil(t, err)
	assert.Nil(t, eng.SaveAll(ctx))

	assert.Nil(t, eng.Clear(ctx))
	assert.Equal(t, 0, len(eng.GetActiveKeys()))
	got, err := eng.GetRegionsInRect(ctx, everything)
	assert.Nil(t, err)
	assert.Equal(t, 0, len(got))

	st, err := store.NewDir(dir, newTestLogger())
	assert.Nil(t, err)
	keys, err := st.Keys()
	assert.Nil(t, err)
	assert.Equal(t, 0, len(keys))

	// the canvas keeps working and ids stay monotonic
	id, err := eng.AddItem(ctx, strokeAt(100, 100))
	assert.Nil(t, err)
	assert.Equal(t, uint64(6), id)
}

func TestAuditRepairsSkeleton(t *testing.T) {
	dir, cancel := testdir("audit")
	defer cancel()
	eng := openTestEngine(t, dir, Options{})
	defer eng.Close()
	ctx := context.Background()

	_, err := eng.AddItem(ctx, strokeAt(100, 100))
	assert.Nil(t, err)
	_, err = eng.AddItem(ctx, strokeAt(1500, 1500))
	assert.Nil(t, err)
	assert.False(t, eng.Audit())

	// knock the skeleton out of sync behind the engine's back
	eng.lock.Lock()
	eng.tree.Remove(geo.Key{X: 0, Y: 0})
	eng.lock.Unlock()
	probe := geo.Rect{X0: 90, Y0: 90, X1: 110, Y1: 110}
	got, err := eng.GetRegionsInRect(ctx, probe)
	assert.Nil(t, err)
	assert.Equal(t, 0, len(got))

	assert.True(t, eng.Audit())
	got, err = eng.GetRegionsInRect(ctx, probe)
	assert.Nil(t, err)
	assert.Equal(t, 1, len(got))
	assert.False(t, eng.Audit())
}

func TestStats(t *testing.T) {
	dir, cancel := testdir("stats")
	defer cancel()
	eng := openTestEngine(t, dir, Options{})
	defer eng.Close()
	ctx := context.Background()

	_, err := eng.AddItems(ctx, item.Items{strokeAt(100, 100), strokeAt(1500, 100)})
	assert.Nil(t, err)
	s := eng.Stats()
	assert.Equal(t, 2, s.Regions)
	assert.Equal(t, 2, s.CacheRegions)
	assert.True(t, s.CacheBytes > 0)
	assert.Equal(t, uint64(2), s.LastID)
	assert.False(t, s.ContentBounds.IsEmpty())
}
