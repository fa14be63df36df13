package plitka

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/drpcorg/plitka/geo"
	"github.com/drpcorg/plitka/item"
	"github.com/drpcorg/plitka/store"
	"github.com/stretchr/testify/assert"
)

// testRenderer counts renders and reports how many items the last call
// saw, with an optional delay to widen race windows.
type testRenderer struct {
	renders atomic.Int32
	delay   time.Duration
}

func (tr *testRenderer) Render(items item.Items, tile geo.Rect) ([]byte, error) {
	tr.renders.Add(1)
	if tr.delay > 0 {
		time.Sleep(tr.delay)
	}
	return []byte(fmt.Sprintf("bmp:%d", len(items))), nil
}

func TestThumbnailLifecycle(t *testing.T) {
	dir, cancel := testdir("thumbs")
	defer cancel()
	ctx := context.Background()
	key := geo.Key{X: 0, Y: 0}
	rend := &testRenderer{}

	eng := openTestEngine(t, dir, Options{Renderer: rend})
	_, err := eng.AddItem(ctx, strokeAt(500, 500))
	assert.Nil(t, err)

	data, err := eng.GetThumbnail(ctx, key)
	assert.Nil(t, err)
	assert.Equal(t, []byte("bmp:1"), data)
	assert.Equal(t, int32(1), rend.renders.Load())

	// second call serves the record's cached bitmap
	data, err = eng.GetThumbnail(ctx, key)
	assert.Nil(t, err)
	assert.Equal(t, []byte("bmp:1"), data)
	assert.Equal(t, int32(1), rend.renders.Load())

	assert.Nil(t, eng.SaveAll(ctx))
	assert.Nil(t, eng.Close())

	// reopened without any renderer, the stored bitmap still serves
	eng = openTestEngine(t, dir, Options{})
	data, err = eng.GetThumbnail(ctx, key)
	assert.Nil(t, err)
	assert.Equal(t, []byte("bmp:1"), data)

	// an edit makes both the cached and stored copies stale at once
	_, err = eng.AddItem(ctx, strokeAt(600, 600))
	assert.Nil(t, err)
	_, err = eng.GetThumbnail(ctx, key)
	assert.ErrorIs(t, err, ErrNoRenderer)

	assert.Nil(t, eng.SaveAll(ctx))
	assert.Nil(t, eng.Close())

	st, err := store.NewDir(dir, newTestLogger())
	assert.Nil(t, err)
	_, err = st.LoadThumb(key)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// A thumbnail depicts everything visually inside its tile, including
// items filed under a neighbor key that spill across the boundary.
func TestThumbnailSeesSpilledItems(t *testing.T) {
	dir, cancel := testdir("thumbspill")
	defer cancel()
	rend := &testRenderer{}
	eng := openTestEngine(t, dir, Options{Renderer: rend})
	defer eng.Close()
	ctx := context.Background()
	key := geo.Key{X: 0, Y: 0}

	_, err := eng.AddItem(ctx, strokeAt(500, 500))
	assert.Nil(t, err)
	spill := strokeAt(1003, 500) // filed under (1,0), reaches into (0,0)
	spill.ID, err = eng.AddItem(ctx, spill)
	assert.Nil(t, err)

	data, err := eng.GetThumbnail(ctx, key)
	assert.Nil(t, err)
	assert.Equal(t, []byte("bmp:2"), data)

	// removing the neighbor item invalidates this tile too
	removed, err := eng.RemoveItems(ctx, item.Items{spill})
	assert.Nil(t, err)
	assert.Equal(t, 1, removed)

	data, err = eng.GetThumbnail(ctx, key)
	assert.Nil(t, err)
	assert.Equal(t, []byte("bmp:1"), data)
	assert.Equal(t, int32(2), rend.renders.Load())
}

func TestThumbnailSingleFlight(t *testing.T) {
	dir, cancel := testdir("thumbrace")
	defer cancel()
	rend := &testRenderer{delay: 100 * time.Millisecond}
	eng := openTestEngine(t, dir, Options{Renderer: rend})
	defer eng.Close()
	ctx := context.Background()

	_, err := eng.AddItem(ctx, strokeAt(500, 500))
	assert.Nil(t, err)

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			data, err := eng.GetThumbnail(ctx, geo.Key{X: 0, Y: 0})
			assert.Nil(t, err)
			assert.Equal(t, []byte("bmp:1"), data)
		}()
	}
	close(start)
	wg.Wait()
	assert.Equal(t, int32(1), rend.renders.Load())
}

func TestThumbnailWithoutRenderer(t *testing.T) {
	dir, cancel := testdir("norender")
	defer cancel()
	eng := openTestEngine(t, dir, Options{})
	defer eng.Close()
	ctx := context.Background()

	// an empty tile is nil data, not an error
	data, err := eng.GetThumbnail(ctx, geo.Key{X: 5, Y: 5})
	assert.Nil(t, err)
	assert.Nil(t, data)

	_, err = eng.AddItem(ctx, strokeAt(500, 500))
	assert.Nil(t, err)
	_, err = eng.GetThumbnail(ctx, geo.Key{X: 0, Y: 0})
	assert.ErrorIs(t, err, ErrNoRenderer)
}
