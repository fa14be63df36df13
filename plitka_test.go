package plitka

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/drpcorg/plitka/geo"
	"github.com/drpcorg/plitka/item"
	"github.com/drpcorg/plitka/store"
	"github.com/drpcorg/plitka/utils"
	"github.com/stretchr/testify/assert"
)

func testdir(name string) (string, func()) {
	dir := "ptk_" + name
	os.RemoveAll(dir)
	return dir, func() { os.RemoveAll(dir) }
}

func newTestLogger() utils.Logger {
	return utils.NewDefaultLogger(slog.LevelError)
}

func openTestEngine(t *testing.T, dir string, opts Options) *Engine {
	st, err := store.NewDir(dir, newTestLogger())
	assert.Nil(t, err)
	if opts.Logger == nil {
		opts.Logger = newTestLogger()
	}
	eng, err := Open(st, opts)
	assert.Nil(t, err)
	return eng
}

// strokeAt makes a small stroke whose bounding box is centered exactly
// at (x, y), so its region key is predictable.
func strokeAt(x, y float64) item.Item {
	return item.Item{
		Kind: item.KindStroke,
		Stroke: &item.Stroke{
			Points: []geo.Point{{X: x - 5, Y: y - 5}, {X: x + 5, Y: y + 5}},
			Width:  2,
			Color:  0xff202020,
		},
	}
}

func sortedKeys(keys []geo.Key) []geo.Key {
	slices.SortFunc(keys, func(a, b geo.Key) int {
		if a.Y != b.Y {
			return int(a.Y) - int(b.Y)
		}
		return int(a.X) - int(b.X)
	})
	return keys
}

func TestRegionAssignment(t *testing.T) {
	dir, cancel := testdir("assign")
	defer cancel()
	eng := openTestEngine(t, dir, Options{})
	defer eng.Close()
	ctx := context.Background()

	first := strokeAt(10, 10)
	id1, err := eng.AddItem(ctx, first)
	assert.Nil(t, err)
	assert.Equal(t, uint64(1), id1)
	assert.Equal(t, []geo.Key{{X: 0, Y: 0}}, sortedKeys(eng.GetActiveKeys()))

	_, err = eng.AddItem(ctx, strokeAt(1500, 1500))
	assert.Nil(t, err)
	assert.Equal(t, []geo.Key{{X: 0, Y: 0}, {X: 1, Y: 1}}, sortedKeys(eng.GetActiveKeys()))

	first.ID = id1
	removed, err := eng.RemoveItems(ctx, item.Items{first})
	assert.Nil(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, []geo.Key{{X: 1, Y: 1}}, sortedKeys(eng.GetActiveKeys()))
}

func TestReopenKeepsContent(t *testing.T) {
	dir, cancel := testdir("reopen")
	defer cancel()
	ctx := context.Background()

	eng := openTestEngine(t, dir, Options{})
	items := item.Items{
		strokeAt(100, 100),
		{Kind: item.KindText, Text: &item.Text{Pos: geo.Point{X: 200, Y: 200}, Size: 14, Body: "hello"}},
		{Kind: item.KindImage, Image: &item.Image{Rect: geo.Rect{X0: 1200, Y0: 1200, X1: 1300, Y1: 1300}, Ref: "pic.png"}},
		{Kind: item.KindLink, Link: &item.Link{Rect: geo.Rect{X0: 1400, Y0: 1400, X1: 1500, Y1: 1450}, URL: "https://example.com"}},
	}
	ids, err := eng.AddItems(ctx, items)
	assert.Nil(t, err)
	assert.Equal(t, 4, len(ids))
	assert.Nil(t, eng.Close())

	eng = openTestEngine(t, dir, Options{})
	defer eng.Close()
	got, err := eng.GetRegionsInRect(ctx, geo.Rect{X0: 0, Y0: 0, X1: 2000, Y1: 2000})
	assert.Nil(t, err)
	assert.Equal(t, 4, len(got))
	gotIDs := make([]uint64, 0, len(got))
	for _, it := range got {
		gotIDs = append(gotIDs, it.ID)
	}
	slices.Sort(gotIDs)
	slices.Sort(ids)
	assert.Equal(t, ids, gotIDs)

	// the id watermark survives the restart
	next, err := eng.AddItem(ctx, strokeAt(300, 300))
	assert.Nil(t, err)
	assert.Equal(t, ids[len(ids)-1]+1, next)
}

func TestIndexRebuild(t *testing.T) {
	dir, cancel := testdir("rebuild")
	defer cancel()
	ctx := context.Background()

	eng := openTestEngine(t, dir, Options{})
	_, err := eng.AddItems(ctx, item.Items{strokeAt(100, 100), strokeAt(1500, 100), strokeAt(100, 1500)})
	assert.Nil(t, err)
	assert.Nil(t, eng.Close())

	assert.Nil(t, os.Remove(filepath.Join(dir, "index.bin")))

	eng = openTestEngine(t, dir, Options{})
	defer eng.Close()
	assert.Equal(t, 3, len(eng.GetActiveKeys()))
	got, err := eng.GetRegionsInRect(ctx, geo.Rect{X0: 0, Y0: 0, X1: 2000, Y1: 2000})
	assert.Nil(t, err)
	assert.Equal(t, 3, len(got))

	// rebuilt watermark comes from the stored items, ids must not repeat
	id, err := eng.AddItem(ctx, strokeAt(500, 500))
	assert.Nil(t, err)
	assert.Equal(t, uint64(4), id)
}

func TestClosedEngine(t *testing.T) {
	dir, cancel := testdir("closed")
	defer cancel()
	ctx := context.Background()

	eng := openTestEngine(t, dir, Options{})
	_, err := eng.AddItem(ctx, strokeAt(10, 10))
	assert.Nil(t, err)
	assert.Nil(t, eng.Close())

	_, err = eng.AddItem(ctx, strokeAt(20, 20))
	assert.True(t, errors.Is(err, ErrClosed))
	_, err = eng.GetRegion(ctx, geo.Key{X: 0, Y: 0})
	assert.True(t, errors.Is(err, ErrClosed))
	assert.True(t, errors.Is(eng.SaveAll(ctx), ErrClosed))
	assert.True(t, errors.Is(eng.Clear(ctx), ErrClosed))
	assert.True(t, errors.Is(eng.Close(), ErrClosed))
}

func TestAddItemRejectsInvalid(t *testing.T) {
	dir, cancel := testdir("invalid")
	defer cancel()
	eng := openTestEngine(t, dir, Options{})
	defer eng.Close()

	_, err := eng.AddItem(context.Background(), item.Item{Kind: 'X'})
	assert.True(t, errors.Is(err, ErrBadItem))
	_, err = eng.AddItem(context.Background(), item.Item{Kind: item.KindStroke, Stroke: &item.Stroke{}})
	assert.True(t, errors.Is(err, ErrBadItem))
	assert.Equal(t, 0, len(eng.GetActiveKeys()))
}

func TestContentBounds(t *testing.T) {
	dir, cancel := testdir("bounds")
	defer cancel()
	eng := openTestEngine(t, dir, Options{})
	defer eng.Close()
	ctx := context.Background()

	assert.True(t, eng.GetContentBounds().IsEmpty())

	_, err := eng.AddItem(ctx, strokeAt(10, 10))
	assert.Nil(t, err)
	_, err = eng.AddItem(ctx, strokeAt(2500, 2500))
	assert.Nil(t, err)
	b := eng.GetContentBounds()
	assert.True(t, b.ContainsRect(geo.Rect{X0: 5, Y0: 5, X1: 2505, Y1: 2505}))
}

func TestKeepsExternalIDs(t *testing.T) {
	dir, cancel := testdir("extids")
	defer cancel()
	eng := openTestEngine(t, dir, Options{})
	defer eng.Close()
	ctx := context.Background()

	restored := strokeAt(50, 50)
	restored.ID = 900
	id, err := eng.AddItem(ctx, restored)
	assert.Nil(t, err)
	assert.Equal(t, uint64(900), id)

	// the watermark moved past the restored id
	id, err = eng.AddItem(ctx, strokeAt(60, 60))
	assert.Nil(t, err)
	assert.Equal(t, uint64(901), id)
}
