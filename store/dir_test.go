package store

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/drpcorg/plitka/geo"
	"github.com/drpcorg/plitka/item"
	"github.com/drpcorg/plitka/utils"
	"github.com/stretchr/testify/assert"
)

func testLogger() utils.Logger {
	return utils.NewDefaultLogger(slog.LevelError)
}

func testStroke(id uint64, x, y float64) item.Item {
	return item.Item{
		ID: id, Kind: item.KindStroke,
		Stroke: &item.Stroke{
			Points: []geo.Point{{x, y}, {x + 10, y + 10}},
			Width:  2, Color: 0xff0000ff,
		},
	}
}

func TestDirRoundTrip(t *testing.T) {
	_ = os.RemoveAll("plitka-test-dir")
	defer os.RemoveAll("plitka-test-dir")
	d, err := NewDir("plitka-test-dir", testLogger())
	assert.Nil(t, err)

	key := geo.Key{0, 0}
	items := item.Items{testStroke(1, 10, 10), testStroke(2, 100, 100)}
	assert.Nil(t, d.Save(key, items))

	back, err := d.Load(key)
	assert.Nil(t, err)
	assert.Equal(t, items, back)

	keys, err := d.Keys()
	assert.Nil(t, err)
	assert.Equal(t, []geo.Key{key}, keys)

	assert.Nil(t, d.Delete(key))
	_, err = d.Load(key)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, d.Delete(key)) // double delete is fine
}

func TestDirCorruptRegion(t *testing.T) {
	_ = os.RemoveAll("plitka-test-corrupt")
	defer os.RemoveAll("plitka-test-corrupt")
	d, _ := NewDir("plitka-test-corrupt", testLogger())

	key := geo.Key{1, -2}
	assert.Nil(t, d.Save(key, item.Items{testStroke(1, 0, 0)}))

	// flip a payload byte, the checksum must catch it
	path := filepath.Join("plitka-test-corrupt", regionFileName(key))
	data, err := os.ReadFile(path)
	assert.Nil(t, err)
	data[len(data)/2] ^= 0xff
	assert.Nil(t, os.WriteFile(path, data, 0644))

	_, err = d.Load(key)
	assert.ErrorIs(t, err, ErrNotFound)

	// total garbage behaves the same
	assert.Nil(t, os.WriteFile(path, []byte("not a region"), 0644))
	_, err = d.Load(key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDirMisplacedFile(t *testing.T) {
	_ = os.RemoveAll("plitka-test-misplaced")
	defer os.RemoveAll("plitka-test-misplaced")
	d, _ := NewDir("plitka-test-misplaced", testLogger())

	a, b := geo.Key{0, 0}, geo.Key{5, 5}
	assert.Nil(t, d.Save(a, item.Items{testStroke(1, 0, 0)}))

	// a file copied under the wrong tile name must not decode
	data, _ := os.ReadFile(filepath.Join("plitka-test-misplaced", regionFileName(a)))
	assert.Nil(t, os.WriteFile(filepath.Join("plitka-test-misplaced", regionFileName(b)), data, 0644))
	_, err := d.Load(b)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDirIndex(t *testing.T) {
	_ = os.RemoveAll("plitka-test-index")
	defer os.RemoveAll("plitka-test-index")
	d, _ := NewDir("plitka-test-index", testLogger())

	_, err := d.LoadIndex()
	assert.ErrorIs(t, err, ErrNotFound)

	ix := NewIndex()
	ix.LastID = 42
	ix.Bounds[geo.Key{0, 0}] = geo.Rect{0, 0, 500, 500}
	ix.Bounds[geo.Key{-1, 3}] = geo.Rect{-900, 3000, -100, 3900}
	assert.Nil(t, d.SaveIndex(ix))

	back, err := d.LoadIndex()
	assert.Nil(t, err)
	assert.Equal(t, ix, back)
}

func TestDirThumbs(t *testing.T) {
	_ = os.RemoveAll("plitka-test-thumbs")
	defer os.RemoveAll("plitka-test-thumbs")
	d, _ := NewDir("plitka-test-thumbs", testLogger())

	key := geo.Key{2, 2}
	_, err := d.LoadThumb(key)
	assert.ErrorIs(t, err, ErrNotFound)

	png := []byte{0x89, 'P', 'N', 'G', 1, 2, 3}
	assert.Nil(t, d.SaveThumb(key, png))
	back, err := d.LoadThumb(key)
	assert.Nil(t, err)
	assert.Equal(t, png, back)

	assert.Nil(t, d.DeleteThumb(key))
	_, err = d.LoadThumb(key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDirSweepsTemp(t *testing.T) {
	_ = os.RemoveAll("plitka-test-sweep")
	defer os.RemoveAll("plitka-test-sweep")
	assert.Nil(t, os.MkdirAll("plitka-test-sweep", 0755))
	stale := filepath.Join("plitka-test-sweep", "r_0_0.bin.dead-session.tmp")
	assert.Nil(t, os.WriteFile(stale, []byte("junk"), 0644))

	_, err := NewDir("plitka-test-sweep", testLogger())
	assert.Nil(t, err)
	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
}

func TestRebuildIndex(t *testing.T) {
	_ = os.RemoveAll("plitka-test-rebuild")
	defer os.RemoveAll("plitka-test-rebuild")
	d, _ := NewDir("plitka-test-rebuild", testLogger())

	k1, k2 := geo.Key{0, 0}, geo.Key{3, -1}
	i1 := item.Items{testStroke(7, 10, 10)}
	i2 := item.Items{testStroke(9, 3100, -900), testStroke(12, 3200, -500)}
	assert.Nil(t, d.Save(k1, i1))
	assert.Nil(t, d.Save(k2, i2))

	ix, err := RebuildIndex(d, testLogger())
	assert.Nil(t, err)
	assert.Equal(t, uint64(12), ix.LastID)
	assert.Len(t, ix.Bounds, 2)
	assert.Equal(t, i1.Bounds(), ix.Bounds[k1])
	assert.Equal(t, i2.Bounds(), ix.Bounds[k2])
}
