package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestZigZagInt64(t *testing.T) {
	test := map[int64]uint64{
		0:   0,
		-14: 27,
		-10: 19,
		7:   14,
		20:  40,
	}
	for i, u := range test {
		u2 := ZigZagInt64(i)
		assert.Equal(t, u, u2)
		i2 := ZagZigUint64(u2)
		assert.Equal(t, i, i2)
	}
}

func TestZipFloat64(t *testing.T) {
	test := map[float64]int{
		0:     0,
		1:     2,
		1234:  3,
		12.25: 3,
	}
	for f, l := range test {
		u := ZipFloat64(f)
		assert.Equal(t, l, len(u))
		f2 := UnzipFloat64(u)
		assert.Equal(t, f, f2)
	}
}

func TestZipKey(t *testing.T) {
	keys := []Key{
		{0, 0},
		{1, 1},
		{-1, -1},
		{127, -128},
		{1 << 20, -(1 << 20)},
		{math.MaxInt32, math.MinInt32},
	}
	for _, k := range keys {
		zip := ZipKey(k)
		k2, err := UnzipKey(zip)
		assert.NoError(t, err)
		assert.Equal(t, k, k2)
	}
	_, err := UnzipKey(nil)
	assert.ErrorIs(t, err, ErrBadZip)
	_, err = UnzipKey([]byte{0x13, 1})
	assert.ErrorIs(t, err, ErrBadZip)
}

func TestZipRect(t *testing.T) {
	rects := []Rect{
		{0, 0, 1000, 1000},
		{-17.5, 3.25, 12, 99.75},
		Empty(),
	}
	for _, r := range rects {
		zip := ZipRect(r)
		r2, err := UnzipRect(zip)
		assert.NoError(t, err)
		assert.Equal(t, r, r2)
	}
	_, err := UnzipRect([]byte{9})
	assert.ErrorIs(t, err, ErrBadZip)
}

func TestZipPoints(t *testing.T) {
	pts := []Point{{0, 0}, {-3.5, 7.25}, {1e9, -1e9}}
	zip := ZipPoints(pts)
	assert.Equal(t, 48, len(zip))
	back, err := UnzipPoints(zip)
	assert.NoError(t, err)
	assert.Equal(t, pts, back)

	_, err = UnzipPoints(zip[:15])
	assert.ErrorIs(t, err, ErrBadZip)
}
