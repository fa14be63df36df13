package item

import (
	"testing"

	"github.com/drpcorg/plitka/geo"
	"github.com/stretchr/testify/assert"
)

func sampleItems() Items {
	return Items{
		{
			ID: 1, Z: 0, Kind: KindStroke,
			Stroke: &Stroke{
				Points: []geo.Point{{0, 0}, {10, 10}, {20, 5}},
				Width:  2,
				Color:  0xff00ff00,
			},
		},
		{
			ID: 2, Z: 1, Kind: KindImage,
			Image: &Image{Rect: geo.Rect{100, 100, 300, 250}, Ref: "pics/cat.png"},
		},
		{
			ID: 3, Z: -5, Kind: KindText,
			Text: &Text{Pos: geo.Point{50, 60}, Size: 14, Body: "hello"},
		},
		{
			ID: 4, Z: 2, Kind: KindLink,
			Link: &Link{Rect: geo.Rect{0, 100, 40, 120}, URL: "https://drpc.org"},
		},
	}
}

func TestCodecRoundTrip(t *testing.T) {
	items := sampleItems()
	data := Encode(items)
	back, err := Decode(data)
	assert.Nil(t, err)
	assert.Equal(t, items, back)
}

func TestDecodeCorrupt(t *testing.T) {
	data := Encode(sampleItems())

	_, err := Decode(data[:len(data)-3]) // truncated tail
	assert.NotNil(t, err)

	bad := append([]byte{}, data...)
	bad[0] = 'q' // not a kind tag
	_, err = Decode(bad)
	assert.ErrorIs(t, err, ErrBadItem)
}

func TestBounds(t *testing.T) {
	s := Item{ID: 1, Kind: KindStroke, Stroke: &Stroke{
		Points: []geo.Point{{0, 0}, {10, 10}}, Width: 4,
	}}
	assert.Equal(t, geo.Rect{-2, -2, 12, 12}, s.Bounds())
	assert.Equal(t, geo.Point{5, 5}, s.Center())

	l := Item{ID: 2, Kind: KindLink, Link: &Link{Rect: geo.Rect{0, 0, 8, 8}}}
	assert.Equal(t, geo.Rect{0, 0, 8, 8}, l.Bounds())
}

func TestHit(t *testing.T) {
	// diagonal stroke: box covers (0,0)-(10,10), ink only near the diagonal
	s := Item{ID: 1, Kind: KindStroke, Stroke: &Stroke{
		Points: []geo.Point{{0, 0}, {5, 5}, {10, 10}}, Width: 1,
	}}
	assert.True(t, s.Hit(geo.Rect{4, 4, 6, 6}))
	assert.False(t, s.Hit(geo.Rect{8, 0, 10, 2})) // empty corner of the box
	assert.False(t, s.Hit(geo.Rect{50, 50, 60, 60}))

	img := Item{ID: 2, Kind: KindImage, Image: &Image{Rect: geo.Rect{0, 0, 10, 10}, Ref: "x"}}
	assert.True(t, img.Hit(geo.Rect{9, 9, 20, 20}))
}

func TestItemsHelpers(t *testing.T) {
	items := sampleItems()
	assert.Equal(t, 1, items.FindID(2))
	assert.Equal(t, -1, items.FindID(99))
	assert.True(t, items.EstSize() > 0)

	b := items.Bounds()
	assert.True(t, b.ContainsRect(geo.Rect{100, 100, 300, 250}))
	assert.True(t, Items{}.Bounds().IsEmpty())
}

func TestClone(t *testing.T) {
	s := Item{ID: 1, Kind: KindStroke, Stroke: &Stroke{
		Points: []geo.Point{{0, 0}, {1, 1}}, Width: 2,
	}}
	c := s.Clone()
	c.Stroke.Points[0].X = 99
	assert.Equal(t, 0.0, s.Stroke.Points[0].X)
}
