package main

import (
	"github.com/drpcorg/plitka/geo"
	"github.com/drpcorg/plitka/item"
)

// asciiThumb rasterizes items into a small character grid, enough to
// eyeball what a tile holds from the terminal. Boxes fill their cells,
// strokes plot their points.
type asciiThumb struct{}

const thumbW, thumbH = 48, 16

func (asciiThumb) Render(items item.Items, tile geo.Rect) ([]byte, error) {
	var grid [thumbH][thumbW]byte
	for y := 0; y < thumbH; y++ {
		for x := 0; x < thumbW; x++ {
			grid[y][x] = '.'
		}
	}
	sx := float64(thumbW) / tile.Width()
	sy := float64(thumbH) / tile.Height()
	cell := func(v, origin, scale float64, max int) int {
		i := int((v - origin) * scale)
		if i < 0 {
			return 0
		}
		if i >= max {
			return max - 1
		}
		return i
	}
	for _, it := range items {
		b := it.Bounds()
		if !b.Intersects(tile) {
			continue
		}
		if it.Kind == item.KindStroke {
			for _, p := range it.Stroke.Points {
				if tile.Contains(p) {
					grid[cell(p.Y, tile.Y0, sy, thumbH)][cell(p.X, tile.X0, sx, thumbW)] = '*'
				}
			}
			continue
		}
		mark := byte('#')
		switch it.Kind {
		case item.KindText:
			mark = 'T'
		case item.KindLink:
			mark = 'L'
		}
		x0, x1 := cell(b.X0, tile.X0, sx, thumbW), cell(b.X1, tile.X0, sx, thumbW)
		y0, y1 := cell(b.Y0, tile.Y0, sy, thumbH), cell(b.Y1, tile.Y0, sy, thumbH)
		for y := y0; y <= y1; y++ {
			for x := x0; x <= x1; x++ {
				grid[y][x] = mark
			}
		}
	}
	out := make([]byte, 0, thumbH*(thumbW+1))
	for y := 0; y < thumbH; y++ {
		out = append(out, grid[y][:]...)
		out = append(out, '\n')
	}
	return out, nil
}
