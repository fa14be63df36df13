// Package geo holds the small value types the engine is built on: world
// points, axis-aligned rects and discrete region keys, plus the compact
// byte codecs used to persist them.
package geo

import (
	"fmt"
	"math"
)

// Point is a position in world coordinates.
type Point struct {
	X, Y float64
}

// Rect is an axis-aligned box [X0,X1)×[Y0,Y1) in world coordinates.
// A rect with X1 < X0 is the empty rect; use Empty() to make one.
type Rect struct {
	X0, Y0, X1, Y1 float64
}

// Empty returns the canonical empty rect. Union with it is a no-op,
// nothing intersects it.
func Empty() Rect {
	return Rect{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
}

func (r Rect) IsEmpty() bool {
	return r.X1 < r.X0 || r.Y1 < r.Y0
}

func (r Rect) Width() float64 {
	if r.IsEmpty() {
		return 0
	}
	return r.X1 - r.X0
}

func (r Rect) Height() float64 {
	if r.IsEmpty() {
		return 0
	}
	return r.Y1 - r.Y0
}

func (r Rect) Center() Point {
	return Point{(r.X0 + r.X1) / 2, (r.Y0 + r.Y1) / 2}
}

func (r Rect) Union(o Rect) Rect {
	if r.IsEmpty() {
		return o
	}
	if o.IsEmpty() {
		return r
	}
	return Rect{
		math.Min(r.X0, o.X0), math.Min(r.Y0, o.Y0),
		math.Max(r.X1, o.X1), math.Max(r.Y1, o.Y1),
	}
}

func (r Rect) Intersects(o Rect) bool {
	if r.IsEmpty() || o.IsEmpty() {
		return false
	}
	return r.X0 <= o.X1 && o.X0 <= r.X1 && r.Y0 <= o.Y1 && o.Y0 <= r.Y1
}

func (r Rect) Contains(p Point) bool {
	return !r.IsEmpty() && p.X >= r.X0 && p.X <= r.X1 && p.Y >= r.Y0 && p.Y <= r.Y1
}

// ContainsRect reports whether o lies fully inside r. An empty o is
// contained by anything non-empty.
func (r Rect) ContainsRect(o Rect) bool {
	if r.IsEmpty() {
		return false
	}
	if o.IsEmpty() {
		return true
	}
	return o.X0 >= r.X0 && o.X1 <= r.X1 && o.Y0 >= r.Y0 && o.Y1 <= r.Y1
}

// Inflate grows the rect by d on every side. Negative d shrinks it.
func (r Rect) Inflate(d float64) Rect {
	if r.IsEmpty() {
		return r
	}
	return Rect{r.X0 - d, r.Y0 - d, r.X1 + d, r.Y1 + d}
}

func (r Rect) String() string {
	if r.IsEmpty() {
		return "[empty]"
	}
	return fmt.Sprintf("[%g %g %g %g]", r.X0, r.Y0, r.X1, r.Y1)
}

// RectFromPoints returns the bounding rect of a point set, Empty() for none.
func RectFromPoints(pts []Point) Rect {
	ret := Empty()
	for _, p := range pts {
		if p.X < ret.X0 {
			ret.X0 = p.X
		}
		if p.Y < ret.Y0 {
			ret.Y0 = p.Y
		}
		if p.X > ret.X1 {
			ret.X1 = p.X
		}
		if p.Y > ret.Y1 {
			ret.Y1 = p.Y
		}
	}
	return ret
}

// Key identifies one region of the canvas: the square tile
// [X*S, (X+1)*S) x [Y*S, (Y+1)*S) for a region side S.
type Key struct {
	X, Y int32
}

// KeyAt maps a world point to the key of the tile containing it.
func KeyAt(p Point, size float64) Key {
	return Key{
		X: int32(math.Floor(p.X / size)),
		Y: int32(math.Floor(p.Y / size)),
	}
}

// Bounds is the world-space square covered by the key.
func (k Key) Bounds(size float64) Rect {
	x, y := float64(k.X)*size, float64(k.Y)*size
	return Rect{x, y, x + size, y + size}
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%d", k.X, k.Y)
}
