package item

// A canvas item is one drawable thing: a pen stroke, a placed image,
// a text block or a link area. Every item carries a stable id (assigned
// once, survives save/load cycles and is the identity for removal), a
// z-order and exactly one kind-specific payload. The kind set is closed;
// geometry, size estimation and the codec all switch exhaustively over it.

import (
	"errors"
	"fmt"

	"github.com/drpcorg/plitka/geo"
)

type Kind byte

const (
	KindStroke Kind = 'S'
	KindImage  Kind = 'I'
	KindText   Kind = 'T'
	KindLink   Kind = 'L'
)

var ErrBadItem = errors.New("item: malformed item")

type Stroke struct {
	Points []geo.Point
	Width  float64
	Color  uint32
}

type Image struct {
	Rect geo.Rect
	Ref  string // file path or URL of the bitmap source
}

type Text struct {
	Pos  geo.Point // top-left anchor
	Size float64   // font size in world units
	Body string
}

type Link struct {
	Rect geo.Rect
	URL  string
}

type Item struct {
	ID   uint64
	Z    int32
	Kind Kind

	Stroke *Stroke
	Image  *Image
	Text   *Text
	Link   *Link
}

// Items
type Items []Item

func (k Kind) Valid() bool {
	switch k {
	case KindStroke, KindImage, KindText, KindLink:
		return true
	}
	return false
}

func (k Kind) String() string {
	switch k {
	case KindStroke:
		return "stroke"
	case KindImage:
		return "image"
	case KindText:
		return "text"
	case KindLink:
		return "link"
	}
	return "?"
}

// Valid reports whether the item's kind tag matches its payload.
func (it Item) Valid() bool {
	switch it.Kind {
	case KindStroke:
		return it.Stroke != nil && len(it.Stroke.Points) > 0
	case KindImage:
		return it.Image != nil && !it.Image.Rect.IsEmpty()
	case KindText:
		return it.Text != nil && len(it.Text.Body) > 0
	case KindLink:
		return it.Link != nil && !it.Link.Rect.IsEmpty()
	}
	return false
}

// Bounds returns the item's world-space bounding box. A stroke's box is
// inflated by half its width so the inked area is covered, not just the
// point skeleton.
func (it Item) Bounds() (b geo.Rect) {
	switch it.Kind {
	case KindStroke:
		b = geo.RectFromPoints(it.Stroke.Points).Inflate(it.Stroke.Width / 2)
	case KindImage:
		b = it.Image.Rect
	case KindText:
		// rough extent; the renderer owns exact text metrics
		w := float64(len(it.Text.Body)) * it.Text.Size * 0.6
		b = geo.Rect{
			X0: it.Text.Pos.X, Y0: it.Text.Pos.Y,
			X1: it.Text.Pos.X + w, Y1: it.Text.Pos.Y + it.Text.Size*1.2,
		}
	case KindLink:
		b = it.Link.Rect
	default:
		b = geo.Empty()
	}
	return
}

// Center returns the bounding-box center; region assignment keys off it.
func (it Item) Center() geo.Point {
	return it.Bounds().Center()
}

func (it Item) String() string {
	switch it.Kind {
	case KindStroke:
		return fmt.Sprintf("#%d %s pts=%d w=%g", it.ID, it.Kind, len(it.Stroke.Points), it.Stroke.Width)
	case KindImage:
		return fmt.Sprintf("#%d %s %s %q", it.ID, it.Kind, it.Image.Rect.String(), it.Image.Ref)
	case KindText:
		return fmt.Sprintf("#%d %s (%g,%g) %q", it.ID, it.Kind, it.Text.Pos.X, it.Text.Pos.Y, it.Text.Body)
	case KindLink:
		return fmt.Sprintf("#%d %s %s %q", it.ID, it.Kind, it.Link.Rect.String(), it.Link.URL)
	}
	return fmt.Sprintf("#%d ?", it.ID)
}

// EstSize approximates the in-memory footprint in bytes. The cache
// budget accounting sums these, so the estimate only has to be stable
// and roughly proportional, not exact.
func (it Item) EstSize() (sz int) {
	sz = 64 // struct header, id, z, tag
	switch it.Kind {
	case KindStroke:
		sz += 16*len(it.Stroke.Points) + 40
	case KindImage:
		sz += len(it.Image.Ref) + 56
	case KindText:
		sz += len(it.Text.Body) + 48
	case KindLink:
		sz += len(it.Link.URL) + 56
	}
	return
}

// Hit reports whether the item visually intersects the query rectangle.
// Rect-backed kinds test their box; a stroke additionally requires some
// point of the polyline (inflated by half the width) inside the query,
// so a diagonal stroke does not hit the empty corners of its box.
func (it Item) Hit(q geo.Rect) bool {
	if !it.Bounds().Intersects(q) {
		return false
	}
	switch it.Kind {
	case KindStroke:
		pad := it.Stroke.Width / 2
		probe := q.Inflate(pad)
		for _, p := range it.Stroke.Points {
			if probe.Contains(p) {
				return true
			}
		}
		return false
	case KindImage, KindText, KindLink:
		return true
	}
	return false
}

// Clone deep-copies the item so callers can hold it past the engine lock.
func (it Item) Clone() (c Item) {
	c = it
	switch it.Kind {
	case KindStroke:
		s := *it.Stroke
		s.Points = append([]geo.Point(nil), it.Stroke.Points...)
		c.Stroke = &s
	case KindImage:
		i := *it.Image
		c.Image = &i
	case KindText:
		t := *it.Text
		c.Text = &t
	case KindLink:
		l := *it.Link
		c.Link = &l
	}
	return
}

func (its Items) Bounds() (b geo.Rect) {
	b = geo.Empty()
	for _, it := range its {
		b = b.Union(it.Bounds())
	}
	return
}

func (its Items) EstSize() (sz int) {
	for _, it := range its {
		sz += it.EstSize()
	}
	return
}

func (its Items) Clone() Items {
	if its == nil {
		return nil
	}
	out := make(Items, len(its))
	for i := range its {
		out[i] = its[i].Clone()
	}
	return out
}

func (its Items) FindID(id uint64) int {
	for i := range its {
		if its[i].ID == id {
			return i
		}
	}
	return -1
}
