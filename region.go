package plitka

import (
	"github.com/drpcorg/plitka/geo"
	"github.com/drpcorg/plitka/item"
)

// gridN is the side of the per-region hit grid. 8x8 cells over a tile
// keeps in-region queries from scanning every item without any real
// bookkeeping cost; the grid is rebuilt from scratch after removals.
const gridN = 8

// Region is the in-memory record of one tile: the items filed under its
// key, a local hit grid, the cached union of item bounds, and flush
// state. All fields are guarded by the engine's structural lock; the
// flusher reads under the shared mode and mutators hold the exclusive
// mode.
type Region struct {
	key  geo.Key
	side float64

	items  item.Items
	grid   [gridN * gridN][]uint32 // item positions per cell
	bounds geo.Rect

	est      int    // cached byte estimate, 0 = stale
	dirty    bool   // content not yet persisted
	rev      uint64 // bumped on every mutation, lets the flusher detect races
	thumb    []byte // cached rendered thumbnail, nil when stale
	thumbRev uint64 // bumped whenever the tile's visual may have changed
}

func newRegion(key geo.Key, side float64) *Region {
	return &Region{key: key, side: side, bounds: geo.Empty()}
}

func (r *Region) Key() geo.Key     { return r.key }
func (r *Region) Bounds() geo.Rect { return r.bounds }
func (r *Region) Len() int         { return len(r.items) }

// cellRange maps a world rect to grid cell index ranges, clamped to the
// tile. A rect fully outside the tile degenerates to the nearest border
// row or column, which is exactly where spilled-over items register.
func (r *Region) cellRange(b geo.Rect) (x0, y0, x1, y1 int) {
	tile := r.key.Bounds(r.side)
	cell := r.side / gridN
	clamp := func(v float64) int {
		i := int(v)
		if i < 0 {
			return 0
		}
		if i >= gridN {
			return gridN - 1
		}
		return i
	}
	x0 = clamp((b.X0 - tile.X0) / cell)
	y0 = clamp((b.Y0 - tile.Y0) / cell)
	x1 = clamp((b.X1 - tile.X0) / cell)
	y1 = clamp((b.Y1 - tile.Y0) / cell)
	return
}

func (r *Region) gridAdd(pos uint32, b geo.Rect) {
	x0, y0, x1, y1 := r.cellRange(b)
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			c := y*gridN + x
			r.grid[c] = append(r.grid[c], pos)
		}
	}
}

func (r *Region) rebuildGrid() {
	for i := range r.grid {
		r.grid[i] = r.grid[i][:0]
	}
	for pos := range r.items {
		r.gridAdd(uint32(pos), r.items[pos].Bounds())
	}
}

// insert files one item into the record. Bounds grow by union; a full
// recompute only happens on removal.
func (r *Region) insert(it item.Item) {
	r.items = append(r.items, it)
	r.gridAdd(uint32(len(r.items)-1), it.Bounds())
	r.bounds = r.bounds.Union(it.Bounds())
	r.touch()
}

// removeIDs drops every item whose id is in ids and reports how many
// went. Bounds are recomputed from the remainder, not shrunk
// incrementally, so repeated edits cannot drift.
func (r *Region) removeIDs(ids map[uint64]bool) (removed int) {
	if len(ids) == 0 {
		return 0
	}
	kept := r.items[:0]
	for _, it := range r.items {
		if ids[it.ID] {
			removed++
		} else {
			kept = append(kept, it)
		}
	}
	if removed == 0 {
		return 0
	}
	r.items = kept
	r.bounds = r.items.Bounds()
	r.rebuildGrid()
	r.touch()
	return
}

// setItems replaces the whole content, used when reconstructing from
// storage. The record comes out clean: what was loaded is what is on
// disk.
func (r *Region) setItems(items item.Items) {
	r.items = items
	r.bounds = items.Bounds()
	r.rebuildGrid()
	r.est = 0
	r.thumb = nil
	r.dirty = false
	r.rev++
}

// hit returns clones of the items visually intersecting q, walking only
// the grid cells q touches.
func (r *Region) hit(q geo.Rect) (out item.Items) {
	if len(r.items) == 0 || q.IsEmpty() {
		return nil
	}
	x0, y0, x1, y1 := r.cellRange(q)
	var seen map[uint32]bool
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			for _, pos := range r.grid[y*gridN+x] {
				if seen[pos] {
					continue
				}
				if seen == nil {
					seen = make(map[uint32]bool)
				}
				seen[pos] = true
				if r.items[pos].Hit(q) {
					out = append(out, r.items[pos].Clone())
				}
			}
		}
	}
	return
}

func (r *Region) touch() {
	r.est = 0
	r.thumb = nil
	r.dirty = true
	r.rev++
	r.thumbRev++
}

// estimate returns the cached byte footprint, recomputing it lazily.
// The cache reads this, never a live recomputation, so accounting stays
// in step with the remove-mutate-reinsert dance.
func (r *Region) estimate() int {
	if r.est == 0 {
		r.est = 160 + r.items.EstSize() + len(r.thumb)
	}
	return r.est
}
