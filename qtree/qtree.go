package qtree

// Package qtree keeps the skeleton spatial index: a quadtree over
// lightweight region proxies {key, indexed bounds}, no item content.
// Range queries walk the tree; everything else the engine wants to know
// about a region goes through the global index, not here.
//
// Nodes live in a flat arena addressed by int32 handles, with freed
// slots recycled lowest-first through a min-heap. A proxy rests at the
// deepest node that fully contains its bounds. The tree partitions by
// the bounds given at insertion time, so a bounds change is always
// remove-then-insert, never an in-place edit.

import (
	"github.com/drpcorg/plitka/geo"
	"github.com/drpcorg/plitka/utils"
)

const nilNode int32 = -1

type node struct {
	box    geo.Rect
	parent int32
	kids   [4]int32
	keys   []geo.Key
}

type ref struct {
	node   int32
	bounds geo.Rect
}

type Tree struct {
	minSide float64 // nodes never split below this side length
	root    int32
	nodes   []node
	free    utils.Heap[int32]
	byKey   map[geo.Key]ref
}

// New creates an empty tree. minSide is normally the region side: there
// is no point partitioning space finer than one tile.
func New(minSide float64) *Tree {
	return &Tree{
		minSide: minSide,
		root:    nilNode,
		byKey:   make(map[geo.Key]ref),
	}
}

func (t *Tree) Len() int {
	return len(t.byKey)
}

// Get returns the currently indexed bounds for a key.
func (t *Tree) Get(key geo.Key) (geo.Rect, bool) {
	r, ok := t.byKey[key]
	return r.bounds, ok
}

// Update inserts the proxy for key or moves it to match new bounds.
// Empty bounds mean the region is not spatially discoverable, which is
// the same thing as absent.
func (t *Tree) Update(key geo.Key, bounds geo.Rect) {
	if bounds.IsEmpty() {
		t.Remove(key)
		return
	}
	if old, ok := t.byKey[key]; ok {
		if old.bounds == bounds {
			return
		}
		t.detach(key, old.node)
	}
	t.growRoot(key, bounds)
	n := t.descend(bounds)
	t.nodes[n].keys = append(t.nodes[n].keys, key)
	t.byKey[key] = ref{node: n, bounds: bounds}
}

// Remove drops the proxy for key, reporting whether it was present.
func (t *Tree) Remove(key geo.Key) bool {
	r, ok := t.byKey[key]
	if !ok {
		return false
	}
	delete(t.byKey, key)
	t.detach(key, r.node)
	if len(t.byKey) == 0 {
		t.reset()
	}
	return true
}

// Query returns the keys of all proxies whose bounds intersect rect.
// Each key appears at most once since a key owns exactly one proxy.
func (t *Tree) Query(rect geo.Rect) (keys []geo.Key) {
	if t.root == nilNode || rect.IsEmpty() {
		return nil
	}
	stack := []int32{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		nd := &t.nodes[n]
		if !nd.box.Intersects(rect) {
			continue
		}
		for _, key := range nd.keys {
			if t.byKey[key].bounds.Intersects(rect) {
				keys = append(keys, key)
			}
		}
		for _, kid := range nd.kids {
			if kid != nilNode {
				stack = append(stack, kid)
			}
		}
	}
	return
}

// Rebuild throws the whole tree away and reindexes from scratch. The
// consistency audit calls this instead of patching a diverged tree.
func (t *Tree) Rebuild(entries map[geo.Key]geo.Rect) {
	t.reset()
	for key, bounds := range entries {
		t.Update(key, bounds)
	}
}

func (t *Tree) reset() {
	t.root = nilNode
	t.nodes = t.nodes[:0]
	t.free = utils.Heap[int32]{}
	clear(t.byKey)
}

func (t *Tree) alloc(box geo.Rect, parent int32) int32 {
	n := node{box: box, parent: parent, kids: [4]int32{nilNode, nilNode, nilNode, nilNode}}
	if t.free.Len() > 0 {
		h := t.free.Pop()
		t.nodes[h] = n
		return h
	}
	t.nodes = append(t.nodes, n)
	return int32(len(t.nodes) - 1)
}

// growRoot widens the root box by doubling until it contains bounds.
// The previous root becomes one quadrant of each new root.
func (t *Tree) growRoot(key geo.Key, bounds geo.Rect) {
	if t.root == nilNode {
		// seed with the tile of the owning key; doubling does the rest
		t.root = t.alloc(key.Bounds(t.minSide), nilNode)
	}
	for !t.nodes[t.root].box.ContainsRect(bounds) {
		box := t.nodes[t.root].box
		w, h := box.Width(), box.Height()
		grown := box
		quad := 0
		if bounds.X0 < box.X0 {
			grown.X0 -= w
			quad |= 1
		} else {
			grown.X1 += w
		}
		if bounds.Y0 < box.Y0 {
			grown.Y0 -= h
			quad |= 2
		} else {
			grown.Y1 += h
		}
		old := t.root
		t.root = t.alloc(grown, nilNode)
		t.nodes[t.root].kids[quad] = old
		t.nodes[old].parent = t.root
	}
}

// descend walks from the root to the deepest node fully containing
// bounds, creating child nodes on the way down as needed.
func (t *Tree) descend(bounds geo.Rect) int32 {
	n := t.root
	for {
		box := t.nodes[n].box
		if box.Width() < t.minSide*2 {
			return n
		}
		quad := -1
		for i := 0; i < 4; i++ {
			if quadBox(box, i).ContainsRect(bounds) {
				quad = i
				break
			}
		}
		if quad < 0 {
			return n // straddles the center lines, rests here
		}
		kid := t.nodes[n].kids[quad]
		if kid == nilNode {
			kid = t.alloc(quadBox(box, quad), n)
			t.nodes[n].kids[quad] = kid
		}
		n = kid
	}
}

// quadBox returns quadrant i of box; bit 0 selects the x half, bit 1
// the y half.
func quadBox(box geo.Rect, i int) geo.Rect {
	c := box.Center()
	q := box
	if i&1 == 0 {
		q.X1 = c.X
	} else {
		q.X0 = c.X
	}
	if i&2 == 0 {
		q.Y1 = c.Y
	} else {
		q.Y0 = c.Y
	}
	return q
}

// detach removes key from its node and prunes empty nodes upward.
func (t *Tree) detach(key geo.Key, n int32) {
	keys := t.nodes[n].keys
	for i := range keys {
		if keys[i] == key {
			keys[i] = keys[len(keys)-1]
			t.nodes[n].keys = keys[:len(keys)-1]
			break
		}
	}
	for n != nilNode && n != t.root && len(t.nodes[n].keys) == 0 {
		nd := &t.nodes[n]
		for _, kid := range nd.kids {
			if kid != nilNode {
				return
			}
		}
		p := nd.parent
		for i, kid := range t.nodes[p].kids {
			if kid == n {
				t.nodes[p].kids[i] = nilNode
				break
			}
		}
		t.free.Push(n)
		n = p
	}
}
