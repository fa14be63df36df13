package plitka

import (
	"container/list"

	"github.com/drpcorg/plitka/geo"
)

// overflow is the secondary tier: insertion-ordered retention for
// records that were evicted from the primary cache while pinned. It has
// its own byte budget, normally a fraction of the primary one. All
// access happens under the engine's exclusive lock.
type overflow struct {
	limit int
	used  int
	order *list.List // *overEntry, oldest at the front
	byKey map[geo.Key]*list.Element
	// onDrop is the engine's save-if-dirty hook, fired for entries
	// pushed out of the overflow budget or rejected outright.
	onDrop func(key geo.Key, r *Region)
}

type overEntry struct {
	key  geo.Key
	reg  *Region
	size int
}

func newOverflow(limit int, onDrop func(geo.Key, *Region)) *overflow {
	return &overflow{
		limit:  limit,
		order:  list.New(),
		byKey:  make(map[geo.Key]*list.Element),
		onDrop: onDrop,
	}
}

// offer takes a pinned evictee. Oldest entries are dropped until the
// newcomer fits; a record that cannot fit even into an empty overflow
// is dropped itself rather than blowing the budget.
func (o *overflow) offer(key geo.Key, r *Region, size int) (kept bool) {
	if el, ok := o.byKey[key]; ok {
		o.unlink(el)
	}
	if size > o.limit {
		o.onDrop(key, r)
		return false
	}
	for o.used+size > o.limit && o.order.Len() > 0 {
		el := o.order.Front()
		e := el.Value.(*overEntry)
		o.unlink(el)
		o.onDrop(e.key, e.reg)
	}
	el := o.order.PushBack(&overEntry{key: key, reg: r, size: size})
	o.byKey[key] = el
	o.used += size
	return true
}

// peek looks the record up without disturbing retention order.
func (o *overflow) peek(key geo.Key) (*Region, bool) {
	el, ok := o.byKey[key]
	if !ok {
		return nil, false
	}
	return el.Value.(*overEntry).reg, true
}

// take removes and returns the record for key, if retained.
func (o *overflow) take(key geo.Key) (*Region, bool) {
	el, ok := o.byKey[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*overEntry)
	o.unlink(el)
	return e.reg, true
}

// takeUnpinned pulls out every entry whose key is no longer pinned, in
// insertion order, so the engine can promote them back to the primary
// tier after a pin-set change.
func (o *overflow) takeUnpinned(pinned map[geo.Key]bool) (out []cacheEntry) {
	el := o.order.Front()
	for el != nil {
		next := el.Next()
		e := el.Value.(*overEntry)
		if !pinned[e.key] {
			o.unlink(el)
			out = append(out, cacheEntry{key: e.key, reg: e.reg})
		}
		el = next
	}
	return
}

func (o *overflow) unlink(el *list.Element) {
	e := el.Value.(*overEntry)
	o.order.Remove(el)
	delete(o.byKey, e.key)
	o.used -= e.size
}

func (o *overflow) snapshot() (out []cacheEntry) {
	for el := o.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*overEntry)
		out = append(out, cacheEntry{key: e.key, reg: e.reg})
	}
	return
}

func (o *overflow) bytes() int { return o.used }
func (o *overflow) len() int   { return o.order.Len() }

func (o *overflow) purge() {
	o.order.Init()
	clear(o.byKey)
	o.used = 0
}
