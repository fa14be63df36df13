package plitka

import (
	"context"
	"errors"
	"fmt"

	"github.com/drpcorg/plitka/geo"
	"github.com/drpcorg/plitka/item"
	"github.com/drpcorg/plitka/qtree"
)

// AddItem files one item under the tile holding its bounding-box
// center and returns the item's id. A zero id is assigned from the
// engine watermark; a nonzero id is kept, so restores replay with
// stable identities.
func (eng *Engine) AddItem(ctx context.Context, it item.Item) (uint64, error) {
	ids, err := eng.AddItems(ctx, item.Items{it})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// AddItems inserts a batch. Target regions are warmed concurrently
// before the exclusive section, so disk reads never happen under the
// lock. Regions commit one by one: a concurrent reader may observe the
// batch partially applied across regions, never within one.
func (eng *Engine) AddItems(ctx context.Context, items item.Items) ([]uint64, error) {
	for i, it := range items {
		if !it.Valid() {
			return nil, errors.Join(ErrBadItem, fmt.Errorf("item %d of %d, kind %q", i, len(items), byte(it.Kind)))
		}
	}
	ids := make([]uint64, len(items))
	groups := make(map[geo.Key][]int)
	for i, it := range items {
		key := geo.KeyAt(it.Center(), eng.opts.RegionSize)
		groups[key] = append(groups[key], i)
	}
	keys := make([]geo.Key, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}

	for len(keys) > 0 {
		if err := eng.preloadRegions(ctx, keys); err != nil {
			return nil, err
		}
		eng.lock.Lock()
		if eng.closed {
			eng.lock.Unlock()
			return nil, ErrClosed
		}
		var retry []geo.Key
		for _, key := range keys {
			r, ok := eng.takeForWrite(key)
			if !ok {
				if _, present := eng.index[key]; present {
					// evicted again between warm-up and lock, reload
					retry = append(retry, key)
					continue
				}
				r = newRegion(key, eng.opts.RegionSize)
			}
			for _, i := range groups[key] {
				it := items[i]
				if it.ID == 0 {
					it.ID = eng.nextID()
				} else {
					eng.noteID(it.ID)
				}
				ids[i] = it.ID
				r.insert(it)
				eng.invalidateThumbs(it.Bounds())
			}
			eng.commitRegion(r)
			ItemAddCount.Add(float64(len(groups[key])))
		}
		eng.lock.Unlock()
		keys = retry
	}
	return ids, nil
}

// RemoveItems deletes the given items wherever they are actually
// filed. Candidate regions are the item's own center tile plus every
// region whose indexed bounds overlap the item with a safety margin,
// which catches items filed before later edits shifted a region's
// bounds. Returns how many items were found and removed.
func (eng *Engine) RemoveItems(ctx context.Context, items item.Items) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	groups := make(map[geo.Key]map[uint64]bool)
	file := func(key geo.Key, id uint64) {
		ids := groups[key]
		if ids == nil {
			ids = make(map[uint64]bool)
			groups[key] = ids
		}
		ids[id] = true
	}
	eng.lock.RLock()
	if eng.closed {
		eng.lock.RUnlock()
		return 0, ErrClosed
	}
	for _, it := range items {
		file(geo.KeyAt(it.Center(), eng.opts.RegionSize), it.ID)
		around := it.Bounds().Inflate(eng.opts.RemoveMargin)
		for _, key := range eng.tree.Query(around) {
			file(key, it.ID)
		}
	}
	eng.lock.RUnlock()

	keys := make([]geo.Key, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	removedIDs := make(map[uint64]bool)

	for len(keys) > 0 {
		if err := eng.preloadRegions(ctx, keys); err != nil {
			return 0, err
		}
		eng.lock.Lock()
		if eng.closed {
			eng.lock.Unlock()
			return 0, ErrClosed
		}
		var retry []geo.Key
		for _, key := range keys {
			r, ok := eng.takeForWrite(key)
			if !ok {
				if _, present := eng.index[key]; present {
					retry = append(retry, key)
				}
				continue
			}
			var present []uint64
			for id := range groups[key] {
				if r.items.FindID(id) >= 0 {
					present = append(present, id)
				}
			}
			if len(present) == 0 {
				eng.cache.put(key, r, r.estimate())
				continue
			}
			r.removeIDs(groups[key])
			for _, id := range present {
				removedIDs[id] = true
			}
			ItemRemoveCount.Add(float64(len(present)))
			eng.commitRegion(r)
		}
		for _, it := range items {
			if removedIDs[it.ID] {
				eng.invalidateThumbs(it.Bounds())
			}
		}
		eng.lock.Unlock()
		keys = retry
	}
	return len(removedIDs), nil
}

// GetRegion returns copies of the items filed under key, or nil when
// the region holds nothing.
func (eng *Engine) GetRegion(ctx context.Context, key geo.Key) (item.Items, error) {
	r, err := eng.getRegion(ctx, key)
	if err != nil || r == nil {
		return nil, err
	}
	eng.lock.RLock()
	defer eng.lock.RUnlock()
	return r.items.Clone(), nil
}

// GetRegionsInRect returns copies of every item visually intersecting
// q, across all regions the skeleton index reports as overlapping.
func (eng *Engine) GetRegionsInRect(ctx context.Context, q geo.Rect) (item.Items, error) {
	if q.IsEmpty() {
		return nil, nil
	}
	eng.lock.RLock()
	if eng.closed {
		eng.lock.RUnlock()
		return nil, ErrClosed
	}
	keys := eng.tree.Query(q)
	eng.lock.RUnlock()

	var out item.Items
	for len(keys) > 0 {
		if err := eng.preloadRegions(ctx, keys); err != nil {
			return nil, err
		}
		eng.lock.RLock()
		var retry []geo.Key
		for _, key := range keys {
			r, ok := eng.readRegion(key)
			if !ok {
				if _, present := eng.index[key]; present {
					retry = append(retry, key)
				}
				continue
			}
			out = append(out, r.hit(q)...)
		}
		eng.lock.RUnlock()
		keys = retry
	}
	return out, nil
}

// readRegion is the shared-mode tier lookup: it never promotes or
// reorders anything, so it is safe under the read lock.
func (eng *Engine) readRegion(key geo.Key) (*Region, bool) {
	if r, ok := eng.cache.peek(key); ok {
		return r, true
	}
	if r, ok := eng.over.peek(key); ok {
		return r, true
	}
	if r, ok := eng.pending.Load(key); ok {
		return r, true
	}
	return nil, false
}

// GetActiveKeys lists every region key currently holding content.
func (eng *Engine) GetActiveKeys() []geo.Key {
	eng.lock.RLock()
	defer eng.lock.RUnlock()
	keys := make([]geo.Key, 0, len(eng.index))
	for key := range eng.index {
		keys = append(keys, key)
	}
	return keys
}

// GetContentBounds returns the union of all region content bounds, the
// extent of everything ever drawn and not yet removed.
func (eng *Engine) GetContentBounds() geo.Rect {
	eng.lock.RLock()
	defer eng.lock.RUnlock()
	b := geo.Empty()
	for _, rb := range eng.index {
		b = b.Union(rb)
	}
	return b
}

// SetPinnedRegions replaces the pin set. Pinned regions survive
// primary-cache eviction by moving to the overflow tier; entries whose
// pin was just dropped are promoted back to the primary tier and take
// their chances with the budget like everyone else.
func (eng *Engine) SetPinnedRegions(keys []geo.Key) {
	eng.lock.Lock()
	defer eng.lock.Unlock()
	if eng.closed {
		return
	}
	eng.pinned = make(map[geo.Key]bool, len(keys))
	for _, key := range keys {
		eng.pinned[key] = true
	}
	for _, ent := range eng.over.takeUnpinned(eng.pinned) {
		eng.cache.put(ent.key, ent.reg, ent.reg.estimate())
	}
	PinnedRegions.Set(float64(len(eng.pinned)))
}

// SaveAll flushes every dirty record, pending deletion and the index,
// returning only when storage has caught up with memory. Failures for
// individual regions are joined into the returned error but do not
// stop the rest of the flush.
func (eng *Engine) SaveAll(ctx context.Context) error {
	req := flushReq{reply: make(chan error, 1)}
	select {
	case eng.reqs <- req:
	case <-eng.stop:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clear drops every region, in memory and on disk. Dirty state is
// discarded, not persisted. The call returns once the backing files
// are actually gone.
func (eng *Engine) Clear(ctx context.Context) error {
	eng.lock.Lock()
	if eng.closed {
		eng.lock.Unlock()
		return ErrClosed
	}
	eng.cache.purge()
	eng.over.purge()
	eng.pending.Range(func(key geo.Key, _ *Region) bool {
		eng.pending.Delete(key)
		return true
	})
	for key := range eng.index {
		eng.deletes.Store(key, true)
		eng.thumbs.Store(key, true)
	}
	eng.index = make(map[geo.Key]geo.Rect)
	eng.tree = qtree.New(eng.opts.RegionSize)
	eng.indexRev++
	eng.pinned = make(map[geo.Key]bool)
	eng.renders.Clear()
	eng.lock.Unlock()
	eng.wakeFlusher()
	return eng.SaveAll(ctx)
}

// Audit checks the skeleton index against the authoritative flat index
// and rebuilds it wholesale on any mismatch. Desync is never fatal
// here, only logged.
func (eng *Engine) Audit() (repaired bool) {
	eng.lock.Lock()
	defer eng.lock.Unlock()
	if eng.closed {
		return false
	}
	ok := eng.tree.Len() == len(eng.index)
	if ok {
		for key, b := range eng.index {
			if tb, found := eng.tree.Get(key); !found || tb != b {
				ok = false
				break
			}
		}
	}
	if ok {
		return false
	}
	eng.log.Warn("skeleton index out of sync, rebuilding", "indexed", len(eng.index), "tracked", eng.tree.Len())
	eng.tree.Rebuild(eng.index)
	HealCount.WithLabelValues("rebuild").Inc()
	return true
}

// Stats is a point-in-time snapshot of the engine's gauges.
type Stats struct {
	Regions         int
	CacheRegions    int
	CacheBytes      int
	OverflowRegions int
	OverflowBytes   int
	PendingFlush    int
	Pinned          int
	LastID          uint64
	LoadAvgMicros   float64
	ContentBounds   geo.Rect
}

func (eng *Engine) Stats() Stats {
	eng.lock.RLock()
	defer eng.lock.RUnlock()
	s := Stats{
		Regions:         len(eng.index),
		CacheRegions:    eng.cache.len(),
		CacheBytes:      eng.cache.bytes(),
		OverflowRegions: eng.over.len(),
		OverflowBytes:   eng.over.bytes(),
		Pinned:          len(eng.pinned),
		LastID:          eng.lastID,
		LoadAvgMicros:   eng.loadAvg.Val(),
		ContentBounds:   geo.Empty(),
	}
	eng.pending.Range(func(geo.Key, *Region) bool {
		s.PendingFlush++
		return true
	})
	for _, rb := range eng.index {
		s.ContentBounds = s.ContentBounds.Union(rb)
	}
	return s
}
