package plitka

import (
	"context"
	"errors"

	"github.com/drpcorg/plitka/geo"
	"github.com/drpcorg/plitka/store"
)

// thumbRender is the shared future for one in-flight render, so
// concurrent requests for the same missing thumbnail cost one Render
// call.
type thumbRender struct {
	done chan struct{}
	data []byte
	err  error
}

// thumbSave is a rendered bitmap queued for persistence, tagged with
// the visual revision it depicts so the flusher can drop it if the
// tile changed before the write happened.
type thumbSave struct {
	reg  *Region
	rev  uint64
	data []byte
}

// GetThumbnail returns the raster preview of one tile, checking in
// order: the record's cached bitmap, the stored thumbnail, a fresh
// render. The render input is everything visually inside the tile,
// items filed under neighbor keys included. Returns nil for a tile
// with no content.
func (eng *Engine) GetThumbnail(ctx context.Context, key geo.Key) ([]byte, error) {
	r, err := eng.getRegion(ctx, key)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, nil
	}
	eng.lock.RLock()
	data, rev := r.thumb, r.thumbRev
	eng.lock.RUnlock()
	if data != nil {
		return data, nil
	}

	// a stored thumbnail scheduled for deletion is already stale even
	// if the flusher has not gotten to the file yet
	if _, doomed := eng.thumbs.Load(key); !doomed {
		stored, lerr := eng.store.LoadThumb(key)
		if lerr == nil {
			eng.attachThumb(r, key, stored, rev, false)
			return stored, nil
		}
		if !errors.Is(lerr, store.ErrNotFound) {
			return nil, lerr
		}
	}
	if eng.opts.Renderer == nil {
		return nil, ErrNoRenderer
	}

	fut := &thumbRender{done: make(chan struct{})}
	if prev, loaded := eng.renders.LoadOrStore(key, fut); loaded {
		select {
		case <-prev.done:
			return prev.data, prev.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	defer close(fut.done)
	defer eng.renders.Delete(key)

	tile := key.Bounds(eng.opts.RegionSize)
	items, err := eng.GetRegionsInRect(ctx, tile)
	if err != nil {
		fut.err = err
		return nil, err
	}
	bitmap, err := eng.opts.Renderer.Render(items, tile)
	if err != nil {
		fut.err = err
		return nil, err
	}
	ThumbRenderCount.Inc()
	eng.attachThumb(r, key, bitmap, rev, true)
	fut.data = bitmap
	return bitmap, nil
}

// attachThumb puts a bitmap on the live record and optionally queues
// its persistence. Nothing happens if the tile's visual revision moved
// while the bitmap was being produced, or if the record under key is
// no longer the one the caller rendered for.
func (eng *Engine) attachThumb(r *Region, key geo.Key, data []byte, rev uint64, persist bool) {
	eng.lock.Lock()
	defer eng.lock.Unlock()
	if eng.closed {
		return
	}
	cur, ok := eng.readRegion(key)
	if !ok || cur != r || r.thumbRev != rev {
		return
	}
	r.thumb = data
	if taken, inCache := eng.cache.beginResize(key); inCache {
		taken.est = 0
		eng.cache.put(key, taken, taken.estimate())
	}
	if persist {
		eng.thumbSaves.Store(key, thumbSave{reg: r, rev: rev, data: data})
		eng.wakeFlusher()
	}
}

// invalidateThumbs drops every cached thumbnail whose tile overlaps b
// and schedules the stored copies for deletion. An item can extend
// visually beyond its home tile, so the whole covered key range is
// walked, not just the region the item is filed under. Caller holds
// the exclusive lock.
func (eng *Engine) invalidateThumbs(b geo.Rect) {
	if b.IsEmpty() {
		return
	}
	lo := geo.KeyAt(geo.Point{X: b.X0, Y: b.Y0}, eng.opts.RegionSize)
	hi := geo.KeyAt(geo.Point{X: b.X1, Y: b.Y1}, eng.opts.RegionSize)
	if (int64(hi.X-lo.X)+1)*(int64(hi.Y-lo.Y)+1) > 4096 {
		// one absurdly large item must not turn into a grid walk over
		// millions of keys; the index is the smaller set then
		for key := range eng.index {
			if key.Bounds(eng.opts.RegionSize).Intersects(b) {
				eng.invalidateThumb(key)
			}
		}
		eng.wakeFlusher()
		return
	}
	for ky := lo.Y; ky <= hi.Y; ky++ {
		for kx := lo.X; kx <= hi.X; kx++ {
			eng.invalidateThumb(geo.Key{X: kx, Y: ky})
		}
	}
	eng.wakeFlusher()
}

func (eng *Engine) invalidateThumb(key geo.Key) {
	if r, ok := eng.readRegion(key); ok {
		r.thumb = nil
		r.thumbRev++
	}
	eng.renders.Delete(key)
	if _, indexed := eng.index[key]; indexed {
		eng.thumbs.Store(key, true)
	}
}
