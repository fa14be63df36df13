package plitka

import (
	"context"
	"sync"
	"time"

	"github.com/drpcorg/plitka/geo"
	"github.com/drpcorg/plitka/store"
	"github.com/pkg/errors"
)

// regionLoad is the shared future for one in-flight durable-store
// read. The winner fills r/err before closing done; a nil r with a nil
// err means the region does not exist.
type regionLoad struct {
	done chan struct{}
	r    *Region
	err  error
}

// getRegion returns the live record for key, loading it from the
// durable store at most once no matter how many callers miss
// concurrently. A nil record with a nil error means the key holds
// nothing.
func (eng *Engine) getRegion(ctx context.Context, key geo.Key) (*Region, error) {
	eng.lock.Lock()
	if eng.closed {
		eng.lock.Unlock()
		return nil, ErrClosed
	}
	if r, ok := eng.cache.get(key); ok {
		eng.lock.Unlock()
		CacheHitCount.WithLabelValues("primary").Inc()
		return r, nil
	}
	if r, ok := eng.over.take(key); ok {
		eng.cache.put(key, r, r.estimate())
		eng.lock.Unlock()
		CacheHitCount.WithLabelValues("overflow").Inc()
		return r, nil
	}
	if r, ok := eng.pending.Load(key); ok {
		// still queued for its disk write, which proceeds regardless
		eng.cache.put(key, r, r.estimate())
		eng.lock.Unlock()
		CacheHitCount.WithLabelValues("pending").Inc()
		return r, nil
	}
	bounds, present := eng.index[key]
	if !present {
		eng.lock.Unlock()
		return nil, nil
	}
	if ld, ok := eng.loads[key]; ok {
		eng.lock.Unlock()
		CacheMissCount.WithLabelValues("joined").Inc()
		select {
		case <-ld.done:
			return ld.r, ld.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	ld := &regionLoad{done: make(chan struct{})}
	eng.loads[key] = ld
	eng.lock.Unlock()
	CacheMissCount.WithLabelValues("load").Inc()
	return eng.loadRegion(key, bounds, ld)
}

// loadRegion is the winner's half of the dedup dance: read outside any
// lock, then publish under the exclusive section. Missing or corrupt
// files heal the index instead of erroring; a record that appeared in
// memory while we were reading wins over our read.
func (eng *Engine) loadRegion(key geo.Key, bounds geo.Rect, ld *regionLoad) (*Region, error) {
	start := time.Now()
	items, err := eng.store.Load(key)
	eng.loadAvg.Add(float64(time.Since(start).Microseconds()))

	eng.lock.Lock()
	defer func() {
		delete(eng.loads, key)
		eng.lock.Unlock()
		close(ld.done)
	}()

	if r, ok := eng.liveRegion(key); ok {
		eng.cache.put(key, r, r.estimate())
		ld.r = r
		return r, nil
	}
	if _, ok := eng.index[key]; !ok {
		// deleted while we were reading
		return nil, nil
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			delete(eng.index, key)
			eng.tree.Remove(key)
			eng.indexRev++
			eng.log.Warn("dropped ghost index entry", "key", key.String())
			HealCount.WithLabelValues("ghost").Inc()
			return nil, nil
		}
		ld.err = err
		return nil, err
	}
	r := newRegion(key, eng.opts.RegionSize)
	r.setItems(items)
	if r.bounds != bounds {
		// the file is the truth, the index entry was stale
		eng.index[key] = r.bounds
		eng.tree.Update(key, r.bounds)
		eng.indexRev++
		HealCount.WithLabelValues("bounds").Inc()
	}
	for _, it := range items {
		eng.noteID(it.ID)
	}
	eng.cache.put(key, r, r.estimate())
	ld.r = r
	return r, nil
}

// preloadRegions warms all listed keys concurrently so the exclusive
// section that follows finds them in memory. Returns the first load
// failure, if any.
func (eng *Engine) preloadRegions(ctx context.Context, keys []geo.Key) error {
	switch len(keys) {
	case 0:
		return nil
	case 1:
		_, err := eng.getRegion(ctx, keys[0])
		return err
	}
	var wg sync.WaitGroup
	errs := make([]error, len(keys))
	for i, key := range keys {
		wg.Add(1)
		go func(i int, key geo.Key) {
			defer wg.Done()
			_, errs[i] = eng.getRegion(ctx, key)
		}(i, key)
	}
	wg.Wait()
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}
