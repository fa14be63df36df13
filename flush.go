package plitka

import (
	"errors"
	"time"

	"github.com/drpcorg/plitka/geo"
	"github.com/drpcorg/plitka/item"
	"github.com/drpcorg/plitka/store"
)

// flushReq asks the flusher for one full cycle and carries the joined
// error back to the caller.
type flushReq struct {
	reply chan error
}

func (eng *Engine) wakeFlusher() {
	select {
	case eng.wake <- struct{}{}:
	default:
	}
}

// runFlusher is the only goroutine that writes to the store. Funneling
// every region save, file deletion and index save through it means two
// writers can never race on the same file, and eviction callbacks stay
// free of I/O.
func (eng *Engine) runFlusher() {
	defer eng.wg.Done()
	ticker := time.NewTicker(eng.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-eng.stop:
			// teardown can still evict dirty records after the final
			// SaveAll, drain them while the store is open
			if err := eng.flushCycle(); err != nil {
				eng.log.Error("final flush", "error", err)
			}
			return
		case <-ticker.C:
			if err := eng.flushCycle(); err != nil {
				eng.log.Error("background flush", "error", err)
			}
		case <-eng.wake:
			if err := eng.flushCycle(); err != nil {
				eng.log.Error("background flush", "error", err)
			}
		case req := <-eng.reqs:
			req.reply <- eng.flushCycle()
		}
	}
}

type saveJob struct {
	key   geo.Key
	reg   *Region
	rev   uint64
	items item.Items
}

// flushCycle pushes memory to storage: pending file deletions first,
// then thumbnail deletions, then every dirty record, then the index if
// it moved. Per-region failures are logged, kept for retry and joined
// into the returned error; one bad tile never stops the rest.
func (eng *Engine) flushCycle() error {
	var errs []error

	var dels []geo.Key
	eng.deletes.Range(func(key geo.Key, _ bool) bool {
		dels = append(dels, key)
		return true
	})
	for _, key := range dels {
		if _, claimed := eng.deletes.LoadAndDelete(key); !claimed {
			continue
		}
		eng.lock.RLock()
		_, revived := eng.index[key]
		eng.lock.RUnlock()
		if revived {
			continue
		}
		if err := eng.store.Delete(key); err != nil && !errors.Is(err, store.ErrNotFound) {
			eng.log.Error("region file deletion failed", "key", key.String(), "error", err)
			eng.deletes.Store(key, true)
			errs = append(errs, err)
			continue
		}
		if err := eng.store.DeleteThumb(key); err != nil && !errors.Is(err, store.ErrNotFound) {
			eng.log.Warn("thumbnail deletion failed", "key", key.String(), "error", err)
		}
		FlushOpCount.WithLabelValues("delete").Inc()
	}

	var tdels []geo.Key
	eng.thumbs.Range(func(key geo.Key, _ bool) bool {
		tdels = append(tdels, key)
		return true
	})
	for _, key := range tdels {
		if _, claimed := eng.thumbs.LoadAndDelete(key); !claimed {
			continue
		}
		if err := eng.store.DeleteThumb(key); err != nil && !errors.Is(err, store.ErrNotFound) {
			eng.log.Warn("thumbnail deletion failed", "key", key.String(), "error", err)
		}
	}

	// rendered bitmaps go to disk only if they still depict the tile's
	// current visual revision
	var tsaves []geo.Key
	eng.thumbSaves.Range(func(key geo.Key, _ thumbSave) bool {
		tsaves = append(tsaves, key)
		return true
	})
	for _, key := range tsaves {
		ts, claimed := eng.thumbSaves.LoadAndDelete(key)
		if !claimed {
			continue
		}
		eng.lock.RLock()
		fresh := ts.reg.thumbRev == ts.rev
		eng.lock.RUnlock()
		if !fresh {
			continue
		}
		if err := eng.store.SaveThumb(key, ts.data); err != nil {
			eng.log.Warn("thumbnail save failed", "key", key.String(), "error", err)
		}
	}

	// snapshot every dirty record under the shared lock; the clone
	// plus the revision let the write happen outside any lock and the
	// dirty flag be cleared only if nothing changed meanwhile
	seen := make(map[geo.Key]bool)
	var jobs []saveJob
	eng.lock.RLock()
	collect := func(key geo.Key, r *Region) {
		if seen[key] || !r.dirty {
			return
		}
		seen[key] = true
		jobs = append(jobs, saveJob{key: key, reg: r, rev: r.rev, items: r.items.Clone()})
	}
	for _, ent := range eng.cache.snapshot() {
		collect(ent.key, ent.reg)
	}
	for _, ent := range eng.over.snapshot() {
		collect(ent.key, ent.reg)
	}
	eng.pending.Range(func(key geo.Key, r *Region) bool {
		collect(key, r)
		return true
	})
	eng.lock.RUnlock()

	for _, job := range jobs {
		if err := eng.store.Save(job.key, job.items); err != nil {
			eng.log.Error("region save failed, data at risk", "key", job.key.String(), "items", len(job.items), "error", err)
			errs = append(errs, err)
			continue
		}
		FlushOpCount.WithLabelValues("save").Inc()
		eng.lock.Lock()
		if job.reg.rev == job.rev {
			job.reg.dirty = false
			eng.pending.CompareAndDelete(job.key, job.reg)
		}
		eng.lock.Unlock()
	}

	eng.lock.RLock()
	rev := eng.indexRev
	dirtyIndex := rev != eng.savedIndexRev
	var ix *store.Index
	if dirtyIndex {
		ix = &store.Index{Bounds: make(map[geo.Key]geo.Rect, len(eng.index)), LastID: eng.lastID}
		for key, b := range eng.index {
			ix.Bounds[key] = b
		}
	}
	eng.lock.RUnlock()
	if dirtyIndex {
		if err := eng.store.SaveIndex(ix); err != nil {
			eng.log.Error("index save failed", "regions", len(ix.Bounds), "error", err)
			errs = append(errs, err)
		} else {
			eng.savedIndexRev = rev
			FlushOpCount.WithLabelValues("index").Inc()
		}
	}
	return errors.Join(errs...)
}

// runAuditor periodically verifies the skeleton index against the flat
// one and lets Audit rebuild on mismatch.
func (eng *Engine) runAuditor() {
	defer eng.wg.Done()
	ticker := time.NewTicker(eng.opts.AuditInterval)
	defer ticker.Stop()
	for {
		select {
		case <-eng.stop:
			return
		case <-ticker.C:
			eng.Audit()
		}
	}
}
