/*
Package plitka is a region storage and caching engine for an infinite
drawing canvas. Items (strokes, images, text, links) are bucketed into
fixed-size square regions by the center of their bounding box; each
region is persisted as one file, indexed spatially, cached under a byte
budget, and survives eviction through a write-behind flusher.

The engine object owns four pieces of structural state under one
shared/exclusive lock: the global index (the authoritative key->bounds
map), the skeleton quadtree mirroring it for range queries, the primary
LRU cache, and the overflow tier holding pinned evictees. Durable-store
reads and writes never happen inside the exclusive section.
*/
package plitka

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/drpcorg/plitka/geo"
	"github.com/drpcorg/plitka/item"
	"github.com/drpcorg/plitka/qtree"
	"github.com/drpcorg/plitka/store"
	"github.com/drpcorg/plitka/utils"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

var (
	ErrClosed     = errors.New("plitka: engine is closed")
	ErrNoRenderer = errors.New("plitka: no thumbnail renderer configured")
	ErrBadItem    = errors.New("plitka: invalid item")
)

type Options struct {
	// RegionSize is the world-space side of one square tile.
	RegionSize float64
	// MemoryLimitBytes bounds the primary cache.
	MemoryLimitBytes int
	// OverflowFraction sizes the overflow tier relative to the primary
	// budget.
	OverflowFraction float64
	// RemoveMargin widens the overlap lookup when grouping removals, in
	// world units, to catch items filed before a boundary shift.
	RemoveMargin float64
	// FlushInterval paces the write-behind flusher.
	FlushInterval time.Duration
	// AuditInterval paces the index/tree consistency audit, 0 disables
	// the periodic run (Audit can still be called explicitly).
	AuditInterval time.Duration
	// Renderer produces thumbnail bitmaps, optional.
	Renderer Renderer
	Logger   utils.Logger
}

func (o *Options) SetDefaults() {
	if o.RegionSize == 0 {
		o.RegionSize = 1000
	}
	if o.MemoryLimitBytes == 0 {
		o.MemoryLimitBytes = 256 << 20
	}
	if o.OverflowFraction == 0 {
		o.OverflowFraction = 0.5
	}
	if o.RemoveMargin == 0 {
		o.RemoveMargin = 4
	}
	if o.FlushInterval == 0 {
		o.FlushInterval = 500 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = utils.NewDefaultLogger(slog.LevelInfo)
	}
}

// Renderer turns a region's items into a thumbnail bitmap for the tile
// rectangle. The engine owns caching and invalidation of the result,
// never its generation.
type Renderer interface {
	Render(items item.Items, tile geo.Rect) ([]byte, error)
}

type Engine struct {
	opts  Options
	log   utils.Logger
	store store.Store

	// structural state, all guarded by lock
	lock   sync.RWMutex
	index  map[geo.Key]geo.Rect
	tree   *qtree.Tree
	cache  *regionCache
	over   *overflow
	pinned map[geo.Key]bool
	loads  map[geo.Key]*regionLoad

	lastID   uint64 // guarded by lock
	indexRev uint64 // guarded by lock, bumped on any index change

	savedIndexRev uint64 // touched only by the flusher goroutine

	// write-behind state, concurrent-safe on its own
	pending    utils.CMap[geo.Key, *Region]  // dirty records awaiting persistence
	deletes    utils.CMap[geo.Key, bool]     // keys whose backing files await deletion
	thumbs     utils.CMap[geo.Key, bool]     // keys whose stored thumbnails await deletion
	thumbSaves utils.CMap[geo.Key, thumbSave] // rendered bitmaps awaiting persistence
	wake       chan struct{}
	reqs       chan flushReq
	stop       chan struct{}
	wg         sync.WaitGroup

	renders *xsync.MapOf[geo.Key, *thumbRender]
	loadAvg *utils.AvgVal
	closed  bool // guarded by lock
}

// Open builds an engine over a durable store. A missing or unreadable
// index triggers the full O(regions) rebuild before the engine comes
// up.
func Open(s store.Store, opts Options) (*Engine, error) {
	opts.SetDefaults()
	log := opts.Logger
	rebuilt := false
	ix, err := s.LoadIndex()
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		if ix, err = store.RebuildIndex(s, log); err != nil {
			return nil, err
		}
		rebuilt = true
	}
	eng := &Engine{
		opts:    opts,
		log:     log,
		store:   s,
		index:   ix.Bounds,
		tree:    qtree.New(opts.RegionSize),
		pinned:  make(map[geo.Key]bool),
		loads:   make(map[geo.Key]*regionLoad),
		lastID:  ix.LastID,
		wake:    make(chan struct{}, 1),
		reqs:    make(chan flushReq),
		stop:    make(chan struct{}),
		renders: xsync.NewMapOf[geo.Key, *thumbRender](),
		loadAvg: utils.NewAvgVal(0),
	}
	if rebuilt {
		// the recovered index must reach disk on the next flush
		eng.indexRev++
	}
	eng.tree.Rebuild(eng.index)
	eng.cache = newRegionCache(opts.MemoryLimitBytes, eng.onEvicted)
	eng.over = newOverflow(int(float64(opts.MemoryLimitBytes)*opts.OverflowFraction), eng.onOverflowDropped)

	eng.wg.Add(1)
	go eng.runFlusher()
	if opts.AuditInterval > 0 {
		eng.wg.Add(1)
		go eng.runAuditor()
	}
	log.Info("engine open", "regions", len(eng.index), "budget", opts.MemoryLimitBytes, "last_id", eng.lastID)
	return eng, nil
}

// Close flushes everything dirty, persists the index, stops the
// background workers and closes the store.
func (eng *Engine) Close() error {
	eng.lock.Lock()
	if eng.closed {
		eng.lock.Unlock()
		return ErrClosed
	}
	eng.lock.Unlock()

	err := eng.SaveAll(context.Background())

	eng.lock.Lock()
	eng.closed = true
	eng.lock.Unlock()
	close(eng.stop)
	eng.wg.Wait()

	if cerr := eng.store.Close(); err == nil {
		err = cerr
	}
	eng.log.Info("engine closed")
	return err
}

func (eng *Engine) isClosed() bool {
	eng.lock.RLock()
	defer eng.lock.RUnlock()
	return eng.closed
}

// nextID hands out the next monotonic item id. Caller holds the
// exclusive lock.
func (eng *Engine) nextID() uint64 {
	eng.lastID++
	return eng.lastID
}

// noteID raises the watermark when externally assigned ids come in.
// Caller holds the exclusive lock.
func (eng *Engine) noteID(id uint64) {
	if id > eng.lastID {
		eng.lastID = id
	}
}

// onEvicted fires on genuine capacity evictions from the primary tier,
// inside the exclusive section. Pinned records move to overflow; the
// rest are enqueued for persistence if dirty and stripped of heavy
// buffers either way.
func (eng *Engine) onEvicted(key geo.Key, r *Region) {
	if eng.pinned[key] {
		if eng.over.offer(key, r, r.estimate()) {
			EvictionCount.WithLabelValues("primary", "overflow").Inc()
		}
		return
	}
	r.thumb = nil
	r.est = 0
	if r.dirty {
		eng.pending.Store(key, r)
		eng.wakeFlusher()
	}
	EvictionCount.WithLabelValues("primary", "discard").Inc()
}

// onOverflowDropped fires when the overflow tier pushes an entry out,
// inside the exclusive section.
func (eng *Engine) onOverflowDropped(key geo.Key, r *Region) {
	r.thumb = nil
	r.est = 0
	if r.dirty {
		eng.pending.Store(key, r)
		eng.wakeFlusher()
	}
	EvictionCount.WithLabelValues("overflow", "discard").Inc()
}

// liveRegion finds the current in-memory record for key without going
// to storage: primary tier, then overflow (pulled out, the caller will
// recommit it), then the pending-flush set. Caller holds the exclusive
// lock.
func (eng *Engine) liveRegion(key geo.Key) (*Region, bool) {
	if r, ok := eng.cache.get(key); ok {
		return r, true
	}
	if r, ok := eng.over.take(key); ok {
		return r, true
	}
	if r, ok := eng.pending.Load(key); ok {
		return r, true
	}
	return nil, false
}

// takeForWrite pulls the live record out of whichever tier holds it so
// the caller can mutate and recommit it without the eviction callback
// seeing a half-changed size. Caller holds the exclusive lock and must
// follow up with commitRegion or cache.put.
func (eng *Engine) takeForWrite(key geo.Key) (*Region, bool) {
	if r, ok := eng.cache.beginResize(key); ok {
		return r, true
	}
	if r, ok := eng.over.take(key); ok {
		return r, true
	}
	if r, ok := eng.pending.Load(key); ok {
		return r, true
	}
	return nil, false
}

// commitRegion publishes a mutated record: index and tree pick up the
// new bounds, the cache re-accounts it, and the flusher is told. An
// empty record instead leaves through the deletion path. Caller holds
// the exclusive lock and has already pulled the record out of the
// primary tier (beginResize) or the overflow.
func (eng *Engine) commitRegion(r *Region) {
	if r.Len() == 0 {
		eng.dropRegion(r.key)
		return
	}
	if old, ok := eng.index[r.key]; !ok || old != r.bounds {
		eng.index[r.key] = r.bounds
		eng.tree.Update(r.key, r.bounds)
		eng.indexRev++
	}
	eng.deletes.Delete(r.key) // a pending file deletion would undo this write
	eng.pending.Store(r.key, r)
	eng.cache.put(r.key, r, r.estimate())
	eng.wakeFlusher()
}

// dropRegion runs the irreversible deletion: the key leaves the index
// and the tree, every in-memory copy is discarded, and the backing
// file and thumbnail are scheduled for deletion. Caller holds the
// exclusive lock.
func (eng *Engine) dropRegion(key geo.Key) {
	delete(eng.index, key)
	eng.tree.Remove(key)
	eng.indexRev++
	eng.cache.drop(key)
	eng.over.take(key)
	eng.pending.Delete(key)
	eng.deletes.Store(key, true)
	eng.wakeFlusher()
	RegionDeleteCount.Inc()
}
