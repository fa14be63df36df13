package plitka

import (
	"sync"

	"github.com/drpcorg/plitka/geo"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// regionCache is the primary tier: an LRU keyed by region key, bounded
// by a byte budget rather than an entry count. Each entry is accounted
// at the size it had when inserted; records are mutated in place after
// being fetched, so the required pattern for any mutation is
// beginResize (quiet removal), mutate, put with the fresh estimate.
// The resizing guard lets the eviction callback tell that dance apart
// from a genuine capacity eviction.
//
// The engine calls every mutating method while holding its exclusive
// lock; the internal mutex only protects the recency list against
// concurrent get() calls from the shared-mode read paths.
type regionCache struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[geo.Key, *Region]
	sizes    map[geo.Key]int
	used     int
	limit    int
	resizing map[geo.Key]bool
	onEvict  func(key geo.Key, r *Region)
}

type cacheEntry struct {
	key geo.Key
	reg *Region
}

func newRegionCache(limit int, onEvict func(geo.Key, *Region)) *regionCache {
	c := &regionCache{
		sizes:    make(map[geo.Key]int),
		limit:    limit,
		resizing: make(map[geo.Key]bool),
		onEvict:  onEvict,
	}
	// the entry cap never binds, the byte budget evicts first
	c.lru, _ = simplelru.NewLRU[geo.Key, *Region](1<<30, c.evicted)
	return c
}

// evicted runs inside simplelru on any removal. Quiet removals (the
// resize dance, deletions) only fix the accounting; genuine capacity
// evictions also hand the record to the engine.
func (c *regionCache) evicted(key geo.Key, r *Region) {
	c.used -= c.sizes[key]
	delete(c.sizes, key)
	if !c.resizing[key] && c.onEvict != nil {
		c.onEvict(key, r)
	}
}

func (c *regionCache) get(key geo.Key) (*Region, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(key)
}

// peek looks up without touching recency.
func (c *regionCache) peek(key geo.Key) (*Region, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Peek(key)
}

// put inserts r accounted at size bytes, then evicts oldest entries
// until the budget holds again. The entry just put survives even when
// it alone exceeds the budget: evicting it here would strand every
// writer of an oversized region in a reload loop. It goes first on the
// next insertion instead.
func (c *regionCache) put(key geo.Key, r *Region, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.sizes[key]; ok {
		// overwrite: drop the stale accounting first
		c.used -= old
		delete(c.sizes, key)
		c.resizing[key] = true
		c.lru.Remove(key)
		delete(c.resizing, key)
	}
	c.sizes[key] = size
	c.used += size
	c.lru.Add(key, r)
	for c.used > c.limit && c.lru.Len() > 1 {
		c.lru.RemoveOldest()
	}
}

// beginResize quietly removes the entry so the caller can mutate the
// record and put it back with a fresh size. Returns the record, or nil
// if the key is not cached.
func (c *regionCache) beginResize(key geo.Key) (*Region, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.lru.Peek(key)
	if !ok {
		return nil, false
	}
	c.resizing[key] = true
	c.lru.Remove(key)
	delete(c.resizing, key)
	return r, true
}

// drop removes the entry without eviction semantics (deletion path).
func (c *regionCache) drop(key geo.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resizing[key] = true
	c.lru.Remove(key)
	delete(c.resizing, key)
}

func (c *regionCache) snapshot() (out []cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.lru.Keys() {
		if r, ok := c.lru.Peek(key); ok {
			out = append(out, cacheEntry{key: key, reg: r})
		}
	}
	return
}

func (c *regionCache) bytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

func (c *regionCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *regionCache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.lru.Keys() {
		c.resizing[key] = true
	}
	c.lru.Purge()
	clear(c.resizing)
	clear(c.sizes)
	c.used = 0
}
