package plitka

import (
	"fmt"
	"io"
	"slices"

	"github.com/drpcorg/plitka/geo"
)

func (eng *Engine) DumpAll(writer io.Writer) {
	eng.DumpIndex(writer)
	fmt.Fprintln(writer, "")
	eng.DumpTiers(writer)
}

// DumpIndex prints every indexed region with its bounds, sorted by key
// so diffs of two dumps line up.
func (eng *Engine) DumpIndex(writer io.Writer) {
	eng.lock.RLock()
	defer eng.lock.RUnlock()
	keys := make([]geo.Key, 0, len(eng.index))
	for key := range eng.index {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, func(a, b geo.Key) int {
		if a.Y != b.Y {
			return int(a.Y) - int(b.Y)
		}
		return int(a.X) - int(b.X)
	})
	for _, key := range keys {
		pin := ""
		if eng.pinned[key] {
			pin = "\tpinned"
		}
		fmt.Fprintf(writer, "%s:\t%s%s\n", key.String(), eng.index[key].String(), pin)
	}
}

// DumpTiers prints what is resident where, with per-record flush
// state. Takes the exclusive lock: estimate() refreshes the cached
// size.
func (eng *Engine) DumpTiers(writer io.Writer) {
	eng.lock.Lock()
	defer eng.lock.Unlock()
	dump := func(tier string, ents []cacheEntry) {
		for _, ent := range ents {
			state := "clean"
			if ent.reg.dirty {
				state = "dirty"
			}
			fmt.Fprintf(writer, "%s\t%s\titems=%d\tbytes=%d\t%s\n",
				tier, ent.key.String(), ent.reg.Len(), ent.reg.estimate(), state)
		}
	}
	dump("cache", eng.cache.snapshot())
	dump("overflow", eng.over.snapshot())
	eng.pending.Range(func(key geo.Key, r *Region) bool {
		if _, cached := eng.cache.peek(key); !cached {
			fmt.Fprintf(writer, "pending\t%s\titems=%d\n", key.String(), r.Len())
		}
		return true
	})
}

// DumpRegion prints one region's items, resident or not. Nothing is
// cached as a side effect.
func (eng *Engine) DumpRegion(writer io.Writer, key geo.Key) {
	eng.lock.RLock()
	r, ok := eng.readRegion(key)
	if ok {
		for _, it := range r.items {
			fmt.Fprintln(writer, it.String())
		}
		eng.lock.RUnlock()
		return
	}
	eng.lock.RUnlock()
	items, err := eng.store.Load(key)
	if err != nil {
		fmt.Fprintln(writer, "not stored:", key.String())
		return
	}
	for _, it := range items {
		fmt.Fprintln(writer, it.String())
	}
}
