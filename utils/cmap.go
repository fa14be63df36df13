package utils

import "sync"

// CMap is a typed wrapper over sync.Map. The engine keeps its
// write-behind state in these (dirty records, queued file deletions),
// where entries are claimed with LoadAndDelete by the flusher while
// mutators keep storing new ones.
type CMap[K comparable, V any] struct {
	sm sync.Map
}

func (m *CMap[K, V]) Store(key K, value V) {
	m.sm.Store(key, value)
}

func (m *CMap[K, V]) Load(key K) (value V, ok bool) {
	v, o := m.sm.Load(key)
	if !o {
		return value, o
	}
	return v.(V), o
}

func (m *CMap[K, V]) Delete(key K) {
	m.sm.Delete(key)
}

// LoadAndDelete atomically claims an entry, so two flush cycles can
// never process the same queued job twice.
func (m *CMap[K, V]) LoadAndDelete(key K) (value V, loaded bool) {
	v, l := m.sm.LoadAndDelete(key)
	if !l {
		return value, l
	}
	return v.(V), l
}

// CompareAndDelete removes the entry only if it still holds old, which
// keeps a finished flush from erasing a record that was re-dirtied and
// re-queued meanwhile.
func (m *CMap[K, V]) CompareAndDelete(key K, old V) (deleted bool) {
	return m.sm.CompareAndDelete(key, old)
}

func (m *CMap[K, V]) Range(f func(key K, value V) bool) {
	m.sm.Range(func(key, value any) bool {
		return f(key.(K), value.(V))
	})
}
