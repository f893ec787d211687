package syncmap

import (
	"sync"
	"sync/atomic"
)

// Map is a type-safe wrapper around sync.Map that keeps an O(1) count.
// The zero value is empty and ready for use.
type Map[K comparable, V any] struct {
	m     sync.Map
	count atomic.Int64
}

// Store stores the value for the key.
func (m *Map[K, V]) Store(key K, value V) {
	if _, loaded := m.m.Swap(key, value); !loaded {
		m.count.Add(1)
	}
}

// Load loads the value for the key.
func (m *Map[K, V]) Load(key K) (V, bool) {
	value, ok := m.m.Load(key)
	if !ok {
		var zero V

		return zero, false
	}

	return value.(V), true
}

// Delete deletes the value for the key.
func (m *Map[K, V]) Delete(key K) {
	if _, loaded := m.m.LoadAndDelete(key); loaded {
		m.count.Add(-1)
	}
}

// LoadAndDelete deletes the value for the key and returns it.
// When called concurrently for the same key, exactly one caller observes loaded == true.
func (m *Map[K, V]) LoadAndDelete(key K) (V, bool) {
	value, loaded := m.m.LoadAndDelete(key)
	if !loaded {
		var zero V

		return zero, false
	}

	m.count.Add(-1)

	return value.(V), true
}

// LoadOrStore returns the existing value for the key if present.
// Otherwise it stores and returns the given value.
func (m *Map[K, V]) LoadOrStore(key K, value V) (V, bool) {
	actual, loaded := m.m.LoadOrStore(key, value)
	if !loaded {
		m.count.Add(1)
	}

	return actual.(V), loaded
}

// Range calls f for each key-value pair until f returns false.
func (m *Map[K, V]) Range(f func(key K, value V) bool) {
	m.m.Range(func(key, value any) bool {
		return f(key.(K), value.(V))
	})
}

// Keys returns a snapshot of the keys currently in the map.
func (m *Map[K, V]) Keys() []K {
	keys := make([]K, 0, m.Count())

	m.m.Range(func(key, _ any) bool {
		keys = append(keys, key.(K))

		return true
	})

	return keys
}

// Clear removes every entry.
func (m *Map[K, V]) Clear() {
	m.m.Range(func(key, _ any) bool {
		if _, loaded := m.m.LoadAndDelete(key); loaded {
			m.count.Add(-1)
		}

		return true
	})
}

// Count returns the number of items in the map.
func (m *Map[K, V]) Count() int {
	return int(m.count.Load())
}
