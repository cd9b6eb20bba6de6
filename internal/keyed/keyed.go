// Package keyed holds per-key entries behind a map whose own lock is only
// taken to find or create an entry. Callers serialise work on a single key
// with the entry's own mutex, so different keys never wait on each other.
package keyed

import (
	"sync"
)

// Map maps keys to entry pointers. The zero value is not usable; call New.
type Map[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]*V
}

func New[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{entries: make(map[K]*V)}
}

// Get returns the entry for key, if any.
func (m *Map[K, V]) Get(key K) (*V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	return v, ok
}

// GetOrCreate returns the entry for key, creating it with create if it does
// not exist. create runs with the map locked and must not block.
func (m *Map[K, V]) GetOrCreate(key K, create func() *V) *V {
	if v, ok := m.Get(key); ok {
		return v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.entries[key]; ok {
		return v
	}
	v := create()
	m.entries[key] = v
	return v
}

// Put stores v under key, replacing any previous entry.
func (m *Map[K, V]) Put(key K, v *V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = v
}

// Delete removes key and reports whether it was present.
func (m *Map[K, V]) Delete(key K) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; !ok {
		return false
	}
	delete(m.entries, key)
	return true
}

// DeleteIf removes key when pred returns true for its entry. pred runs with
// the map locked; it may lock the entry but must not call back into m.
func (m *Map[K, V]) DeleteIf(key K, pred func(*V) bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	if !ok || !pred(v) {
		return false
	}
	delete(m.entries, key)
	return true
}

// Keys returns a snapshot of the current keys in no particular order.
func (m *Map[K, V]) Keys() []K {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]K, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	return keys
}

func (m *Map[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Reset drops every entry.
func (m *Map[K, V]) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[K]*V)
}
