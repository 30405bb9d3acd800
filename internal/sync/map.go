package sync

import "sync"

// Map is a generic thread-safe map guarded by an RWMutex.
type Map[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{
		m: make(map[K]V),
	}
}

// Load returns the value stored for a key; ok reports whether it was found.
func (m *Map[K, V]) Load(key K) (value V, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok = m.m[key]
	return
}

// Store sets the value for a key.
func (m *Map[K, V]) Store(key K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m[key] = value
}

// Delete deletes the value for a key.
func (m *Map[K, V]) Delete(key K) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.m, key)
}

// LoadAndDelete deletes the value for a key, returning the previous value.
// loaded reports whether the key was present.
func (m *Map[K, V]) LoadAndDelete(key K) (value V, loaded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, loaded = m.m[key]
	if loaded {
		delete(m.m, key)
	}
	return
}

// Len returns the number of stored entries.
func (m *Map[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.m)
}

// Range calls f for each key and value until f returns false.
func (m *Map[K, V]) Range(f func(key K, value V) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for k, v := range m.m {
		if !f(k, v) {
			break
		}
	}
}

// View provides read and write operations on the map without acquiring
// locks. Only valid within the callback of WithLock.
type View[K comparable, V any] interface {
	Get(key K) (value V, ok bool)
	Set(key K, value V)
	Delete(key K)
	Range(f func(key K, value V) bool)
	Len() int
}

type mapView[K comparable, V any] struct {
	m map[K]V
}

func (mv *mapView[K, V]) Get(key K) (value V, ok bool) {
	value, ok = mv.m[key]
	return
}

func (mv *mapView[K, V]) Set(key K, value V) {
	mv.m[key] = value
}

func (mv *mapView[K, V]) Delete(key K) {
	delete(mv.m, key)
}

func (mv *mapView[K, V]) Range(f func(key K, value V) bool) {
	for k, v := range mv.m {
		if !f(k, v) {
			break
		}
	}
}

func (mv *mapView[K, V]) Len() int {
	return len(mv.m)
}

// WithLock executes f while holding the write lock, giving it a View for
// multiple operations that must be atomic as a group.
func (m *Map[K, V]) WithLock(f func(view View[K, V])) {
	m.mu.Lock()
	defer m.mu.Unlock()
	view := &mapView[K, V]{m: m.m}
	f(view)
}
