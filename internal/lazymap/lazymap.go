// Package lazymap provides maps that build missing entries on first access.
package lazymap

import (
	"context"
	"sync"
)

// Factory builds the value for a key that has never been read.
type Factory[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Map caches factory results per key. Entries are never evicted.
//
// The factory runs under the map lock, so concurrent first reads of one key
// share a single value.
type Map[K comparable, V any] struct {
	mu      sync.Mutex
	factory Factory[K, V]
	items   map[K]V
}

func New[K comparable, V any](factory Factory[K, V]) *Map[K, V] {
	return &Map[K, V]{factory: factory, items: make(map[K]V)}
}

// Get returns the value for key, calling the factory if it is missing.
// A factory error leaves the key missing.
func (m *Map[K, V]) Get(ctx context.Context, key K) (V, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.items[key]; ok {
		return v, nil
	}
	v, err := m.factory(ctx, key)
	if err != nil {
		var zero V
		return zero, err
	}
	m.items[key] = v
	return v, nil
}

// Lookup returns the cached value without building it.
func (m *Map[K, V]) Lookup(key K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[key]
	return v, ok
}

func (m *Map[K, V]) Set(key K, v V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = v
}

func (m *Map[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *Map[K, V]) Keys() []K {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]K, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	return keys
}

// Range calls fn for every cached entry until fn returns false.
// It iterates over a copy, so fn may call back into the map.
func (m *Map[K, V]) Range(fn func(K, V) bool) {
	m.mu.Lock()
	items := make(map[K]V, len(m.items))
	for k, v := range m.items {
		items[k] = v
	}
	m.mu.Unlock()

	for k, v := range items {
		if !fn(k, v) {
			return
		}
	}
}
