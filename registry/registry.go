// Package registry provides a type-safe, concurrent map used by servers to
// track live sessions by identifier. It supports point lookups, removal, and
// stable snapshot iteration so that fan-out operations (multicast,
// disconnect-all) can walk the set of sessions while connects and
// disconnects mutate it concurrently.
package registry

import "sync"

// Map is a concurrent map that is safe for use by multiple goroutines.
// Keys must be comparable; values may be any type.
//
// Map must not be copied after first use. Store, Load and Delete are O(1);
// Len is O(1); Range and Snapshot are O(n) in the number of entries.
type Map[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

// NewMap returns a new empty Map ready for concurrent use.
//
// Returns:
//   - A pointer to a new Map[K, V]
func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{m: make(map[K]V)}
}

// Store sets the value for key k, overwriting any existing value.
//
// Parameters:
//   - k: The key to store
//   - v: The value to associate with k
func (m *Map[K, V]) Store(k K, v V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m[k] = v
}

// Load returns the value for key k and whether the key was present.
//
// Parameters:
//   - k: The key to look up
//
// Returns:
//   - The value associated with k, or the zero value of V if not found
//   - true if the key was present, false otherwise
func (m *Map[K, V]) Load(k K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.m[k]
	return v, ok
}

// Delete removes the entry for key k. Deleting a missing key is a no-op.
//
// Parameters:
//   - k: The key to delete
func (m *Map[K, V]) Delete(k K) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.m, k)
}

// Len returns the number of entries in the map.
//
// Returns:
//   - The number of key-value pairs in the map
func (m *Map[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.m)
}

// Has reports whether key k is present in the map.
//
// Parameters:
//   - k: The key to check
//
// Returns:
//   - true if the key is in the map, false otherwise
func (m *Map[K, V]) Has(k K) bool {
	_, ok := m.Load(k)
	return ok
}

// Range calls f sequentially for each key and value present in the map while
// holding a read lock. If f returns false, Range stops the iteration. f must
// not mutate the map; use Snapshot when the callback needs to store or
// delete entries.
//
// Parameters:
//   - f: Function called for each entry; return false to stop iteration
func (m *Map[K, V]) Range(f func(k K, v V) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for k, v := range m.m {
		if !f(k, v) {
			return
		}
	}
}

// Snapshot returns a copy of the current values in unspecified order. The
// copy is stable: concurrent Store and Delete calls after Snapshot returns
// do not affect it. Fan-out paths iterate over snapshots so that entry
// removal from within the loop cannot deadlock or skip entries.
//
// Returns:
//   - A new slice containing every value present at the time of the call
func (m *Map[K, V]) Snapshot() []V {
	m.mu.RLock()
	defer m.mu.RUnlock()
	values := make([]V, 0, len(m.m))
	for _, v := range m.m {
		values = append(values, v)
	}
	return values
}
