package auth

import (
	"sync"
	"time"
)

type expiring[V any] struct {
	val   V
	until time.Time
}

// expiringMap holds entries that lapse at a fixed instant. Lapsed entries
// are invisible to lookups and stay in memory until sweep.
type expiringMap[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]expiring[V]
	now     func() time.Time
}

func newExpiringMap[K comparable, V any]() *expiringMap[K, V] {
	return &expiringMap[K, V]{entries: make(map[K]expiring[V]), now: time.Now}
}

func (m *expiringMap[K, V]) clock() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now()
}

func (m *expiringMap[K, V]) setClock(fn func() time.Time) {
	m.mu.Lock()
	m.now = fn
	m.mu.Unlock()
}

func (m *expiringMap[K, V]) put(k K, v V, until time.Time) {
	m.mu.Lock()
	m.entries[k] = expiring[V]{val: v, until: until}
	m.mu.Unlock()
}

// claim stores k unless a live entry already holds it, and reports whether
// it did.
func (m *expiringMap[K, V]) claim(k K, v V, until time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[k]; ok && !m.now().After(e.until) {
		return false
	}
	m.entries[k] = expiring[V]{val: v, until: until}
	return true
}

func (m *expiringMap[K, V]) get(k K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[k]
	if !ok || m.now().After(e.until) {
		var zero V
		return zero, false
	}
	return e.val, true
}

func (m *expiringMap[K, V]) remove(k K) {
	m.mu.Lock()
	delete(m.entries, k)
	m.mu.Unlock()
}

// removeFunc drops every entry whose value matches, live or lapsed.
func (m *expiringMap[K, V]) removeFunc(match func(V) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.entries {
		if match(e.val) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

// sweep drops lapsed entries and returns how many went.
func (m *expiringMap[K, V]) sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for k, e := range m.entries {
		if now.After(e.until) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

func (m *expiringMap[K, V]) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
