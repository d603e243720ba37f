// Package keyedmutex implements the per-peer serialization primitive §5
// requires: pairwise encryption for a given wire JID must never interleave
// two concurrent ratchet advances. No library in the retrieval pack offers
// exactly this shape (a lazily-created, refcounted mutex per string key,
// garbage-collected once unheld) — pulling in a general distributed-lock
// library would be the wrong trade for something this small, so it is
// hand-rolled.
package keyedmutex

import "sync"

type entry struct {
	mu  sync.Mutex
	ref int
}

// Map is a lazily-populated set of per-key mutexes. The zero value is
// ready to use.
type Map struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewMap creates a ready-to-use keyed mutex map.
func NewMap() *Map {
	return &Map{entries: make(map[string]*entry)}
}

// Lock acquires the mutex for key, creating it if necessary. The returned
// func releases it and garbage-collects the entry if no other caller is
// waiting.
func (m *Map) Lock(key string) func() {
	m.mu.Lock()
	if m.entries == nil {
		m.entries = make(map[string]*entry)
	}
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	e.ref++
	m.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()
		m.mu.Lock()
		e.ref--
		if e.ref == 0 {
			delete(m.entries, key)
		}
		m.mu.Unlock()
	}
}

// Len reports how many keys currently have a live (held or waited-on)
// entry. Exposed for tests verifying entries are garbage-collected.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
