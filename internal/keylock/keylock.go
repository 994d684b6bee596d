// Package keylock serializes work per key.
//
// Mutations to one owner's operation collection are read-modify-write over
// the whole collection, so two concurrent updates for different records of
// the same owner would lose one update. Holding the owner's lock around the
// whole read-modify-write makes those updates linearizable while leaving
// different owners fully concurrent.
package keylock

import "sync"

// Map hands out one mutex per key. Entries are reference counted and
// removed when the last holder unlocks, so the map does not grow with the
// number of keys ever seen.
//
// Thread-safety: all methods are safe for concurrent use.
type Map struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New creates an empty Map.
func New() *Map {
	return &Map{locks: make(map[string]*entry)}
}

// Lock blocks until key's lock is held and returns the matching unlock func.
// The unlock func must be called exactly once.
func (m *Map) Lock(key string) (unlock func()) {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &entry{}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		m.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(m.locks, key)
		}
		m.mu.Unlock()
	}
}

// With runs fn while holding key's lock.
func (m *Map) With(key string, fn func() error) error {
	unlock := m.Lock(key)
	defer unlock()
	return fn()
}

// Len returns the number of keys currently locked or waited on.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
