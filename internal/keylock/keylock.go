// Package keylock provides per-key mutual exclusion.
//
// Locks are reference counted and removed from the table once the last
// holder or waiter releases them, so the table only grows with the number of
// keys under contention at a given moment.
package keylock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Table is a set of mutexes indexed by string key. The zero value is ready
// to use.
type Table struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// New returns an empty Table.
func New() *Table {
	return &Table{locks: make(map[string]*entry)}
}

// Lock acquires the mutex for key and returns its unlock function.
//
//	unlock := t.Lock(key)
//	defer unlock()
func (t *Table) Lock(key string) func() {
	t.mu.Lock()
	if t.locks == nil {
		t.locks = make(map[string]*entry)
	}
	e, ok := t.locks[key]
	if !ok {
		e = &entry{}
		t.locks[key] = e
	}
	e.refs++
	t.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()

			t.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(t.locks, key)
			}
			t.mu.Unlock()
		})
	}
}

// Len returns the number of keys currently held or awaited.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
