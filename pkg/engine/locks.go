package engine

import "sync"

// keyedLocks serializes writers per itinerary id. Lock granularity is the
// whole document; reads never touch these.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for an id, creating it on first use, and returns
// the matching unlock.
func (k *keyedLocks) lock(id string) func() {
	k.mu.Lock()
	m, ok := k.locks[id]
	if !ok {
		m = &sync.Mutex{}
		k.locks[id] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// forget drops the mutex for a deleted id. Callers must hold the id lock;
// a concurrent lock call simply recreates the entry.
func (k *keyedLocks) forget(id string) {
	k.mu.Lock()
	delete(k.locks, id)
	k.mu.Unlock()
}
