package store

import "sync"

// entityLocks serializes read-modify-write sequences per entity id.
// ApplyAndEnqueue and MergeRemote for the same entity must not interleave
// between their entity read and the transaction commit; operations on
// distinct entities proceed in parallel.
//
// Locks are never removed: the set of entity ids a device touches between
// restarts is small (thousands at most), so the map stays bounded.
type entityLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newEntityLocks() *entityLocks {
	return &entityLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for the given entity id, creating it on first use.
// Callers must invoke the returned unlock function.
func (l *entityLocks) lock(entityID string) (unlock func()) {
	l.mu.Lock()
	m, ok := l.locks[entityID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[entityID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
