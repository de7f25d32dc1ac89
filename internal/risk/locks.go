package risk

import "sync"

// ItemLocks serializes mutating operations per item. Risk enable/disable,
// hold investment, and fallout resolution for the same item must never
// interleave; operations on different items run fully concurrently.
//
// Locks are retained for the life of the process; the map is bounded by the
// number of items ever touched.
type ItemLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewItemLocks creates an empty lock registry.
func NewItemLocks() *ItemLocks {
	return &ItemLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for one item, creating it on first use.
func (l *ItemLocks) Lock(itemID string) {
	l.mu.Lock()
	m, ok := l.locks[itemID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[itemID] = m
	}
	l.mu.Unlock()

	m.Lock()
}

// Unlock releases the mutex for one item.
func (l *ItemLocks) Unlock(itemID string) {
	l.mu.Lock()
	m := l.locks[itemID]
	l.mu.Unlock()

	if m != nil {
		m.Unlock()
	}
}
