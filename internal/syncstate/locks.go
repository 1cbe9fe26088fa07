package syncstate

import "sync"

// DateLocks serializes read-modify-write sequences on the same date while
// leaving different dates independent. One instance is shared by every worker.
type DateLocks struct {
	mu    sync.Mutex
	locks map[string]*dateLock
}

type dateLock struct {
	mu   sync.Mutex
	refs int
}

// NewDateLocks returns an empty lock table.
func NewDateLocks() *DateLocks {
	return &DateLocks{locks: make(map[string]*dateLock)}
}

// Lock blocks until the caller holds date and returns the matching unlock.
func (l *DateLocks) Lock(date string) func() {
	l.mu.Lock()
	entry, ok := l.locks[date]
	if !ok {
		entry = &dateLock{}
		l.locks[date] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, date)
		}
		l.mu.Unlock()
	}
}
