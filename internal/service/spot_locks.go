package service

import "sync"

// spotLocks serializes writers per spot id. Holding the lock across commit and
// publish keeps the events of one spot in commit order.
type spotLocks struct {
	mu    sync.Mutex
	locks map[int]*spotLock
}

type spotLock struct {
	sync.Mutex
	refs int
}

func newSpotLocks() *spotLocks {
	return &spotLocks{locks: make(map[int]*spotLock)}
}

// lock blocks until the spot is free and returns the matching unlock.
func (l *spotLocks) lock(spotID int) func() {
	l.mu.Lock()
	sl, ok := l.locks[spotID]
	if !ok {
		sl = &spotLock{}
		l.locks[spotID] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.Lock()
	return func() {
		sl.Unlock()
		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.locks, spotID)
		}
		l.mu.Unlock()
	}
}
