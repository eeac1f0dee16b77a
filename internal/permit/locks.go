package permit

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ownerLocks hands out one mutex per owner. Entries are reference counted
// and dropped once no caller holds or waits on them.
type ownerLocks struct {
	mu    sync.Mutex
	locks map[common.Address]*ownerLock
}

type ownerLock struct {
	mu   sync.Mutex
	refs int
}

func newOwnerLocks() *ownerLocks {
	return &ownerLocks{locks: make(map[common.Address]*ownerLock)}
}

// Lock blocks until owner's critical section is free and returns its release func.
func (l *ownerLocks) Lock(owner common.Address) func() {
	l.mu.Lock()
	lk, ok := l.locks[owner]
	if !ok {
		lk = &ownerLock{}
		l.locks[owner] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.mu.Lock()
	return func() {
		lk.mu.Unlock()
		l.mu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(l.locks, owner)
		}
		l.mu.Unlock()
	}
}

func (l *ownerLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
