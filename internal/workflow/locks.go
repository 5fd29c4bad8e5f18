package workflow

import "sync"

// batchLocks hands out one mutex per batch id. Entries are dropped once no
// goroutine holds or waits on them.
type batchLocks struct {
	mu    sync.Mutex
	locks map[int64]*batchLock
}

type batchLock struct {
	mu   sync.Mutex
	refs int
}

func newBatchLocks() *batchLocks {
	return &batchLocks{locks: make(map[int64]*batchLock)}
}

func (l *batchLocks) lock(id int64) (unlock func()) {
	l.mu.Lock()
	bl, ok := l.locks[id]
	if !ok {
		bl = &batchLock{}
		l.locks[id] = bl
	}
	bl.refs++
	l.mu.Unlock()

	bl.mu.Lock()

	return func() {
		bl.mu.Unlock()

		l.mu.Lock()
		bl.refs--
		if bl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

func (l *batchLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
