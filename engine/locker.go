package engine

import (
	"context"
	"sync"

	"progresskit/core"
)

// keyedLocker serializes work per learner inside one process. Entries are
// reference counted and removed once no goroutine holds or waits on them.
type keyedLocker struct {
	mu    sync.Mutex
	locks map[core.LearnerID]*lockEntry
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

func newKeyedLocker() *keyedLocker {
	return &keyedLocker{locks: make(map[core.LearnerID]*lockEntry)}
}

// Lock blocks until the learner's lock is held or ctx is done.
func (l *keyedLocker) Lock(ctx context.Context, id core.LearnerID) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[id]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		l.locks[id] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(id, e)
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.release(id, e)
		})
	}, nil
}

func (l *keyedLocker) release(id core.LearnerID, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, id)
	}
}

func (l *keyedLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
