package runner

import (
	"context"
	"sync"
)

type lockEntry struct {
	sem  chan struct{}
	refs int
}

// Locks serializes sessions per account across concurrent runs.
type Locks struct {
	mu      sync.Mutex
	entries map[int64]*lockEntry
}

// NewLocks returns an empty lock registry.
func NewLocks() *Locks {
	return &Locks{entries: make(map[int64]*lockEntry)}
}

// Acquire blocks until the account is free, ctx is done, or cancel fires.
// The returned release func must be called exactly once.
func (l *Locks) Acquire(ctx context.Context, accountID int64, cancel <-chan struct{}) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[accountID]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		l.entries[accountID] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
		return func() {
			<-e.sem
			l.unref(accountID, e)
		}, nil
	case <-ctx.Done():
		l.unref(accountID, e)
		return nil, ctx.Err()
	case <-cancel:
		l.unref(accountID, e)
		return nil, errCancelled
	}
}

func (l *Locks) unref(id int64, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, id)
	}
}

// Held returns the number of accounts currently locked or waited on.
func (l *Locks) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
