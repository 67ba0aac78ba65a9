package state

import (
	"context"
	"sync"
	"time"
)

// Lookup describes the result of Store.Get.
type Lookup int

const (
	// Missing means no value was stored for the user.
	Missing Lookup = iota
	// Live means the value exists and has not idled past the TTL.
	Live
	// Expired means the value idled past the TTL and was discarded.
	Expired
)

type entry[T any] struct {
	value   T
	touched time.Time
}

// Store keeps one value per user. A value expires when it was not written
// for longer than the TTL; expiry is checked lazily on access and by Sweep.
type Store[T any] struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	entries  map[int64]*entry[T]
	locks    map[int64]*sync.Mutex
	onExpire func(userID int64, v T)
}

// NewStore creates a store. ttl <= 0 disables expiry; now defaults to time.Now.
func NewStore[T any](ttl time.Duration, now func() time.Time) *Store[T] {
	if now == nil {
		now = time.Now
	}
	return &Store[T]{
		ttl:     ttl,
		now:     now,
		entries: make(map[int64]*entry[T]),
		locks:   make(map[int64]*sync.Mutex),
	}
}

// OnExpire registers fn to release values dropped by expiry. It runs outside
// the store lock. Call before the store is shared.
func (s *Store[T]) OnExpire(fn func(userID int64, v T)) { s.onExpire = fn }

// TTL returns the configured idle timeout.
func (s *Store[T]) TTL() time.Duration { return s.ttl }

func (s *Store[T]) expired(e *entry[T], now time.Time) bool {
	return s.ttl > 0 && now.Sub(e.touched) > s.ttl
}

// Get returns the user's value. An expired value is removed and reported as
// Expired exactly once.
func (s *Store[T]) Get(userID int64) (T, Lookup) {
	var zero T
	s.mu.Lock()
	e, ok := s.entries[userID]
	if !ok {
		s.mu.Unlock()
		return zero, Missing
	}
	if s.expired(e, s.now()) {
		delete(s.entries, userID)
		s.mu.Unlock()
		if s.onExpire != nil {
			s.onExpire(userID, e.value)
		}
		return zero, Expired
	}
	s.mu.Unlock()
	return e.value, Live
}

// Has reports whether the user holds a live value.
func (s *Store[T]) Has(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[userID]
	return ok && !s.expired(e, s.now())
}

// Contains reports whether the user holds any value, expired or not.
func (s *Store[T]) Contains(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[userID]
	return ok
}

// Put stores v and resets the user's idle timer.
func (s *Store[T]) Put(userID int64, v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[userID] = &entry[T]{value: v, touched: s.now()}
}

// Delete removes the user's value and reports whether a live one existed.
func (s *Store[T]) Delete(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[userID]
	if !ok {
		return false
	}
	delete(s.entries, userID)
	return !s.expired(e, s.now())
}

// Len returns the number of stored values, expired ones included.
func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Lock serializes work for one user and returns the unlock func.
func (s *Store[T]) Lock(userID int64) func() {
	s.mu.Lock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Sweep drops expired values and returns how many were removed. User locks
// are kept; their number is bounded by the set of users allowed in.
func (s *Store[T]) Sweep() int {
	s.mu.Lock()
	now := s.now()
	var dropped map[int64]T
	for id, e := range s.entries {
		if s.expired(e, now) {
			delete(s.entries, id)
			if dropped == nil {
				dropped = make(map[int64]T)
			}
			dropped[id] = e.value
		}
	}
	s.mu.Unlock()
	if s.onExpire != nil {
		for id, v := range dropped {
			s.onExpire(id, v)
		}
	}
	return len(dropped)
}

// RunSweeper calls Sweep every interval until ctx is done. onSweep, if set,
// receives the number of removed values when it is non-zero.
func (s *Store[T]) RunSweeper(ctx context.Context, every time.Duration, onSweep func(int)) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.Sweep(); n > 0 && onSweep != nil {
				onSweep(n)
			}
		}
	}
}
