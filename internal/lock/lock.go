// Package lock serializes passage creation per canonical citation key, so two
// concurrent adds of the same passage cannot both miss and both create a tree.
package lock

import (
	"context"
	"sync"

	"github.com/hpungsan/sugya/internal/errors"
)

// Locker hands out exclusive per-key locks. Release must be called exactly
// once; calling it again is a no-op.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Local is an in-process Locker. It is enough when a single sugya process
// owns the database (the SQLite default).
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocal creates an in-process Locker.
func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

// Acquire blocks until key is free or ctx is done.
func (l *Local) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, s)
		return nil, errors.NewCancelled("lock " + key)
	}

	return sync.OnceFunc(func() {
		<-s.ch
		l.drop(key, s)
	}), nil
}

// drop forgets the slot once nobody holds or waits on it.
func (l *Local) drop(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// held reports how many keys have holders or waiters. Used by tests.
func (l *Local) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
