// Package services – category lock registry
//
// Queue state is shared per category: the position sequence, the token id
// sequence, and the single called slot. Every read-then-write sequence over
// that state must be serialized, otherwise two concurrent issues can mint the
// same id or two call-next invocations can advance past the same token.
//
// CategoryLocks provides that serialization in-process. Acquisition is
// bounded: a caller that cannot take the lock within the configured wait
// receives ErrContention instead of blocking indefinitely.
package services

import (
	"sync"
	"time"
)

// defaultLockWait bounds lock acquisition when the caller does not configure
// a wait.
const defaultLockWait = 2 * time.Second

// CategoryLocks serializes queue mutations per category. One registry is
// shared by every service that mutates queue state so token issuance,
// call-next, and emergency operations on the same category never interleave.
type CategoryLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewCategoryLocks returns an empty lock registry.
func NewCategoryLocks() *CategoryLocks {
	return &CategoryLocks{locks: make(map[string]chan struct{})}
}

// Acquire takes the lock for a category key, waiting at most wait. On
// success it returns a release function; on timeout it returns
// ErrContention. A wait <= 0 falls back to the default.
func (l *CategoryLocks) Acquire(key string, wait time.Duration) (func(), error) {
	if wait <= 0 {
		wait = defaultLockWait
	}

	l.mu.Lock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	l.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-timer.C:
		return nil, ErrContention
	}
}
