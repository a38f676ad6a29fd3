// Package lock provides per-user locking for balance and settlement operations.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLockTimeout is returned when a user lock cannot be acquired before the deadline.
var ErrLockTimeout = errors.New("lock acquisition timeout")

// userMutex is a one-slot semaphore so that waiting can be abandoned on
// context cancellation without leaving a goroutine parked on a mutex.
type userMutex struct {
	sem     chan struct{}
	waiters int
}

// UserLock serializes balance mutations and bet preparation per user ID.
// Entries are dropped once nobody holds or waits for them.
type UserLock struct {
	mu    sync.Mutex
	locks map[string]*userMutex
}

// NewUserLock creates a new UserLock instance.
func NewUserLock() *UserLock {
	return &UserLock{locks: make(map[string]*userMutex)}
}

func (ul *UserLock) acquireRef(userID string) *userMutex {
	ul.mu.Lock()
	defer ul.mu.Unlock()

	m, ok := ul.locks[userID]
	if !ok {
		m = &userMutex{sem: make(chan struct{}, 1)}
		ul.locks[userID] = m
	}
	m.waiters++
	return m
}

func (ul *UserLock) releaseRef(userID string, m *userMutex) {
	ul.mu.Lock()
	defer ul.mu.Unlock()

	m.waiters--
	if m.waiters == 0 {
		delete(ul.locks, userID)
	}
}

// Lock blocks until the lock for userID is held.
func (ul *UserLock) Lock(userID string) {
	m := ul.acquireRef(userID)
	m.sem <- struct{}{}
}

// Unlock releases the lock for userID. Unlocking a lock that is not held is a no-op.
func (ul *UserLock) Unlock(userID string) {
	ul.mu.Lock()
	m, ok := ul.locks[userID]
	ul.mu.Unlock()
	if !ok {
		return
	}

	select {
	case <-m.sem:
		ul.releaseRef(userID, m)
	default:
	}
}

// TryLock attempts to acquire the lock without blocking.
func (ul *UserLock) TryLock(userID string) bool {
	m := ul.acquireRef(userID)
	select {
	case m.sem <- struct{}{}:
		return true
	default:
		ul.releaseRef(userID, m)
		return false
	}
}

// LockWithTimeout waits up to timeout for the lock. It returns false when
// the timeout elapses or ctx is done first.
func (ul *UserLock) LockWithTimeout(ctx context.Context, userID string, timeout time.Duration) bool {
	m := ul.acquireRef(userID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case m.sem <- struct{}{}:
		return true
	case <-timer.C:
	case <-ctx.Done():
	}
	ul.releaseRef(userID, m)
	return false
}

// WithLock executes fn while holding the user's lock.
func (ul *UserLock) WithLock(userID string, fn func() error) error {
	ul.Lock(userID)
	defer ul.Unlock(userID)
	return fn()
}

// WithLockContext executes fn while holding the user's lock. It returns
// ErrLockTimeout when the lock is not acquired within timeout, and the
// context error when ctx ends first.
func (ul *UserLock) WithLockContext(ctx context.Context, userID string, timeout time.Duration, fn func() error) error {
	if !ul.LockWithTimeout(ctx, userID, timeout) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrLockTimeout
	}
	defer ul.Unlock(userID)
	return fn()
}

// IsLocked reports whether userID is currently held. The answer may be stale
// by the time the caller acts on it.
func (ul *UserLock) IsLocked(userID string) bool {
	ul.mu.Lock()
	m, ok := ul.locks[userID]
	ul.mu.Unlock()
	return ok && len(m.sem) == 1
}

// Len returns the number of user entries currently tracked.
func (ul *UserLock) Len() int {
	ul.mu.Lock()
	defer ul.mu.Unlock()
	return len(ul.locks)
}
