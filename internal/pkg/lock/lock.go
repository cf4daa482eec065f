// Package lock provides per-key mutual exclusion with bounded waits.
// The session manager takes a room's key lock while it builds, restores or
// discards that room's session.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLockTimeout is returned when a lock cannot be acquired within the timeout period.
var ErrLockTimeout = errors.New("lock acquisition timeout")

// keyMutex wraps a mutex with a count of holders and waiters.
type keyMutex struct {
	mu   sync.Mutex
	refs int
}

// KeyLock hands out one mutex per key. Entries are dropped once no goroutine
// holds or waits for them, so the table only grows with live keys.
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]*keyMutex
}

// NewKeyLock creates a new KeyLock instance.
func NewKeyLock() *KeyLock {
	return &KeyLock{locks: make(map[string]*keyMutex)}
}

func (kl *KeyLock) acquire(key string) *keyMutex {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	m, ok := kl.locks[key]
	if !ok {
		m = &keyMutex{}
		kl.locks[key] = m
	}
	m.refs++
	return m
}

func (kl *KeyLock) release(key string, m *keyMutex) {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	m.refs--
	if m.refs == 0 && kl.locks[key] == m {
		delete(kl.locks, key)
	}
}

// unlock releases the lock for key. Unlocking a key that is not locked is a no-op.
func (kl *KeyLock) unlock(key string) {
	kl.mu.Lock()
	m, ok := kl.locks[key]
	kl.mu.Unlock()
	if !ok {
		return
	}
	m.mu.Unlock()
	kl.release(key, m)
}

// lockContext waits for the lock until ctx is done. On timeout it returns
// ErrLockTimeout; on cancellation it returns ctx.Err().
func (kl *KeyLock) lockContext(ctx context.Context, key string) error {
	m := kl.acquire(key)
	if m.mu.TryLock() {
		return nil
	}

	done := make(chan struct{})
	go func() {
		m.mu.Lock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// The waiter still gets the mutex eventually; hand it straight back.
		go func() {
			<-done
			m.mu.Unlock()
			kl.release(key, m)
		}()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrLockTimeout
		}
		return ctx.Err()
	}
}

// WithLockContext executes fn while holding the lock for key, waiting at most
// timeout for it.
func (kl *KeyLock) WithLockContext(ctx context.Context, key string, timeout time.Duration, fn func() error) error {
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := kl.lockContext(lockCtx, key); err != nil {
		return err
	}
	defer kl.unlock(key)

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn()
}

// Len returns the number of keys currently held or waited on.
func (kl *KeyLock) Len() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.locks)
}
