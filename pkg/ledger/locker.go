package ledger

import (
	"context"
	"sync"
)

// AccountLocker serializes the spend path of a single account. Unrelated
// accounts never wait on each other.
type AccountLocker interface {
	WithAccountLock(ctx context.Context, scope AccountScope, fn func(ctx context.Context) error) error
}

// KeyedMutex is an in-process AccountLocker. It only serializes callers that
// share the process; cross-replica exclusion comes from Store.LockAccount.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	slot chan struct{}
	refs int
}

// NewKeyedMutex returns an empty locker.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

// WithAccountLock runs fn while holding the lock for scope. The lock is
// released on every exit path, including panics in fn.
func (keyed *KeyedMutex) WithAccountLock(ctx context.Context, scope AccountScope, fn func(ctx context.Context) error) error {
	key := scope.Key()
	lock := keyed.acquireRef(key)
	defer keyed.releaseRef(key, lock)

	select {
	case lock.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-lock.slot }()

	return fn(ctx)
}

// Held returns the number of keys with waiters or holders.
func (keyed *KeyedMutex) Held() int {
	keyed.mu.Lock()
	defer keyed.mu.Unlock()
	return len(keyed.locks)
}

func (keyed *KeyedMutex) acquireRef(key string) *keyedLock {
	keyed.mu.Lock()
	defer keyed.mu.Unlock()
	lock, exists := keyed.locks[key]
	if !exists {
		lock = &keyedLock{slot: make(chan struct{}, 1)}
		keyed.locks[key] = lock
	}
	lock.refs++
	return lock
}

func (keyed *KeyedMutex) releaseRef(key string, lock *keyedLock) {
	keyed.mu.Lock()
	defer keyed.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(keyed.locks, key)
	}
}
