package generic

import (
	"context"
	"sync"
)

// =============================================================================
// KEYED MUTEX - One writer per tenancy, parallel across tenancies
// =============================================================================

// KeyedMutex hands out one mutex per key. Operations on the same tenancy
// queue behind each other; operations on different tenancies never contend.
// Entries are reference counted and dropped when the last holder unlocks.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock blocks until key is free and returns its unlock function.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// =============================================================================
// RETRY - Conflicts are retried as a whole unit of work
// =============================================================================

// RetryOnConflict runs fn and, if it fails with ErrConcurrencyConflict,
// runs it again up to retries more times. Any other error is returned
// immediately. fn must be the complete atomic operation.
func RetryOnConflict(ctx context.Context, retries int, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	for i := 0; i < retries && IsRetryable(err); i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = fn(ctx)
	}
	return err
}
