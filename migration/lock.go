package migration

import (
	"context"
	"fmt"
	"sync"
)

// Lock provides mutual exclusion for migration runs.
type Lock interface {
	// Acquire obtains the lock for the given key. The returned release
	// function must be called to release the lock.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// MutexLock implements Lock with a process-local mutex. SQLite is
// single-writer, so an in-process mutex is enough to keep one migration run
// at a time; cross-process safety comes from SQLite's own file locking.
type MutexLock struct {
	mu sync.Mutex
}

// NewMutexLock creates a MutexLock.
func NewMutexLock() *MutexLock {
	return &MutexLock{}
}

// Acquire obtains the mutex. Returns an error if the context is already cancelled.
func (l *MutexLock) Acquire(ctx context.Context, _ string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("acquire migration lock: %w", err)
	}
	l.mu.Lock()
	return func() { l.mu.Unlock() }, nil
}
