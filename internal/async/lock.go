package async

import (
	"context"
	"sync"
)

// Lock is a mutual-exclusion lock built on a Semaphore with one permit.
// Unlike sync.Mutex, acquiring it can be abandoned through a context.
type Lock struct {
	sem *Semaphore
}

// NewLock creates an unlocked Lock.
func NewLock() *Lock {
	return &Lock{sem: NewSemaphore(1)}
}

// Lock waits for the lock and returns the handle that releases it.
//
//	r, err := l.Lock(ctx)
//	if err != nil {
//	    return err
//	}
//	defer r.Release()
func (l *Lock) Lock(ctx context.Context) (*Releaser, error) {
	if err := l.sem.Acquire(ctx); err != nil {
		return nil, err
	}
	return &Releaser{lock: l}, nil
}

// Do runs fn while holding the lock. The lock is released when fn returns or
// panics.
func (l *Lock) Do(ctx context.Context, fn func() error) error {
	r, err := l.Lock(ctx)
	if err != nil {
		return err
	}
	defer r.Release()
	return fn()
}

// Releaser is the scoped handle of an acquired Lock.
type Releaser struct {
	once sync.Once
	lock *Lock
}

// Release unlocks the Lock. Calling it more than once has no effect.
func (r *Releaser) Release() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		r.lock.sem.Release()
	})
}
