// Package async provides admission primitives whose wait points honor a
// context instead of blocking unconditionally.
package async

import (
	"container/list"
	"context"
	"sync"
)

// Semaphore is a counting semaphore with a FIFO queue of waiters.
//
// Release either wakes the oldest waiter or, when nobody waits, increments the
// number of available permits. A waiter whose context is cancelled leaves the
// queue without consuming a permit.
type Semaphore struct {
	mu      sync.Mutex
	count   int
	waiters list.List // of chan struct{}
}

// NewSemaphore creates a semaphore with initial available permits.
// It panics if initial is negative.
func NewSemaphore(initial int) *Semaphore {
	if initial < 0 {
		panic("async: negative initial semaphore count")
	}
	return &Semaphore{count: initial}
}

// Acquire takes one permit, waiting in arrival order until one is released
// or ctx is done. On cancellation it returns ctx.Err() and holds no permit.
func (s *Semaphore) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.count > 0 && s.waiters.Len() == 0 {
		s.count--
		s.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	elem := s.waiters.PushBack(ready)
	s.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		select {
		case <-ready:
			// Release dequeued us before we got the lock: the permit is ours,
			// hand it to the next waiter.
			s.mu.Unlock()
			s.Release()
		default:
			s.waiters.Remove(elem)
			s.mu.Unlock()
		}
		return ctx.Err()
	}
}

// TryAcquire takes a permit without waiting. It reports whether it succeeded.
func (s *Semaphore) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count > 0 && s.waiters.Len() == 0 {
		s.count--
		return true
	}
	return false
}

// Release returns one permit.
func (s *Semaphore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	front := s.waiters.Front()
	if front == nil {
		s.count++
		return
	}
	s.waiters.Remove(front)
	close(front.Value.(chan struct{}))
}

// Available returns the number of permits that can be taken without waiting.
func (s *Semaphore) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Waiting returns the number of queued waiters.
func (s *Semaphore) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiters.Len()
}
