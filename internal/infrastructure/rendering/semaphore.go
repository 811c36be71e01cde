// Package rendering provides the captcha image renderer and the bounded
// concurrency control around it.
package rendering

import (
	"context"
	"sync"
)

// Semaphore is a bounded-capacity counting semaphore with a FIFO-fair wait
// list. It caps concurrent canvas renders so CPU is not exhausted under
// load; callers beyond the limit suspend in arrival order until a slot is
// released.
type Semaphore struct {
	mu       sync.Mutex
	capacity int
	inUse    int
	waiters  []chan struct{}
}

// NewSemaphore creates a semaphore with the given capacity. A capacity below
// one is treated as one.
func NewSemaphore(capacity int) *Semaphore {
	if capacity < 1 {
		capacity = 1
	}
	return &Semaphore{capacity: capacity}
}

// Acquire obtains a slot, blocking in FIFO order when the semaphore is at
// capacity. It returns the context error if the caller is cancelled while
// waiting.
func (s *Semaphore) Acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.inUse < s.capacity && len(s.waiters) == 0 {
		s.inUse++
		s.mu.Unlock()
		return nil
	}

	ready := make(chan struct{}, 1)
	s.waiters = append(s.waiters, ready)
	s.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		for i, w := range s.waiters {
			if w == ready {
				s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
				s.mu.Unlock()
				return ctx.Err()
			}
		}
		// The slot was granted between cancellation and lock acquisition;
		// hand it back so the next waiter is not starved.
		s.releaseLocked()
		s.mu.Unlock()
		return ctx.Err()
	}
}

// Release returns a slot, waking the longest-waiting caller if any.
func (s *Semaphore) Release() {
	s.mu.Lock()
	s.releaseLocked()
	s.mu.Unlock()
}

// releaseLocked hands the slot to the head of the wait list, or frees it.
// Caller holds s.mu.
func (s *Semaphore) releaseLocked() {
	if len(s.waiters) > 0 {
		ready := s.waiters[0]
		s.waiters = s.waiters[1:]
		ready <- struct{}{}
		return
	}
	if s.inUse > 0 {
		s.inUse--
	}
}

// InUse reports the number of held slots.
func (s *Semaphore) InUse() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inUse
}

// Waiting reports the number of suspended callers.
func (s *Semaphore) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiters)
}
