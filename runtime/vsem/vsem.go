// Package vsem implements the virtual semaphore (VSem): a counting
// semaphore whose count may start negative, used both as an N-party
// completion latch and as a task future (spec.md §3, §4.1).
//
// It is a direct translation of the original runtime's
// ares::CVSemaphore (mutex + condition variable, negative-start latch
// idiom, saturating release) into Go's sync.Cond idiom.
package vsem

import (
	"sync"
	"time"

	"tlog.app/go/tlog"
)

// VSem is a counting semaphore. Release increments the count
// (saturating at MaxCount when it is nonzero) and wakes one waiter.
// Acquire blocks while count <= 0, then decrements. A VSem created
// with a negative initial count acts as an N-party latch: the first
// -initial+1 releases must happen before any acquire can succeed.
type VSem struct {
	mu   sync.Mutex
	cond *sync.Cond

	count    int
	maxCount int
}

// New creates an unbounded VSem (maxCount == 0 means unbounded) with
// the given initial count. A negative initial is legal and is the
// latch idiom: New(-(n-1)) requires n releases before the first
// acquire succeeds.
func New(initial int) *VSem {
	return NewBounded(initial, 0)
}

// NewBounded creates a VSem whose count saturates at maxCount.
// maxCount == 0 means unbounded, matching New.
func NewBounded(initial, maxCount int) *VSem {
	s := &VSem{
		count:    initial,
		maxCount: maxCount,
	}
	s.cond = sync.NewCond(&s.mu)

	return s
}

// Acquire blocks until count > 0, then decrements it. There is no
// cancellation at this level (spec.md §5) — only AcquireTimeout
// offers a deadline.
func (s *VSem) Acquire() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.count <= 0 {
		s.cond.Wait()
	}

	s.count--

	tlog.V("vsem").Printw("acquired", "count", s.count)
}

// AcquireTimeout blocks until count > 0 or the deadline passes,
// reporting which happened. The deadline is computed once, up front,
// from the relative timeout, mirroring the source's single timespec
// computation before its wait loop. sync.Cond has no built-in timed
// wait, so a timer wakes the waiter at the deadline by broadcasting —
// acceptable here since spec.md §5 notes AcquireTimeout is not used
// by any lowered construct.
func (s *VSem) AcquireTimeout(d time.Duration) bool {
	deadline := time.Now().Add(d)

	s.mu.Lock()
	defer s.mu.Unlock()

	for s.count <= 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}

		timer := time.AfterFunc(remaining, func() {
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		})

		s.cond.Wait()
		timer.Stop()
	}

	s.count--

	return true
}

// TryAcquire decrements count and reports success if count > 0,
// without blocking.
func (s *VSem) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count > 0 {
		s.count--
		return true
	}

	return false
}

// Release increments count, saturating at MaxCount, and wakes one
// waiter. When MaxCount is set and already reached, the release is
// silently dropped but a waiter is still signaled, exactly as
// spec.md §4.1 describes ("preserves wake-up for any waiter that
// might have been added between").
func (s *VSem) Release() {
	s.mu.Lock()

	if s.maxCount == 0 || s.count < s.maxCount {
		s.count++
	}

	count := s.count

	s.mu.Unlock()
	s.cond.Signal()

	tlog.V("vsem").Printw("released", "count", count)
}

// Count reports the current count. It exists for tests verifying
// spec.md §8's invariants and is not part of the ABI surface.
func (s *VSem) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.count
}
