package broker

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// MaxForwards is the number of concurrent Platform forward requests a single
// BrokerSession may have in flight (SPEC_FULL §4.7).
const MaxForwards = 50

// ForwardLimiter bounds the number of concurrent Platform forward requests
// for one BrokerSession using a counting semaphore, the same primitive the
// teacher's dependency graph already carries transitively and SPEC_FULL §11
// promotes to direct use.
type ForwardLimiter struct {
	sem    *semaphore.Weighted
	mu     sync.Mutex
	closed bool
}

// NewForwardLimiter creates a limiter with MaxForwards permits.
func NewForwardLimiter() *ForwardLimiter {
	return &ForwardLimiter{sem: semaphore.NewWeighted(MaxForwards)}
}

// TryAcquire acquires a permit and returns true, or returns false without
// blocking if the limiter has been closed. The caller must call Release
// after the held work completes.
func (l *ForwardLimiter) TryAcquire() bool {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return false
	}

	if err := l.sem.Acquire(context.Background(), 1); err != nil {
		return false
	}
	return true
}

// Release returns a permit to the limiter.
func (l *ForwardLimiter) Release() {
	l.sem.Release(1)
}

// Close marks the limiter closed; subsequent TryAcquire calls fail
// immediately, so publishes observed after session shutdown are dropped
// silently rather than spawning forward jobs.
func (l *ForwardLimiter) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}
