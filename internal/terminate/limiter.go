package terminate

import (
	"context"
	"sync"
)

// limiter is a resizable counting semaphore. Unlike a channel semaphore the
// bound can be lowered while slots are held; holders finish, new acquires
// see the new bound.
type limiter struct {
	mu       sync.Mutex
	cond     *sync.Cond
	limit    int
	inflight int
}

func newLimiter(n int) *limiter {
	if n < 1 {
		n = 1
	}
	l := &limiter{limit: n}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// TryAcquire takes a slot without blocking.
func (l *limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inflight >= l.limit {
		return false
	}
	l.inflight++
	return true
}

// Acquire blocks until a slot frees or ctx is done.
func (l *limiter) Acquire(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			l.cond.Broadcast()
		case <-done:
		}
	}()
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.inflight >= l.limit {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.cond.Wait()
	}
	l.inflight++
	return nil
}

func (l *limiter) Release() {
	l.mu.Lock()
	if l.inflight > 0 {
		l.inflight--
	}
	l.mu.Unlock()
	l.cond.Broadcast()
}

// SetLimit resizes the bound. Held slots are unaffected.
func (l *limiter) SetLimit(n int) {
	if n < 1 {
		n = 1
	}
	l.mu.Lock()
	l.limit = n
	l.mu.Unlock()
	l.cond.Broadcast()
}

func (l *limiter) Limit() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit
}

func (l *limiter) Inflight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inflight
}
