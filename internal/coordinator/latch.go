package coordinator

import (
	"context"
	"sync"
)

// Latch is a one-shot startup rendezvous: the coordinator holds the event
// stream back until every consumer has reported ready, so the first
// trigger never races consumer initialization (a camera still opening its
// device must not miss trial one).
type Latch struct {
	mu        sync.Mutex
	remaining int
	done      chan struct{}
}

// NewLatch creates a latch expecting n Ready calls. n <= 0 means nothing
// to wait for.
func NewLatch(n int) *Latch {
	l := &Latch{remaining: n, done: make(chan struct{})}
	if n <= 0 {
		close(l.done)
	}
	return l
}

// Ready reports one consumer ready. Calls beyond the expected count are
// no-ops.
func (l *Latch) Ready() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.remaining == 0 {
		return
	}
	l.remaining--
	if l.remaining == 0 {
		close(l.done)
	}
}

// Wait blocks until every consumer is ready or ctx is cancelled.
func (l *Latch) Wait(ctx context.Context) error {
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
