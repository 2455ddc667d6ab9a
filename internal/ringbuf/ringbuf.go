// Package ringbuf implements the pre/post-trigger capture buffer shared by
// the camera workers and the position window logger: a bounded ring that
// continuously keeps the last before-N items, and after a trigger collects
// after-M more before flushing the concatenation of both regions.
package ringbuf

import "fmt"

// Flush is the result of a completed (or abandoned) capture window: the
// pre-trigger items followed by the post-trigger items, both in original
// push order, paired with the trigger context recorded at arm time.
type Flush[T, C any] struct {
	Items   []T
	Context C
	// Partial is true when the window was abandoned (shutdown, kill)
	// before after-count items arrived. Consumers must record this flag
	// rather than present the capture as complete.
	Partial bool
}

// Buffer is a single-producer two-phase ring buffer. In the pre phase,
// Push overwrites the oldest item once beforeCount items are held. Trigger
// flips to the post phase atomically with respect to pushes (the buffer is
// confined to one goroutine), after which Push appends until afterCount
// items have arrived and the window flushes.
type Buffer[T, C any] struct {
	beforeCount int
	afterCount  int

	pre   []T
	post  []T
	armed bool
	ctx   C
}

// New creates a buffer holding beforeCount items before the trigger and
// afterCount items after it. afterCount must be at least 1 (the triggering
// item itself lands in the post region); beforeCount may be 0.
func New[T, C any](beforeCount, afterCount int) *Buffer[T, C] {
	if beforeCount < 0 {
		panic(fmt.Sprintf("ringbuf: negative beforeCount %d", beforeCount))
	}
	if afterCount < 1 {
		panic(fmt.Sprintf("ringbuf: afterCount must be >= 1, got %d", afterCount))
	}
	return &Buffer[T, C]{
		beforeCount: beforeCount,
		afterCount:  afterCount,
		pre:         make([]T, 0, beforeCount),
		post:        make([]T, 0, afterCount),
	}
}

// Armed reports whether the buffer is in the post-trigger phase.
func (b *Buffer[T, C]) Armed() bool { return b.armed }

// Trigger flips the buffer into the post phase and records ctx for the
// eventual flush. The pre region is frozen: nothing is evicted between
// here and the flush. Re-triggering while armed keeps the original
// context (one capture window at a time).
func (b *Buffer[T, C]) Trigger(ctx C) {
	if b.armed {
		return
	}
	b.armed = true
	b.ctx = ctx
}

// Push adds one item. In the pre phase it overwrites the oldest item at
// capacity and never flushes. In the post phase it appends until
// afterCount items are held, then returns the completed Flush and resets
// to the pre phase.
func (b *Buffer[T, C]) Push(item T) (Flush[T, C], bool) {
	if !b.armed {
		if b.beforeCount == 0 {
			return Flush[T, C]{}, false
		}
		if len(b.pre) == b.beforeCount {
			// classic ring: evict oldest
			copy(b.pre, b.pre[1:])
			b.pre[len(b.pre)-1] = item
		} else {
			b.pre = append(b.pre, item)
		}
		return Flush[T, C]{}, false
	}

	b.post = append(b.post, item)
	if len(b.post) < b.afterCount {
		return Flush[T, C]{}, false
	}
	return b.flush(false), true
}

// Abandon force-flushes whatever was collected, marked partial. Used on
// shutdown so a half-captured window still reaches the sink. Returns false
// when the buffer is not armed (nothing trigger-related to flush).
func (b *Buffer[T, C]) Abandon() (Flush[T, C], bool) {
	if !b.armed {
		return Flush[T, C]{}, false
	}
	return b.flush(true), true
}

func (b *Buffer[T, C]) flush(partial bool) Flush[T, C] {
	items := make([]T, 0, len(b.pre)+len(b.post))
	items = append(items, b.pre...)
	items = append(items, b.post...)
	f := Flush[T, C]{Items: items, Context: b.ctx, Partial: partial}

	b.pre = b.pre[:0]
	b.post = b.post[:0]
	b.armed = false
	var zero C
	b.ctx = zero
	return f
}
