// Package dispatch fans fired triggers out to the registered consumers
// (opto board, display hub, camera workers, CSV logger, event store)
// without ever blocking the ingestion path.
//
// Drop, never queue: a full consumer channel means that consumer misses
// the trigger — logged as a data-quality warning — while every other
// consumer and the ingestion loop carry on. Losing one camera's video for
// one trial is recoverable; stalling the whole loop is not.
package dispatch

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"

	"github.com/flylab-data/braidtrigger/internal/trigger"
)

var (
	// ErrSubscriberExists is returned when Subscribe reuses a name.
	ErrSubscriberExists = errors.New("dispatch: subscriber name already registered")
	// ErrBusClosed is returned for operations on a closed bus.
	ErrBusClosed = errors.New("dispatch: bus is closed")
)

// Stats is a snapshot of delivery counters.
type Stats struct {
	Published   uint64                     `json:"published"`
	Subscribers map[string]SubscriberStats `json:"subscribers"`
}

// SubscriberStats counts per-consumer deliveries and drops.
type SubscriberStats struct {
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
}

type subscriberCounters struct {
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// Bus delivers each trigger event at most once per subscriber, in ntrig
// order (Publish is called from the single ingestion goroutine). Each
// subscriber gets its own copy of the event value; no mutable state
// crosses the channel.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan<- trigger.Event
	counters    map[string]*subscriberCounters
	closed      bool

	published atomic.Uint64
}

// NewBus creates an empty dispatch bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string]chan<- trigger.Event),
		counters:    make(map[string]*subscriberCounters),
	}
}

// Subscribe registers a named consumer channel. The channel's buffer is
// the consumer's entire slack: choose it for the consumer's latency
// profile (1 is right for most — a consumer that is still busy with the
// previous trigger misses the next one).
func (b *Bus) Subscribe(name string, ch chan<- trigger.Event) error {
	if ch == nil {
		return errors.New("dispatch: subscriber channel cannot be nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	if _, ok := b.subscribers[name]; ok {
		return ErrSubscriberExists
	}
	b.subscribers[name] = ch
	b.counters[name] = &subscriberCounters{}
	return nil
}

// Publish delivers ev to every subscriber without blocking. A subscriber
// whose channel is full is skipped and its drop counter incremented.
func (b *Bus) Publish(ev trigger.Event) {
	b.published.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for name, ch := range b.subscribers {
		c := b.counters[name]
		select {
		case ch <- ev:
			c.delivered.Add(1)
		default:
			c.dropped.Add(1)
			log.Printf("dispatch: dropped trigger %d for slow consumer %q", ev.Ntrig, name)
		}
	}
}

// Stats returns a snapshot of the delivery counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := Stats{
		Published:   b.published.Load(),
		Subscribers: make(map[string]SubscriberStats, len(b.counters)),
	}
	for name, c := range b.counters {
		s.Subscribers[name] = SubscriberStats{
			Delivered: c.delivered.Load(),
			Dropped:   c.dropped.Load(),
		}
	}
	return s
}

// Close closes every subscriber channel, signalling consumers to drain
// and exit. Publish after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for name, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, name)
	}
}
