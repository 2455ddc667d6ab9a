// Package coordinator runs the ingestion loop: braid events in, tracker
// state updated, trigger decisions made, fired triggers published on the
// dispatch bus. Everything latency-sensitive happens on this one
// goroutine; consumers live on the far side of the bus.
package coordinator

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/flylab-data/braidtrigger/internal/braid"
	"github.com/flylab-data/braidtrigger/internal/csvlog"
	"github.com/flylab-data/braidtrigger/internal/dispatch"
	"github.com/flylab-data/braidtrigger/internal/tracker"
	"github.com/flylab-data/braidtrigger/internal/trigger"
)

// DefaultSweepInterval is how often the stale-object sweep runs.
const DefaultSweepInterval = time.Second

// Config assembles the ingestion loop parameters.
type Config struct {
	Tracker tracker.Config
	Trigger trigger.Config
	// SweepInterval is the stale-sweep cadence; zero means the default.
	SweepInterval time.Duration
}

// Coordinator owns the single ingestion goroutine's state.
type Coordinator struct {
	cfg  Config
	trk  *tracker.Tracker
	eval *trigger.Evaluator
	bus  *dispatch.Bus

	// samples, when set, receives every Update position for the window
	// log. Sends never block: a busy window writer misses samples.
	samples chan<- csvlog.Sample

	// anomaly, when set, is called for recoverable stream oddities
	// (synthesized births, stale evictions).
	anomaly func(kind, detail string)

	// nowFunc is the loop's clock, replaceable in tests.
	nowFunc func() time.Time

	// ntrigMirror and liveMirror shadow the evaluator's trigger count and
	// the tracker's live-object count for readers on other goroutines
	// (the status endpoint). The tracker and evaluator themselves stay
	// confined to the ingestion goroutine.
	ntrigMirror atomic.Uint64
	liveMirror  atomic.Int64
}

// New validates the trigger configuration and assembles a coordinator
// publishing to bus.
func New(cfg Config, bus *dispatch.Bus) (*Coordinator, error) {
	eval, err := trigger.NewEvaluator(cfg.Trigger)
	if err != nil {
		return nil, err
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	return &Coordinator{
		cfg:     cfg,
		trk:     tracker.New(cfg.Tracker),
		eval:    eval,
		bus:     bus,
		nowFunc: time.Now,
	}, nil
}

// SetSampleSink routes every Update position to ch for the window log.
func (c *Coordinator) SetSampleSink(ch chan<- csvlog.Sample) {
	c.samples = ch
}

// SetAnomalySink routes recoverable stream anomalies to fn.
func (c *Coordinator) SetAnomalySink(fn func(kind, detail string)) {
	c.anomaly = fn
}

// Ntrig returns the number of triggers fired so far. Safe to call from
// any goroutine while Run is active.
func (c *Coordinator) Ntrig() uint64 { return c.ntrigMirror.Load() }

// Tracked returns the number of currently live objects. Safe to call
// from any goroutine while Run is active.
func (c *Coordinator) Tracked() int { return int(c.liveMirror.Load()) }

// Run consumes events until the channel closes or ctx is cancelled.
// Events already queued when cancellation arrives are processed before
// returning, so nothing the stream delivered is silently discarded.
func (c *Coordinator) Run(ctx context.Context, events <-chan *braid.Event) error {
	log.Printf("coordinator: ingestion loop started")
	sweep := time.NewTicker(c.cfg.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				log.Printf("coordinator: event stream ended, %d triggers fired", c.eval.Ntrig())
				return nil
			}
			c.handle(ev)
		case <-sweep.C:
			if n := c.trk.SweepStale(c.nowFunc()); n > 0 {
				log.Printf("coordinator: evicted %d stale objects", n)
				c.reportAnomaly("stale_eviction", fmt.Sprintf("evicted %d objects", n))
			}
			c.liveMirror.Store(int64(c.trk.Len()))
		case <-ctx.Done():
			c.drain(events)
			log.Printf("coordinator: stopped, %d triggers fired", c.eval.Ntrig())
			return ctx.Err()
		}
	}
}

// drain processes whatever is already buffered on the event channel
// without waiting for more.
func (c *Coordinator) drain(events <-chan *braid.Event) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handle(ev)
		default:
			return
		}
	}
}

func (c *Coordinator) handle(ev *braid.Event) {
	now := c.nowFunc()
	switch {
	case ev.Birth != nil:
		if !c.trk.OnBirth(ev.Birth.ObjID, now) {
			log.Printf("coordinator: duplicate birth for object %d", ev.Birth.ObjID)
		}
	case ev.Update != nil:
		c.handleUpdate(ev.Update, now)
	case ev.Death != nil:
		c.trk.OnDeath(*ev.Death)
	}
	c.liveMirror.Store(int64(c.trk.Len()))
}

func (c *Coordinator) handleUpdate(u *braid.Update, now time.Time) {
	est, synthesized := c.trk.OnUpdate(u.ObjID, u.XVel, u.YVel, u.Frame, now)
	if synthesized {
		log.Printf("coordinator: update for unknown object %d, birth synthesized", u.ObjID)
		c.reportAnomaly("missed_birth", fmt.Sprintf("object %d", u.ObjID))
	}

	if c.samples != nil {
		select {
		case c.samples <- csvlog.Sample{
			ObjID:     u.ObjID,
			Frame:     u.Frame,
			Timestamp: u.Timestamp,
			X:         u.X,
			Y:         u.Y,
			Z:         u.Z,
		}:
		default:
		}
	}

	if ev, fired := c.eval.Evaluate(u, est, now); fired {
		kind := "opto"
		if ev.IsSham {
			kind = "sham"
		}
		log.Printf("coordinator: trigger %d (%s) obj=%d frame=%d pos=(%.3f,%.3f,%.3f)",
			ev.Ntrig, kind, ev.ObjID, ev.Frame, ev.Position.X, ev.Position.Y, ev.Position.Z)
		c.ntrigMirror.Store(c.eval.Ntrig())
		c.bus.Publish(ev)
	}
}

func (c *Coordinator) reportAnomaly(kind, detail string) {
	if c.anomaly != nil {
		c.anomaly(kind, detail)
	}
}
