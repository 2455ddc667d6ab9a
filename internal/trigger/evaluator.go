package trigger

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/flylab-data/braidtrigger/internal/braid"
	"github.com/flylab-data/braidtrigger/internal/tracker"
)

// OptoParams are the actuation parameters stamped on every real (non-sham)
// trigger event.
type OptoParams struct {
	Duration  float64 `json:"duration"`
	Intensity float64 `json:"intensity"`
	Frequency float64 `json:"frequency"`
}

// Config holds the immutable trigger decision parameters.
type Config struct {
	ZoneType ZoneType
	Radius   *RadiusZone
	Box      *BoxZone

	// MinTrajectoryTime is how long an object must have been tracked
	// before it may trigger.
	MinTrajectoryTime time.Duration
	// MinTriggerInterval is the global refractory period. Global on
	// purpose: a trigger for any object resets the clock for all
	// objects.
	MinTriggerInterval time.Duration
	// ShamTrialFraction is the probability in [0,1] that a qualifying
	// trigger is executed as a sham (logged and counted, no actuation).
	ShamTrialFraction float64

	Opto OptoParams
}

// Validate rejects malformed zone configuration. Called at startup; a bad
// zone is fatal, never a runtime condition.
func (c *Config) Validate() error {
	switch c.ZoneType {
	case ZoneRadius:
		if c.Radius == nil {
			return fmt.Errorf("zone_type is %q but no radius geometry given", ZoneRadius)
		}
		if err := c.Radius.validate(); err != nil {
			return err
		}
	case ZoneBox:
		if c.Box == nil {
			return fmt.Errorf("zone_type is %q but no box geometry given", ZoneBox)
		}
		if err := c.Box.validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown zone_type %q", c.ZoneType)
	}
	if c.MinTrajectoryTime < 0 {
		return fmt.Errorf("min_trajectory_time must be non-negative, got %v", c.MinTrajectoryTime)
	}
	if c.MinTriggerInterval < 0 {
		return fmt.Errorf("min_trigger_interval must be non-negative, got %v", c.MinTriggerInterval)
	}
	if c.ShamTrialFraction < 0 || c.ShamTrialFraction > 1 {
		return fmt.Errorf("sham_trial_fraction must be in [0,1], got %v", c.ShamTrialFraction)
	}
	return nil
}

func (c *Config) contains(x, y, z float64) bool {
	if c.ZoneType == ZoneRadius {
		return c.Radius.Contains(x, y, z)
	}
	return c.Box.Contains(x, y, z)
}

// Evaluator applies the trajectory, refractory and zone gates to candidate
// positions. It owns the global ntrig counter and last-trigger timestamp
// and is confined to the ingestion goroutine; no locking.
type Evaluator struct {
	cfg         Config
	ntrig       uint64
	lastTrigger time.Time

	// uniform draw in [0,1), replaceable in tests
	randFloat func() float64
}

// NewEvaluator validates cfg and returns an evaluator with no trigger
// history (the first qualifying position is never refractory-gated).
func NewEvaluator(cfg Config) (*Evaluator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid trigger configuration: %w", err)
	}
	return &Evaluator{cfg: cfg, randFloat: rand.Float64}, nil
}

// Ntrig returns the number of triggers fired so far.
func (e *Evaluator) Ntrig() uint64 { return e.ntrig }

// Evaluate decides whether the Update u fires a trigger. est is the
// tracker's birth-time/heading estimate for the same object; now is the
// evaluation instant. On a firing decision it advances ntrig, resets the
// refractory clock (sham trials included) and returns the event.
func (e *Evaluator) Evaluate(u *braid.Update, est tracker.Estimate, now time.Time) (Event, bool) {
	if now.Sub(est.BirthTime) < e.cfg.MinTrajectoryTime {
		return Event{}, false
	}
	if !e.lastTrigger.IsZero() && now.Sub(e.lastTrigger) < e.cfg.MinTriggerInterval {
		return Event{}, false
	}
	if !e.cfg.contains(u.X, u.Y, u.Z) {
		return Event{}, false
	}

	sham := e.randFloat() < e.cfg.ShamTrialFraction

	e.ntrig++
	e.lastTrigger = now

	ev := Event{
		ObjID:       u.ObjID,
		Frame:       u.Frame,
		Ntrig:       e.ntrig,
		TriggerTime: now,
		Heading:     est.Heading,
		Position:    Position{X: u.X, Y: u.Y, Z: u.Z},
		IsSham:      sham,
	}
	if !sham {
		ev.Duration = e.cfg.Opto.Duration
		ev.Intensity = e.cfg.Opto.Intensity
		ev.Frequency = e.cfg.Opto.Frequency
	}
	return ev, true
}
