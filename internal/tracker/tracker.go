// Package tracker maintains per-object trajectory state for the tracking
// events arriving from braid: birth time, last-seen bookkeeping and a
// sliding-window smoothed heading estimate.
package tracker

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// DefaultHeadingWindow is the number of velocity samples in the heading
// smoothing window.
const DefaultHeadingWindow = 10

// DefaultStaleAfter is how long an object may go without an Update before
// the stale sweep removes it. This is a defensive bound against missed
// Death events only; braid normally emits a Death for every object.
const DefaultStaleAfter = 30 * time.Second

// Config holds tracker parameters.
type Config struct {
	HeadingWindow int           // velocity samples in the smoothing window
	StaleAfter    time.Duration // evict objects unseen for this long
}

// DefaultConfig returns the standard tracker configuration.
func DefaultConfig() Config {
	return Config{
		HeadingWindow: DefaultHeadingWindow,
		StaleAfter:    DefaultStaleAfter,
	}
}

// ObjectState is the per-object record. Velocity windows are bounded
// slices, oldest sample evicted first.
type ObjectState struct {
	ObjID     int64
	BirthTime time.Time
	LastSeen  time.Time
	LastFrame int64

	xvels []float64
	yvels []float64
}

// Estimate is what the trigger evaluator needs from the tracker for one
// Update: when the trajectory started and where the object is heading.
type Estimate struct {
	BirthTime time.Time
	Heading   float64 // radians, atan2 of window-mean velocities
	Samples   int     // velocity samples currently in the window
}

// Tracker owns the map of live objects. It is confined to the ingestion
// goroutine and holds no locks; the stale sweep runs on the same
// goroutine at a coarse cadence.
type Tracker struct {
	cfg     Config
	objects map[int64]*ObjectState
}

// New creates a Tracker. A zero or negative heading window falls back to
// the default.
func New(cfg Config) *Tracker {
	if cfg.HeadingWindow <= 0 {
		cfg.HeadingWindow = DefaultHeadingWindow
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	return &Tracker{
		cfg:     cfg,
		objects: make(map[int64]*ObjectState),
	}
}

// OnBirth starts tracking objID. Duplicate births are idempotent: the
// existing state is kept and false is returned.
func (t *Tracker) OnBirth(objID int64, now time.Time) bool {
	if _, ok := t.objects[objID]; ok {
		return false
	}
	t.objects[objID] = t.newState(objID, now)
	return true
}

// OnUpdate pushes one velocity sample for objID and returns the current
// estimate. An Update for an unknown object synthesizes a birth at now
// (recovery from a missed Birth event) and reports synthesized=true so
// the caller can log the anomaly.
func (t *Tracker) OnUpdate(objID int64, xvel, yvel float64, frame int64, now time.Time) (est Estimate, synthesized bool) {
	obj, ok := t.objects[objID]
	if !ok {
		obj = t.newState(objID, now)
		t.objects[objID] = obj
		synthesized = true
	}
	obj.LastSeen = now
	obj.LastFrame = frame

	obj.xvels = append(obj.xvels, xvel)
	obj.yvels = append(obj.yvels, yvel)
	if len(obj.xvels) > t.cfg.HeadingWindow {
		obj.xvels = obj.xvels[1:]
		obj.yvels = obj.yvels[1:]
	}

	// Component means first, atan2 second. Averaging raw angles instead
	// would wrap around at ±π.
	heading := math.Atan2(stat.Mean(obj.yvels, nil), stat.Mean(obj.xvels, nil))

	return Estimate{
		BirthTime: obj.BirthTime,
		Heading:   heading,
		Samples:   len(obj.xvels),
	}, synthesized
}

// OnDeath stops tracking objID. Unknown ids are a no-op.
func (t *Tracker) OnDeath(objID int64) bool {
	if _, ok := t.objects[objID]; !ok {
		return false
	}
	delete(t.objects, objID)
	return true
}

// SweepStale removes objects unseen for longer than StaleAfter and
// returns how many were evicted. Covers missed Death events; callers run
// it off the per-update hot path (once a second is plenty).
func (t *Tracker) SweepStale(now time.Time) int {
	evicted := 0
	for id, obj := range t.objects {
		if now.Sub(obj.LastSeen) > t.cfg.StaleAfter {
			delete(t.objects, id)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of currently tracked objects.
func (t *Tracker) Len() int {
	return len(t.objects)
}

func (t *Tracker) newState(objID int64, now time.Time) *ObjectState {
	return &ObjectState{
		ObjID:     objID,
		BirthTime: now,
		LastSeen:  now,
		xvels:     make([]float64, 0, t.cfg.HeadingWindow),
		yvels:     make([]float64, 0, t.cfg.HeadingWindow),
	}
}
