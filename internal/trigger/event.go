package trigger

import "time"

// Position is the 3D position (meters) at the trigger instant.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Event describes one fired trigger. Events are plain values: the
// dispatcher hands each consumer its own copy, nothing mutable is shared
// across goroutine boundaries.
type Event struct {
	ObjID       int64     `json:"obj_id"`
	Frame       int64     `json:"frame"`
	Ntrig       uint64    `json:"ntrig"`
	TriggerTime time.Time `json:"trigger_time"`
	Heading     float64   `json:"heading"` // radians, window-smoothed
	Position    Position  `json:"position"`
	IsSham      bool      `json:"is_sham"`

	// Physical actuation parameters for the opto board. All zero on a
	// sham trial.
	Duration  float64 `json:"duration"`
	Intensity float64 `json:"intensity"`
	Frequency float64 `json:"frequency"`
}
