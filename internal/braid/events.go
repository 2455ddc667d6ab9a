// Package braid consumes the event stream of a braid 3D tracking server:
// an HTTP chunked text/event-stream where every chunk carries one
// Birth/Update/Death lifecycle event for a tracked object.
package braid

// Birth announces a newly tracked object. The payload mirrors an Update
// without velocity fields.
type Birth struct {
	ObjID     int64   `json:"obj_id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	Timestamp float64 `json:"timestamp"`
}

// Update carries the current estimated position and velocity of a tracked
// object for one camera frame.
type Update struct {
	ObjID     int64   `json:"obj_id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	XVel      float64 `json:"xvel"`
	YVel      float64 `json:"yvel"`
	ZVel      float64 `json:"zvel"`
	Frame     int64   `json:"frame"`
	Timestamp float64 `json:"timestamp"`
}

// Event is one parsed tracking event. Exactly one of the three fields is
// non-nil. A Death carries only the object id.
type Event struct {
	Birth  *Birth
	Update *Update
	Death  *int64
}
