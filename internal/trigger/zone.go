// Package trigger decides, for every candidate position coming off the
// tracker, whether to fire a stimulation trigger, and describes the fired
// trigger as an immutable event value.
package trigger

import (
	"fmt"
	"math"
)

// ZoneType selects the trigger zone geometry.
type ZoneType string

const (
	ZoneRadius ZoneType = "radius"
	ZoneBox    ZoneType = "box"
)

// RadiusZone is a vertical cylinder slice: a circle in x/y plus an
// inclusive z band. Membership in the circle is strict (a point at
// exactly Radius is outside).
type RadiusZone struct {
	CenterX float64 `json:"center_x"`
	CenterY float64 `json:"center_y"`
	Radius  float64 `json:"radius"`
	ZMin    float64 `json:"zmin"`
	ZMax    float64 `json:"zmax"`
}

// Contains reports zone membership for a position.
func (z *RadiusZone) Contains(x, y, zz float64) bool {
	dist := math.Hypot(x-z.CenterX, y-z.CenterY)
	return dist < z.Radius && z.ZMin <= zz && zz <= z.ZMax
}

func (z *RadiusZone) validate() error {
	if z.Radius <= 0 {
		return fmt.Errorf("radius zone: radius must be positive, got %v", z.Radius)
	}
	if z.ZMin > z.ZMax {
		return fmt.Errorf("radius zone: zmin %v > zmax %v", z.ZMin, z.ZMax)
	}
	return nil
}

// BoxZone is an axis-aligned box with inclusive bounds on all three axes.
type BoxZone struct {
	XMin float64 `json:"xmin"`
	XMax float64 `json:"xmax"`
	YMin float64 `json:"ymin"`
	YMax float64 `json:"ymax"`
	ZMin float64 `json:"zmin"`
	ZMax float64 `json:"zmax"`
}

// Contains reports zone membership for a position.
func (z *BoxZone) Contains(x, y, zz float64) bool {
	return z.XMin <= x && x <= z.XMax &&
		z.YMin <= y && y <= z.YMax &&
		z.ZMin <= zz && zz <= z.ZMax
}

func (z *BoxZone) validate() error {
	if z.XMin > z.XMax || z.YMin > z.YMax || z.ZMin > z.ZMax {
		return fmt.Errorf("box zone: min bound exceeds max bound")
	}
	return nil
}
