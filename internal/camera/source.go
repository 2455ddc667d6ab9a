package camera

import (
	"context"
	"time"
)

// TickerSource emits empty frames at a fixed rate. It stands in for the
// vendor SDK wrapper so the capture path can run end to end without the
// cameras attached (dev mode, load tests).
type TickerSource struct {
	interval time.Duration
	index    int64
}

// NewTickerSource creates a source ticking at fps frames per second.
func NewTickerSource(fps float64) *TickerSource {
	if fps <= 0 {
		fps = 1
	}
	return &TickerSource{interval: time.Duration(float64(time.Second) / fps)}
}

func (s *TickerSource) Next(ctx context.Context) (Frame, error) {
	select {
	case <-time.After(s.interval):
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
	s.index++
	return Frame{Index: s.index, Timestamp: time.Now()}, nil
}
