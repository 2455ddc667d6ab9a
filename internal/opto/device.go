package opto

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/flylab-data/braidtrigger/internal/trigger"
)

// ErrWriteFailed reports a short write to the board.
var ErrWriteFailed = errors.New("opto: failed to write full frame to serial port")

// Device is the stimulation board consumer. Fire is serialized with a
// mutex; device I/O blocks, which is fine here — this runs on its own
// goroutine, off the ingestion path.
type Device struct {
	port    Porter
	writeMu sync.Mutex

	fired  uint64
	shams  uint64
	failed uint64
}

// NewDevice wraps an already-open port.
func NewDevice(port Porter) *Device {
	return &Device{port: port}
}

// Open opens the board at path using the given opener (OpenReal in
// production). A port that cannot be opened is a fatal startup error for
// the caller to handle.
func Open(path string, mode *Mode, opener Opener) (*Device, error) {
	port, err := opener(path, mode)
	if err != nil {
		return nil, err
	}
	return NewDevice(port), nil
}

// Fire actuates the board for one trigger event. Sham trials suppress the
// serial write entirely but are still counted.
func (d *Device) Fire(ev trigger.Event) error {
	if ev.IsSham {
		d.shams++
		log.Printf("opto: sham trial for trigger %d, no actuation", ev.Ntrig)
		return nil
	}

	frame := fmt.Sprintf("<%g,%g,%g>", ev.Duration, ev.Intensity, ev.Frequency)
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	n, err := d.port.Write([]byte(frame))
	if err != nil {
		d.failed++
		return fmt.Errorf("opto: write failed for trigger %d: %w", ev.Ntrig, err)
	}
	if n != len(frame) {
		d.failed++
		return ErrWriteFailed
	}
	d.fired++
	return nil
}

// Run consumes trigger events until the channel closes or ctx is
// cancelled. Write failures are logged and do not stop the consumer: a
// missed stimulation is a data-quality problem, not a reason to take the
// experiment down.
func (d *Device) Run(ctx context.Context, triggers <-chan trigger.Event) {
	log.Printf("opto: consumer started")
	for {
		select {
		case ev, ok := <-triggers:
			if !ok {
				log.Printf("opto: consumer stopped (fired=%d shams=%d failed=%d)", d.fired, d.shams, d.failed)
				return
			}
			if err := d.Fire(ev); err != nil {
				log.Printf("opto: %v", err)
			}
		case <-ctx.Done():
			log.Printf("opto: consumer cancelled")
			return
		}
	}
}

// Close closes the serial port.
func (d *Device) Close() error {
	return d.port.Close()
}
