// Package opto drives the optogenetic stimulation board: an
// Arduino-compatible device on a serial line that accepts one ASCII frame
// <duration,intensity,frequency> per trigger.
package opto

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// DefaultBaudRate matches the stimulation board firmware.
const DefaultBaudRate = 9600

// Porter is the minimal serial port surface the device needs. The
// abstraction exists so tests can run against an in-memory port.
type Porter interface {
	io.ReadWriter
	io.Closer
}

// Mode carries serial port configuration.
type Mode struct {
	BaudRate int
}

// DefaultMode returns the board's standard line settings.
func DefaultMode() *Mode {
	return &Mode{BaudRate: DefaultBaudRate}
}

// Opener opens a serial port at path. Injected so main can choose
// between real hardware and a mock.
type Opener func(path string, mode *Mode) (Porter, error)

// OpenReal opens a real serial port.
func OpenReal(path string, mode *Mode) (Porter, error) {
	if mode == nil {
		mode = DefaultMode()
	}
	port, err := serial.Open(path, &serial.Mode{BaudRate: mode.BaudRate})
	if err != nil {
		return nil, fmt.Errorf("failed to open opto board port %s: %w", path, err)
	}
	return port, nil
}
