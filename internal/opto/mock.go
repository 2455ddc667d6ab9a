package opto

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

// MockPort is an in-memory Porter for tests and dry runs without the
// stimulation board attached.
type MockPort struct {
	mu     sync.Mutex
	wrote  bytes.Buffer
	closed bool

	// FailWrites makes every Write return an error.
	FailWrites bool
	// ShortWrites makes every Write report one byte fewer than given.
	ShortWrites bool
}

// NewMockPort returns an empty mock port.
func NewMockPort() *MockPort {
	return &MockPort{}
}

func (m *MockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, errors.New("mock port closed")
	}
	if m.FailWrites {
		return 0, errors.New("mock write failure")
	}
	if m.ShortWrites {
		n := len(p) - 1
		m.wrote.Write(p[:n])
		return n, nil
	}
	return m.wrote.Write(p)
}

func (m *MockPort) Read(p []byte) (int, error) {
	return 0, io.EOF
}

func (m *MockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Written returns everything written to the port so far.
func (m *MockPort) Written() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wrote.String()
}

// OpenMock is an Opener returning a fresh MockPort, for -no-hardware runs.
func OpenMock(path string, mode *Mode) (Porter, error) {
	return NewMockPort(), nil
}
