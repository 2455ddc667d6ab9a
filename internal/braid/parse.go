package braid

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// schemaVersion is the braid pose API version this parser understands.
const schemaVersion = 2

const (
	eventLine  = "event: braid"
	dataPrefix = "data: "
)

var (
	// ErrMalformedFrame reports a chunk that violates the two-line
	// event/data framing or carries undecodable JSON.
	ErrMalformedFrame = errors.New("braid: malformed event frame")
	// ErrUnsupportedVersion reports a chunk whose schema version is not
	// the one negotiated with the server. The event is dropped; the
	// stream itself stays usable.
	ErrUnsupportedVersion = errors.New("braid: unsupported schema version")
)

// envelope is the outer JSON object of every data line. The version field
// was absent in the first release of the pose API, so it defaults to 1.
type envelope struct {
	V   *int            `json:"v"`
	Msg json.RawMessage `json:"msg"`
}

// message holds the tagged union inside the envelope. Death is a bare
// object id rather than a struct.
type message struct {
	Birth  *Birth  `json:"Birth"`
	Update *Update `json:"Update"`
	Death  *int64  `json:"Death"`
}

// ParseChunk decodes one raw chunk from the event stream into a typed
// Event. A chunk with no "msg" field (a heartbeat) yields (nil, nil).
// ParseChunk holds no state and performs no I/O.
func ParseChunk(chunk string) (*Event, error) {
	lines := strings.Split(strings.TrimSpace(chunk), "\n")
	if len(lines) != 2 {
		return nil, fmt.Errorf("%w: expected 2 lines, got %d", ErrMalformedFrame, len(lines))
	}
	if lines[0] != eventLine {
		return nil, fmt.Errorf("%w: unexpected event line %q", ErrMalformedFrame, lines[0])
	}
	if !strings.HasPrefix(lines[1], dataPrefix) {
		return nil, fmt.Errorf("%w: data line missing %q prefix", ErrMalformedFrame, dataPrefix)
	}

	var env envelope
	if err := json.Unmarshal([]byte(lines[1][len(dataPrefix):]), &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	version := 1
	if env.V != nil {
		version = *env.V
	}
	if version != schemaVersion {
		return nil, fmt.Errorf("%w: got v=%d, want v=%d", ErrUnsupportedVersion, version, schemaVersion)
	}

	// No msg field at all: a heartbeat, not an error.
	if len(env.Msg) == 0 || string(env.Msg) == "null" {
		return nil, nil
	}

	var msg message
	if err := json.Unmarshal(env.Msg, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch {
	case msg.Birth != nil:
		return &Event{Birth: msg.Birth}, nil
	case msg.Update != nil:
		return &Event{Update: msg.Update}, nil
	case msg.Death != nil:
		return &Event{Death: msg.Death}, nil
	}
	// Unknown message variant: skip, same as a heartbeat.
	return nil, nil
}
