package braid

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

const (
	// initialBackoff and maxBackoff bound the reconnect delay after the
	// event stream drops. The delay doubles per failed attempt and resets
	// once a connection delivers at least one chunk.
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
)

// Client talks to a braid server: it streams tracking events from
// GET {base}/events and toggles the server's own CSV recording via
// POST {base}/callback.
type Client struct {
	baseURL string
	httpc   *http.Client

	// backoff is the starting reconnect delay, shortened in tests.
	backoff time.Duration
}

// NewClient returns a client for the braid server at baseURL
// (e.g. "http://10.40.80.6:8397").
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{},
		backoff: initialBackoff,
	}
}

// Probe checks that the braid server answers on its root URL. Used at
// startup: an unreachable server is a fatal configuration problem, not
// something to retry into.
func (c *Client) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("braid server unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("braid server returned status %d on probe", resp.StatusCode)
	}
	return nil
}

// SetRecording starts or stops the braid server's own CSV table recording.
func (c *Client) SetRecording(ctx context.Context, on bool) error {
	body, err := json.Marshal(map[string]bool{"DoRecordCsvTables": on})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/callback", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("failed to toggle braid recording: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("braid recording callback returned status %d", resp.StatusCode)
	}
	return nil
}

// Stream connects to the event stream and sends parsed events to out until
// ctx is cancelled. A dropped connection is reconnected with capped
// exponential backoff; events emitted while disconnected are gone (braid
// does not replay), which is logged and accepted. Malformed or
// wrong-version chunks are logged and skipped without terminating the
// stream. Stream never closes out.
func (c *Client) Stream(ctx context.Context, out chan<- *Event) error {
	delay := c.backoff
	for {
		progressed, err := c.streamOnce(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if progressed {
			delay = c.backoff
		}
		log.Printf("braid event stream dropped (reconnecting in %v): %v", delay, err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
		if delay > maxBackoff {
			delay = maxBackoff
		}
	}
}

// streamOnce runs a single connection to /events. It reports whether any
// chunk arrived, so the caller can reset its backoff.
func (c *Client) streamOnce(ctx context.Context, out chan<- *Event) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/events", nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("events endpoint returned status %d", resp.StatusCode)
	}

	progressed := false
	scan := bufio.NewScanner(resp.Body)
	var chunk strings.Builder
	for scan.Scan() {
		line := scan.Text()
		if line != "" {
			if chunk.Len() > 0 {
				chunk.WriteByte('\n')
			}
			chunk.WriteString(line)
			continue
		}
		// Blank line terminates one server-sent chunk.
		if chunk.Len() == 0 {
			continue
		}
		progressed = true
		ev, err := ParseChunk(chunk.String())
		chunk.Reset()
		if err != nil {
			// A single bad chunk never kills the session.
			switch {
			case errors.Is(err, ErrUnsupportedVersion):
				log.Printf("dropping braid event: %v", err)
			case errors.Is(err, ErrMalformedFrame):
				log.Printf("skipping malformed braid chunk: %v", err)
			default:
				log.Printf("braid chunk error: %v", err)
			}
			continue
		}
		if ev == nil {
			continue // heartbeat
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return progressed, ctx.Err()
		}
	}
	if err := scan.Err(); err != nil {
		return progressed, err
	}
	return progressed, errors.New("event stream closed by server")
}
