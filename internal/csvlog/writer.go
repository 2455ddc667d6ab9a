// Package csvlog persists trigger events to append-only CSV files. The
// header is written lazily from the first row's field names, and every
// row is flushed immediately: trigger rate is a few per refractory
// interval at most, so durability wins over throughput.
package csvlog

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/flylab-data/braidtrigger/internal/trigger"
)

// Row is an ordered field list: key order determines column order, and the
// first row written to a file defines its header. Extra instrumentation
// fields (stage timestamps and the like) are just appended.
type Row struct {
	keys []string
	vals []string
}

// Set appends one field. Values are formatted the way the experiment
// analysis expects: floats in shortest round-trip form, times as unix
// seconds.
func (r *Row) Set(key string, value any) {
	r.keys = append(r.keys, key)
	switch v := value.(type) {
	case string:
		r.vals = append(r.vals, v)
	case bool:
		r.vals = append(r.vals, strconv.FormatBool(v))
	case int:
		r.vals = append(r.vals, strconv.Itoa(v))
	case int64:
		r.vals = append(r.vals, strconv.FormatInt(v, 10))
	case uint64:
		r.vals = append(r.vals, strconv.FormatUint(v, 10))
	case float64:
		r.vals = append(r.vals, strconv.FormatFloat(v, 'g', -1, 64))
	case time.Time:
		r.vals = append(r.vals, strconv.FormatFloat(unixSeconds(v), 'f', 6, 64))
	default:
		r.vals = append(r.vals, fmt.Sprint(v))
	}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// Writer appends rows to one CSV file.
type Writer struct {
	file        *os.File
	csvw        *csv.Writer
	path        string
	sessionID   string
	needsHeader bool
}

// NewWriter opens (or creates) the CSV file at path for appending. The
// header is written with the first row only if the file is empty, so a
// resumed session keeps appending to its earlier data. sessionID is
// stamped on every row.
func NewWriter(path, sessionID string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv log %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Writer{
		file:        f,
		csvw:        csv.NewWriter(f),
		path:        path,
		sessionID:   sessionID,
		needsHeader: info.Size() == 0,
	}, nil
}

// WriteRow appends one row (plus the session id and a write timestamp)
// and flushes it to disk.
func (w *Writer) WriteRow(row *Row) error {
	row.Set("session_id", w.sessionID)
	row.Set("csv_write_time", time.Now())

	if w.needsHeader {
		if err := w.csvw.Write(row.keys); err != nil {
			return fmt.Errorf("failed to write csv header: %w", err)
		}
		w.needsHeader = false
	}
	if err := w.csvw.Write(row.vals); err != nil {
		return fmt.Errorf("failed to write csv row: %w", err)
	}
	w.csvw.Flush()
	return w.csvw.Error()
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	w.csvw.Flush()
	if err := w.csvw.Error(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// TriggerRow builds the standard row for one trigger event. receivedAt is
// when this consumer picked the event off its channel — the gap to
// TriggerTime is the dispatch latency, recorded for every trial.
func TriggerRow(ev trigger.Event, receivedAt time.Time) *Row {
	r := &Row{}
	r.Set("ntrig", ev.Ntrig)
	r.Set("obj_id", ev.ObjID)
	r.Set("frame", ev.Frame)
	r.Set("trigger_time", ev.TriggerTime)
	r.Set("x", ev.Position.X)
	r.Set("y", ev.Position.Y)
	r.Set("z", ev.Position.Z)
	r.Set("heading", ev.Heading)
	r.Set("is_sham", ev.IsSham)
	r.Set("duration", ev.Duration)
	r.Set("intensity", ev.Intensity)
	r.Set("frequency", ev.Frequency)
	r.Set("csv_receive_time", receivedAt)
	return r
}

// RunTriggerLog consumes trigger events and writes one row each until the
// channel closes or ctx is cancelled. Write errors are logged and the
// consumer keeps going; other consumers still have the trigger.
func RunTriggerLog(ctx context.Context, triggers <-chan trigger.Event, w *Writer) {
	log.Printf("csvlog: trigger log started (%s)", w.path)
	for {
		select {
		case ev, ok := <-triggers:
			if !ok {
				log.Printf("csvlog: trigger log stopped")
				return
			}
			if err := w.WriteRow(TriggerRow(ev, time.Now())); err != nil {
				log.Printf("csvlog: failed to record trigger %d: %v", ev.Ntrig, err)
			}
		case <-ctx.Done():
			log.Printf("csvlog: trigger log cancelled")
			return
		}
	}
}
