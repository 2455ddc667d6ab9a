package csvlog

import (
	"context"
	"log"

	"github.com/flylab-data/braidtrigger/internal/ringbuf"
	"github.com/flylab-data/braidtrigger/internal/trigger"
)

// Sample is one position observation fed to the window logger. The
// timestamp is the braid frame timestamp (unix seconds).
type Sample struct {
	ObjID     int64
	Frame     int64
	Timestamp float64
	X, Y, Z   float64
}

// WindowWriter records a pre/post window of position samples around every
// trigger, using the same ring-buffer capture pattern as the camera
// workers. Each flushed window becomes one CSV block: one row per sample,
// all stamped with the window's ntrig and partial flag.
type WindowWriter struct {
	buf *ringbuf.Buffer[Sample, trigger.Event]
	w   *Writer
}

// NewWindowWriter creates a window logger keeping beforeCount samples
// before and afterCount samples after each trigger.
func NewWindowWriter(w *Writer, beforeCount, afterCount int) *WindowWriter {
	return &WindowWriter{
		buf: ringbuf.New[Sample, trigger.Event](beforeCount, afterCount),
		w:   w,
	}
}

// Run consumes position samples and trigger events until both inputs are
// done or ctx is cancelled. On shutdown an in-flight window is abandoned
// and flushed partial.
func (ww *WindowWriter) Run(ctx context.Context, samples <-chan Sample, triggers <-chan trigger.Event) {
	log.Printf("csvlog: window log started")
	defer ww.drain()
	for {
		select {
		case s, ok := <-samples:
			if !ok {
				samples = nil
				if triggers == nil {
					return
				}
				continue
			}
			if flush, done := ww.buf.Push(s); done {
				ww.writeFlush(flush)
			}
		case ev, ok := <-triggers:
			if !ok {
				triggers = nil
				if samples == nil {
					return
				}
				continue
			}
			ww.buf.Trigger(ev)
		case <-ctx.Done():
			return
		}
	}
}

// drain force-flushes a half-captured window so shutdown never loses the
// frames already collected.
func (ww *WindowWriter) drain() {
	if flush, ok := ww.buf.Abandon(); ok {
		ww.writeFlush(flush)
	}
	log.Printf("csvlog: window log stopped")
}

func (ww *WindowWriter) writeFlush(flush ringbuf.Flush[Sample, trigger.Event]) {
	for i, s := range flush.Items {
		r := &Row{}
		r.Set("ntrig", flush.Context.Ntrig)
		r.Set("window_index", i)
		r.Set("partial", flush.Partial)
		r.Set("obj_id", s.ObjID)
		r.Set("frame", s.Frame)
		r.Set("timestamp", s.Timestamp)
		r.Set("x", s.X)
		r.Set("y", s.Y)
		r.Set("z", s.Z)
		if err := ww.w.WriteRow(r); err != nil {
			log.Printf("csvlog: failed to write window row for trigger %d: %v", flush.Context.Ntrig, err)
			return
		}
	}
}
