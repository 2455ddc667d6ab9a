// Package camera runs one capture worker per high-speed camera. A worker
// continuously buffers the camera's frames in a pre-trigger ring; when a
// trigger arrives it collects the post-trigger region and hands the whole
// window (pre ++ post) to a video sink, tagged with the trigger metadata.
//
// The actual camera device and the video encoding are out of scope here:
// the worker consumes an injected FrameSource and produces to an injected
// VideoSink.
package camera

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"github.com/flylab-data/braidtrigger/internal/ringbuf"
	"github.com/flylab-data/braidtrigger/internal/trigger"
)

// Frame is one grabbed camera frame.
type Frame struct {
	Index     int64
	Timestamp time.Time
	Data      []byte
}

// TriggerContext is the trigger metadata paired with a capture window,
// used by sinks to name and annotate output files.
type TriggerContext struct {
	Ntrig     uint64    `json:"ntrig"`
	ObjID     int64     `json:"obj_id"`
	Frame     int64     `json:"frame"`
	CamSerial string    `json:"cam_serial"`
	Timestamp time.Time `json:"timestamp"`
}

// Capture is one flushed trigger window.
type Capture struct {
	TriggerContext
	Frames  []Frame
	Partial bool
}

// FrameSource supplies frames from a camera device wrapper. Next blocks
// until a frame is available; it returns ctx.Err() on cancellation and
// io.EOF when the device is done for good.
type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
}

// VideoSink persists one capture window. Called from the worker's writer
// goroutine, never from the frame loop.
type VideoSink interface {
	WriteCapture(c Capture) error
}

// Config sizes the capture window for one camera.
type Config struct {
	Serial     string
	FPS        float64
	TimeBefore time.Duration
	TimeAfter  time.Duration
}

// beforeFrames and afterFrames convert the configured durations into ring
// region sizes, with a floor of 1 on the post region (the triggering
// frame itself lands there).
func (c Config) beforeFrames() int {
	return int(c.FPS * c.TimeBefore.Seconds())
}

func (c Config) afterFrames() int {
	n := int(c.FPS * c.TimeAfter.Seconds())
	if n < 1 {
		n = 1
	}
	return n
}

// Worker is one camera's capture loop.
type Worker struct {
	cfg  Config
	src  FrameSource
	sink VideoSink
	buf  *ringbuf.Buffer[Frame, TriggerContext]
}

// NewWorker builds a worker for one camera.
func NewWorker(cfg Config, src FrameSource, sink VideoSink) *Worker {
	return &Worker{
		cfg:  cfg,
		src:  src,
		sink: sink,
		buf:  ringbuf.New[Frame, TriggerContext](cfg.beforeFrames(), cfg.afterFrames()),
	}
}

// Run grabs frames and captures trigger windows until the trigger channel
// closes, the source reports EOF, or ctx is cancelled. A window still in
// flight at shutdown is flushed partial. Sink writes happen on a separate
// goroutine so encoding latency never backs up the grab loop.
func (w *Worker) Run(ctx context.Context, triggers <-chan trigger.Event) {
	log.Printf("camera %s: worker started (pre=%d post=%d frames)",
		w.cfg.Serial, w.cfg.beforeFrames(), w.cfg.afterFrames())

	writeCh := make(chan Capture, 2)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for c := range writeCh {
			if err := w.sink.WriteCapture(c); err != nil {
				log.Printf("camera %s: failed to write capture for trigger %d: %v",
					w.cfg.Serial, c.Ntrig, err)
			}
		}
	}()

	defer func() {
		if flush, ok := w.buf.Abandon(); ok {
			writeCh <- w.capture(flush)
		}
		close(writeCh)
		<-writerDone
		log.Printf("camera %s: worker stopped", w.cfg.Serial)
	}()

	for {
		// Triggers are observed between frames, same as the original
		// grab loop polling the trigger event per iteration.
		select {
		case ev, ok := <-triggers:
			if !ok {
				return
			}
			w.buf.Trigger(TriggerContext{
				Ntrig:     ev.Ntrig,
				ObjID:     ev.ObjID,
				Frame:     ev.Frame,
				CamSerial: w.cfg.Serial,
				Timestamp: ev.TriggerTime,
			})
		case <-ctx.Done():
			return
		default:
		}

		frame, err := w.src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			// A single bad grab is recoverable; keep the loop alive.
			log.Printf("camera %s: frame grab failed: %v", w.cfg.Serial, err)
			continue
		}
		if flush, done := w.buf.Push(frame); done {
			select {
			case writeCh <- w.capture(flush):
			default:
				// writer is saturated; losing this window beats
				// stalling the grab loop
				log.Printf("camera %s: dropped capture for trigger %d (writer busy)",
					w.cfg.Serial, flush.Context.Ntrig)
			}
		}
	}
}

func (w *Worker) capture(flush ringbuf.Flush[Frame, TriggerContext]) Capture {
	return Capture{
		TriggerContext: flush.Context,
		Frames:         flush.Items,
		Partial:        flush.Partial,
	}
}
