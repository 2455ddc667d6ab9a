package opto

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flylab-data/braidtrigger/internal/trigger"
)

func TestFire_WritesTriggerFrame(t *testing.T) {
	port := NewMockPort()
	d := NewDevice(port)

	ev := trigger.Event{Ntrig: 1, Duration: 300, Intensity: 255, Frequency: 10}
	if err := d.Fire(ev); err != nil {
		t.Fatalf("Fire failed: %v", err)
	}
	if got, want := port.Written(), "<300,255,10>"; got != want {
		t.Errorf("expected frame %q, got %q", want, got)
	}
}

func TestFire_ShamSuppressesWrite(t *testing.T) {
	port := NewMockPort()
	d := NewDevice(port)

	ev := trigger.Event{Ntrig: 1, IsSham: true}
	if err := d.Fire(ev); err != nil {
		t.Fatalf("sham Fire should not fail: %v", err)
	}
	if got := port.Written(); got != "" {
		t.Errorf("sham trial must not touch the serial port, wrote %q", got)
	}
}

func TestFire_ShortWrite(t *testing.T) {
	port := NewMockPort()
	port.ShortWrites = true
	d := NewDevice(port)

	err := d.Fire(trigger.Event{Ntrig: 1, Duration: 300, Intensity: 255, Frequency: 10})
	if !errors.Is(err, ErrWriteFailed) {
		t.Errorf("expected ErrWriteFailed, got %v", err)
	}
}

func TestRun_ConsumesUntilChannelCloses(t *testing.T) {
	port := NewMockPort()
	d := NewDevice(port)

	ch := make(chan trigger.Event, 4)
	ch <- trigger.Event{Ntrig: 1, Duration: 300, Intensity: 255, Frequency: 10}
	ch <- trigger.Event{Ntrig: 2, IsSham: true}
	ch <- trigger.Event{Ntrig: 3, Duration: 300, Intensity: 255, Frequency: 10}
	close(ch)

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(context.Background(), ch)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after channel close")
	}
	if got, want := port.Written(), "<300,255,10><300,255,10>"; got != want {
		t.Errorf("expected two real frames %q, got %q", want, got)
	}
}

func TestRun_WriteFailureDoesNotStopConsumer(t *testing.T) {
	port := NewMockPort()
	port.FailWrites = true
	d := NewDevice(port)

	ch := make(chan trigger.Event, 2)
	ch <- trigger.Event{Ntrig: 1, Duration: 1, Intensity: 1, Frequency: 1}
	ch <- trigger.Event{Ntrig: 2, Duration: 1, Intensity: 1, Frequency: 1}
	close(ch)

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(context.Background(), ch)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run should drain the channel despite write failures")
	}
}
