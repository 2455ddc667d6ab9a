package ringbuf

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFullCaptureWindow(t *testing.T) {
	b := New[int, string](3, 2)

	for i := 1; i <= 3; i++ {
		if _, ok := b.Push(i); ok {
			t.Fatal("pre-phase push must never flush")
		}
	}
	b.Trigger("trig-1")
	if !b.Armed() {
		t.Fatal("buffer should be armed after Trigger")
	}

	if _, ok := b.Push(4); ok {
		t.Fatal("flush before afterCount items is wrong")
	}
	f, ok := b.Push(5)
	if !ok {
		t.Fatal("expected flush at afterCount items")
	}
	if f.Partial {
		t.Error("completed window must have Partial=false")
	}
	if f.Context != "trig-1" {
		t.Errorf("expected context trig-1, got %q", f.Context)
	}
	if diff := cmp.Diff([]int{1, 2, 3, 4, 5}, f.Items); diff != "" {
		t.Errorf("flush items mismatch (-want +got):\n%s", diff)
	}
	if b.Armed() {
		t.Error("buffer must reset to pre phase after flush")
	}
}

func TestPreRegionEvictsOldest(t *testing.T) {
	b := New[int, struct{}](3, 1)
	for i := 1; i <= 5; i++ {
		b.Push(i)
	}
	b.Trigger(struct{}{})
	f, ok := b.Push(6)
	if !ok {
		t.Fatal("expected flush")
	}
	// items 1 and 2 were overwritten before the trigger
	if diff := cmp.Diff([]int{3, 4, 5, 6}, f.Items); diff != "" {
		t.Errorf("flush items mismatch (-want +got):\n%s", diff)
	}
}

func TestTriggerFreezesPreRegion(t *testing.T) {
	// The item coinciding with the trigger instant must never be
	// evicted between Trigger and the flush.
	b := New[int, struct{}](2, 3)
	b.Push(1)
	b.Push(2)
	b.Trigger(struct{}{})
	b.Push(3)
	b.Push(4)
	f, ok := b.Push(5)
	if !ok {
		t.Fatal("expected flush")
	}
	if diff := cmp.Diff([]int{1, 2, 3, 4, 5}, f.Items); diff != "" {
		t.Errorf("pre region was disturbed after Trigger (-want +got):\n%s", diff)
	}
}

func TestAbandonPartialFlush(t *testing.T) {
	b := New[int, string](2, 3)
	b.Push(1)
	b.Push(2)
	b.Trigger("t")
	b.Push(3)
	b.Push(4) // one short of afterCount

	f, ok := b.Abandon()
	if !ok {
		t.Fatal("abandon of armed buffer must flush")
	}
	if !f.Partial {
		t.Error("abandoned window must have Partial=true")
	}
	if diff := cmp.Diff([]int{1, 2, 3, 4}, f.Items); diff != "" {
		t.Errorf("partial flush items mismatch (-want +got):\n%s", diff)
	}
}

func TestAbandonUnarmed(t *testing.T) {
	b := New[int, string](2, 2)
	b.Push(1)
	if _, ok := b.Abandon(); ok {
		t.Error("abandon without a trigger must not flush")
	}
}

func TestRetriggerWhileArmedKeepsContext(t *testing.T) {
	b := New[int, string](1, 2)
	b.Push(1)
	b.Trigger("first")
	b.Trigger("second") // ignored, window in flight
	b.Push(2)
	f, ok := b.Push(3)
	if !ok {
		t.Fatal("expected flush")
	}
	if f.Context != "first" {
		t.Errorf("expected original context to win, got %q", f.Context)
	}
}

func TestZeroBeforeCount(t *testing.T) {
	b := New[int, struct{}](0, 2)
	b.Push(1) // discarded, no pre region
	b.Trigger(struct{}{})
	b.Push(2)
	f, ok := b.Push(3)
	if !ok {
		t.Fatal("expected flush")
	}
	if diff := cmp.Diff([]int{2, 3}, f.Items); diff != "" {
		t.Errorf("flush items mismatch (-want +got):\n%s", diff)
	}
}

func TestResetAfterFlushReusable(t *testing.T) {
	b := New[int, string](2, 1)
	b.Push(1)
	b.Trigger("a")
	if _, ok := b.Push(2); !ok {
		t.Fatal("expected first flush")
	}

	// second capture window from a clean slate
	b.Push(10)
	b.Push(11)
	b.Trigger("b")
	f, ok := b.Push(12)
	if !ok {
		t.Fatal("expected second flush")
	}
	if f.Context != "b" {
		t.Errorf("expected context b, got %q", f.Context)
	}
	if diff := cmp.Diff([]int{10, 11, 12}, f.Items); diff != "" {
		t.Errorf("second window items mismatch (-want +got):\n%s", diff)
	}
}
