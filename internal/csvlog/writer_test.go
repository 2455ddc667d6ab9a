package csvlog

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flylab-data/braidtrigger/internal/trigger"
)

func readAll(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestWriter_LazyHeaderFromFirstRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opto.csv")
	w, err := NewWriter(path, "session-1")
	require.NoError(t, err)

	r := &Row{}
	r.Set("ntrig", uint64(1))
	r.Set("obj_id", int64(12))
	r.Set("custom_stage_time", 1.25)
	require.NoError(t, w.WriteRow(r))
	require.NoError(t, w.Close())

	records := readAll(t, path)
	require.Len(t, records, 2)
	require.Equal(t, []string{"ntrig", "obj_id", "custom_stage_time", "session_id", "csv_write_time"}, records[0])
	require.Equal(t, "1", records[1][0])
	require.Equal(t, "12", records[1][1])
	require.Equal(t, "session-1", records[1][3])
}

func TestWriter_AppendDoesNotRepeatHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opto.csv")

	w, err := NewWriter(path, "s")
	require.NoError(t, err)
	r := &Row{}
	r.Set("ntrig", uint64(1))
	require.NoError(t, w.WriteRow(r))
	require.NoError(t, w.Close())

	// reopen, as a resumed session would
	w, err = NewWriter(path, "s")
	require.NoError(t, err)
	r = &Row{}
	r.Set("ntrig", uint64(2))
	require.NoError(t, w.WriteRow(r))
	require.NoError(t, w.Close())

	records := readAll(t, path)
	require.Len(t, records, 3, "one header + two rows")
	require.Equal(t, "ntrig", records[0][0])
	require.Equal(t, "1", records[1][0])
	require.Equal(t, "2", records[2][0])
}

func TestTriggerRow_Fields(t *testing.T) {
	ev := trigger.Event{
		ObjID:       3,
		Frame:       900,
		Ntrig:       5,
		TriggerTime: time.Unix(1700000000, 0),
		Heading:     0.75,
		Position:    trigger.Position{X: 0.01, Y: -0.02, Z: 0.1},
		IsSham:      true,
	}
	r := TriggerRow(ev, time.Now())
	require.Equal(t, r.keys[0], "ntrig")
	require.Contains(t, r.keys, "is_sham")
	require.Contains(t, r.keys, "heading")
	require.Contains(t, r.keys, "csv_receive_time")

	// sham trial: actuation params present but zero
	idx := map[string]int{}
	for i, k := range r.keys {
		idx[k] = i
	}
	require.Equal(t, "true", r.vals[idx["is_sham"]])
	require.Equal(t, "0", r.vals[idx["duration"]])
}

func TestRunTriggerLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opto.csv")
	w, err := NewWriter(path, "s")
	require.NoError(t, err)

	ch := make(chan trigger.Event, 2)
	ch <- trigger.Event{Ntrig: 1, ObjID: 1}
	ch <- trigger.Event{Ntrig: 2, ObjID: 1}
	close(ch)

	done := make(chan struct{})
	go func() {
		defer close(done)
		RunTriggerLog(context.Background(), ch, w)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunTriggerLog did not stop after channel close")
	}
	require.NoError(t, w.Close())

	records := readAll(t, path)
	require.Len(t, records, 3)
}

func TestWindowWriter_FlushesAroundTrigger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "window.csv")
	w, err := NewWriter(path, "s")
	require.NoError(t, err)

	ww := NewWindowWriter(w, 2, 2)
	// unbuffered channels so each send is observed in order
	samples := make(chan Sample)
	triggers := make(chan trigger.Event)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ww.Run(context.Background(), samples, triggers)
	}()

	samples <- Sample{Frame: 1}
	samples <- Sample{Frame: 2}
	samples <- Sample{Frame: 3} // evicts frame 1
	triggers <- trigger.Event{Ntrig: 7}
	samples <- Sample{Frame: 4}
	samples <- Sample{Frame: 5}

	close(samples)
	close(triggers)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("window writer did not stop")
	}
	require.NoError(t, w.Close())

	records := readAll(t, path)
	require.Len(t, records, 5, "header + 4 window rows")
	// header: ntrig, window_index, partial, obj_id, frame, ...
	require.Equal(t, "ntrig", records[0][0])
	require.Equal(t, "frame", records[0][4])
	wantFrames := []string{"2", "3", "4", "5"}
	for i, want := range wantFrames {
		require.Equal(t, "7", records[i+1][0], "row %d ntrig", i)
		require.Equal(t, "false", records[i+1][2], "row %d partial", i)
		require.Equal(t, want, records[i+1][4], "row %d frame", i)
	}
}

func TestWindowWriter_AbandonOnShutdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "window.csv")
	w, err := NewWriter(path, "s")
	require.NoError(t, err)

	ww := NewWindowWriter(w, 1, 5)
	samples := make(chan Sample)
	triggers := make(chan trigger.Event)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ww.Run(context.Background(), samples, triggers)
	}()

	samples <- Sample{Frame: 1}
	triggers <- trigger.Event{Ntrig: 3}
	samples <- Sample{Frame: 2} // only one post sample of five

	close(samples)
	close(triggers)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("window writer did not stop")
	}
	require.NoError(t, w.Close())

	records := readAll(t, path)
	require.Len(t, records, 3, "header + 2 partial rows")
	for i := 1; i < len(records); i++ {
		require.Equal(t, "true", records[i][2], "partial flag on row %d", i)
	}
}
