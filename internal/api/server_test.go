package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flylab-data/braidtrigger/internal/coordinator"
	"github.com/flylab-data/braidtrigger/internal/db"
	"github.com/flylab-data/braidtrigger/internal/dispatch"
	"github.com/flylab-data/braidtrigger/internal/display"
	"github.com/flylab-data/braidtrigger/internal/tracker"
	"github.com/flylab-data/braidtrigger/internal/trigger"
)

func newTestServer(t *testing.T, store *db.DB) *Server {
	t.Helper()
	bus := dispatch.NewBus()
	coord, err := coordinator.New(coordinator.Config{
		Tracker: tracker.DefaultConfig(),
		Trigger: trigger.Config{
			ZoneType:           trigger.ZoneRadius,
			Radius:             &trigger.RadiusZone{Radius: 0.1, ZMin: 0, ZMax: 1},
			MinTriggerInterval: time.Second,
		},
	}, bus)
	require.NoError(t, err)
	return NewServer(coord, bus, display.NewHub(), store, "session-x")
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, req)
	return rec
}

func TestShowStatus(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := get(t, srv, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var status Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, "session-x", status.SessionID)
	require.Zero(t, status.Ntrig)
	require.Zero(t, status.TrackedObjects)
	require.NotNil(t, status.Dispatch.Subscribers)
}

func TestShowStatus_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/status", nil)
	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := get(t, srv, "/api/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok\n", rec.Body.String())
}

func TestHealthz_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/healthz", nil)
	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestListTrials(t *testing.T) {
	store, err := db.NewDB(filepath.Join(t.TempDir(), "trials.db"))
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.RecordTrigger("session-x", trigger.Event{Ntrig: 1, TriggerTime: time.Now()}))

	srv := newTestServer(t, store)

	rec := get(t, srv, "/api/trials")
	require.Equal(t, http.StatusOK, rec.Code)
	var trials []db.Trial
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trials))
	require.Len(t, trials, 1)
	require.Equal(t, uint64(1), trials[0].Ntrig)
}

func TestListTrials_InvalidLimit(t *testing.T) {
	store, err := db.NewDB(filepath.Join(t.TempDir(), "trials.db"))
	require.NoError(t, err)
	defer store.Close()

	srv := newTestServer(t, store)
	rec := get(t, srv, "/api/trials?limit=zero")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListTrials_StoreDisabled(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := get(t, srv, "/api/trials")
	require.Equal(t, http.StatusNotFound, rec.Code)
}
