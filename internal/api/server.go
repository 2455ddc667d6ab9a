// Package api serves the experiment status surface: live counters for the
// operator, recent trials from the event store, and the display websocket
// mount.
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/flylab-data/braidtrigger/internal/coordinator"
	"github.com/flylab-data/braidtrigger/internal/db"
	"github.com/flylab-data/braidtrigger/internal/dispatch"
	"github.com/flylab-data/braidtrigger/internal/display"
	"github.com/flylab-data/braidtrigger/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	coord     *coordinator.Coordinator
	bus       *dispatch.Bus
	hub       *display.Hub
	db        *db.DB // nil when the event store is disabled
	sessionID string
	started   time.Time
}

func NewServer(coord *coordinator.Coordinator, bus *dispatch.Bus, hub *display.Hub, store *db.DB, sessionID string) *Server {
	return &Server{
		coord:     coord,
		bus:       bus,
		hub:       hub,
		db:        store,
		sessionID: sessionID,
		started:   time.Now(),
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/healthz", s.healthz)
	mux.HandleFunc("/api/trials", s.listTrials)
	if s.hub != nil {
		mux.Handle("/ws", s.hub)
	}
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Status is the /api/status payload.
type Status struct {
	Version        string         `json:"version"`
	SessionID      string         `json:"session_id"`
	UptimeSeconds  float64        `json:"uptime_seconds"`
	Ntrig          uint64         `json:"ntrig"`
	TrackedObjects int            `json:"tracked_objects"`
	DisplayClients int            `json:"display_clients"`
	Dispatch       dispatch.Stats `json:"dispatch"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	status := Status{
		Version:        version.Version,
		SessionID:      s.sessionID,
		UptimeSeconds:  time.Since(s.started).Seconds(),
		Ntrig:          s.coord.Ntrig(),
		TrackedObjects: s.coord.Tracked(),
		Dispatch:       s.bus.Stats(),
	}
	if s.hub != nil {
		status.DisplayClients = s.hub.ClientCount()
	}

	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write status")
		return
	}
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Content-Type", "application/json")
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "ok")
}

func (s *Server) listTrials(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusNotFound, "Event store is disabled")
		return
	}

	limit := 50 // default value
	if l := r.URL.Query().Get("limit"); l != "" {
		parsedLimit, err := strconv.Atoi(l)
		if err != nil || parsedLimit < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsedLimit
	}

	trials, err := s.db.Trials(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve trials: %v", err))
		return
	}
	if trials == nil {
		trials = []db.Trial{}
	}

	if err := json.NewEncoder(w).Encode(trials); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write trials")
		return
	}
}
