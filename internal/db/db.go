// Package db persists trigger trials and stream anomalies to sqlite. CSV
// remains the primary analysis output; the database exists for the admin
// surface (live queries, backups) and for joining trials across sessions.
package db

import (
	"compress/gzip"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/flylab-data/braidtrigger/internal/trigger"
)

type DB struct {
	*sql.DB
}

// NewDB opens (or creates) the sqlite database at path and brings the
// schema up to date.
func NewDB(path string) (*DB, error) {
	sdb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db := &DB{sdb}
	if err := db.MigrateUp(); err != nil {
		sdb.Close()
		return nil, err
	}
	return db, nil
}

// RecordTrigger inserts one trial row.
func (db *DB) RecordTrigger(sessionID string, ev trigger.Event) error {
	_, err := db.Exec(
		`INSERT INTO triggers (
			ntrig, session_id, obj_id, frame, trigger_time,
			x, y, z, heading, is_sham, duration, intensity, frequency
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Ntrig, sessionID, ev.ObjID, ev.Frame,
		float64(ev.TriggerTime.UnixNano())/1e9,
		ev.Position.X, ev.Position.Y, ev.Position.Z,
		ev.Heading, ev.IsSham, ev.Duration, ev.Intensity, ev.Frequency,
	)
	if err != nil {
		return fmt.Errorf("failed to record trigger %d: %w", ev.Ntrig, err)
	}
	return nil
}

// Trial is one stored trigger row.
type Trial struct {
	Ntrig       uint64
	SessionID   string
	ObjID       int64
	Frame       int64
	TriggerTime float64
	X, Y, Z     float64
	Heading     float64
	IsSham      bool
}

// Trials returns the most recent trials, newest first.
func (db *DB) Trials(limit int) ([]Trial, error) {
	rows, err := db.Query(
		`SELECT ntrig, session_id, obj_id, frame, trigger_time,
			x, y, z, heading, is_sham
		FROM triggers ORDER BY trigger_time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trials []Trial
	for rows.Next() {
		var tr Trial
		if err := rows.Scan(&tr.Ntrig, &tr.SessionID, &tr.ObjID, &tr.Frame,
			&tr.TriggerTime, &tr.X, &tr.Y, &tr.Z, &tr.Heading, &tr.IsSham); err != nil {
			return nil, err
		}
		trials = append(trials, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return trials, nil
}

// TrialCount reports how many trials a session has recorded.
func (db *DB) TrialCount(sessionID string) (int64, error) {
	var n int64
	err := db.QueryRow("SELECT COUNT(*) FROM triggers WHERE session_id = ?", sessionID).Scan(&n)
	return n, err
}

// RecordAnomaly stores one stream anomaly (malformed chunk, reconnect,
// dropped trigger) for postmortem review.
func (db *DB) RecordAnomaly(kind, detail string) error {
	_, err := db.Exec("INSERT INTO anomalies (kind, detail) VALUES (?, ?)", kind, detail)
	return err
}

// Anomaly is one stored anomaly row.
type Anomaly struct {
	Kind   string
	Detail string
}

// Anomalies returns the most recent anomalies, newest first.
func (db *DB) Anomalies(limit int) ([]Anomaly, error) {
	rows, err := db.Query("SELECT kind, detail FROM anomalies ORDER BY timestamp DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Anomaly
	for rows.Next() {
		var a Anomaly
		if err := rows.Scan(&a.Kind, &a.Detail); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// RunTriggerStore consumes trigger events and inserts one trial row each
// until the channel closes or ctx is cancelled. Insert failures are logged
// and the consumer keeps going; the CSV log still has the trial.
func RunTriggerStore(ctx context.Context, triggers <-chan trigger.Event, db *DB, sessionID string) {
	log.Printf("db: trigger store started")
	for {
		select {
		case ev, ok := <-triggers:
			if !ok {
				log.Printf("db: trigger store stopped")
				return
			}
			if err := db.RecordTrigger(sessionID, ev); err != nil {
				log.Printf("db: %v", err)
			}
		case <-ctx.Done():
			log.Printf("db: trigger store cancelled")
			return
		}
	}
}

// AttachAdminRoutes mounts the debug surface: tsweb debug handlers plus a
// backup endpoint that streams a consistent snapshot of the database.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unixTime := time.Now().Unix()
		backupPath := fmt.Sprintf("backup-%d.db", unixTime)
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))
}
