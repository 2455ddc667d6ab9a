// Command braid-replay serves a recorded braid event log as a live braid
// server, for developing and testing the trigger engine without a tracking
// rig attached.
//
// The log is a JSON-lines file: one braid message envelope per line,
// exactly as it appeared on a "data:" line of the real stream, e.g.
//
//	{"v":2,"msg":{"Update":{"obj_id":12,"x":0.01,...}}}
//
// Usage:
//
//	go run ./cmd/braid-replay [flags]
//
// Flags:
//
//	-addr   Listen address (default: localhost:8397)
//	-log    Path to the JSON-lines event log (required)
//	-rate   Events per second (default: 100)
//	-loop   Loop playback when reaching end (default: false)
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

func main() {
	addr := flag.String("addr", "localhost:8397", "Listen address")
	logPath := flag.String("log", "", "Path to JSON-lines event log (required)")
	rate := flag.Float64("rate", 100, "Events per second")
	loop := flag.Bool("loop", false, "Loop playback when reaching end")
	flag.Parse()

	if *logPath == "" {
		log.Fatal("Error: -log flag is required")
	}
	if *rate <= 0 {
		log.Fatal("Error: -rate must be positive")
	}

	lines, err := readLines(*logPath)
	if err != nil {
		log.Fatalf("Failed to read log: %v", err)
	}
	log.Printf("Log info: %d events, %.2f seconds at %g ev/s",
		len(lines), float64(len(lines))/(*rate), *rate)

	interval := time.Duration(float64(time.Second) / *rate)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "braid-replay")
	})
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		log.Printf("recording callback from %s", r.RemoteAddr)
	})
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")

		log.Printf("client connected from %s", r.RemoteAddr)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		i := 0
		for {
			select {
			case <-ticker.C:
				if i >= len(lines) {
					if !*loop {
						log.Printf("playback finished for %s", r.RemoteAddr)
						return
					}
					i = 0
				}
				if _, err := fmt.Fprintf(w, "event: braid\ndata: %s\n\n", lines[i]); err != nil {
					log.Printf("client %s gone: %v", r.RemoteAddr, err)
					return
				}
				flusher.Flush()
				i++
			case <-r.Context().Done():
				log.Printf("client %s disconnected", r.RemoteAddr)
				return
			}
		}
	})

	log.Printf("replay server listening on %s", *addr)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scan := bufio.NewScanner(f)
	scan.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scan.Scan() {
		if line := scan.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scan.Err(); err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("no events in %s", path)
	}
	return lines, nil
}
