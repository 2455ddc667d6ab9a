// Command braidtrigger runs a closed-loop optogenetics experiment: it
// consumes the event stream of a braid 3D tracking server, fires triggers
// when a tracked fly satisfies the configured spatial and temporal
// conditions, and fans each trigger out to the stimulation board, the
// display clients, the camera workers and the trial logs.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/flylab-data/braidtrigger/internal/api"
	"github.com/flylab-data/braidtrigger/internal/braid"
	"github.com/flylab-data/braidtrigger/internal/camera"
	"github.com/flylab-data/braidtrigger/internal/config"
	"github.com/flylab-data/braidtrigger/internal/coordinator"
	"github.com/flylab-data/braidtrigger/internal/csvlog"
	"github.com/flylab-data/braidtrigger/internal/db"
	"github.com/flylab-data/braidtrigger/internal/dispatch"
	"github.com/flylab-data/braidtrigger/internal/display"
	"github.com/flylab-data/braidtrigger/internal/opto"
	"github.com/flylab-data/braidtrigger/internal/tracker"
	"github.com/flylab-data/braidtrigger/internal/trigger"
	"github.com/flylab-data/braidtrigger/internal/version"
)

var (
	configPath = flag.String("config", config.DefaultConfigPath, "Path to the experiment config JSON")
	listen     = flag.String("listen", "", "Listen address (overrides config)")
	devMode    = flag.Bool("dev", false, "Run without hardware: mock opto board, synthetic camera frames")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadExperimentConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	listenAddr := cfg.GetListenAddr()
	if *listen != "" {
		listenAddr = *listen
	}

	sessionID := uuid.NewString()
	log.Printf("braidtrigger %s (%s) session %s starting (braid at %s)",
		version.Version, version.GitSHA, sessionID, cfg.GetBraidURL())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The braid server must be up before anything else is wired: an
	// unreachable tracker is a configuration problem, not a retry case.
	client := braid.NewClient(cfg.GetBraidURL())
	if err := client.Probe(ctx); err != nil {
		log.Fatalf("Braid probe failed: %v", err)
	}
	if err := client.SetRecording(ctx, true); err != nil {
		log.Fatalf("Failed to start braid recording: %v", err)
	}
	defer func() {
		// The signal context is already cancelled by the time we get
		// here; give the stop request its own deadline.
		offCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.SetRecording(offCtx, false); err != nil {
			log.Printf("Failed to stop braid recording: %v", err)
		}
	}()

	store, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		log.Fatalf("Failed to open event store: %v", err)
	}
	defer store.Close()

	triggerCSV, err := csvlog.NewWriter(cfg.GetTriggerCSVPath(), sessionID)
	if err != nil {
		log.Fatalf("Failed to open trigger csv: %v", err)
	}
	defer triggerCSV.Close()

	windowCSV, err := csvlog.NewWriter(cfg.GetWindowCSVPath(), sessionID)
	if err != nil {
		log.Fatalf("Failed to open window csv: %v", err)
	}
	defer windowCSV.Close()

	bus := dispatch.NewBus()
	hub := display.NewHub()

	coord, err := coordinator.New(coordinator.Config{
		Tracker: tracker.Config{
			HeadingWindow: cfg.GetHeadingWindow(),
			StaleAfter:    cfg.GetStaleAfter(),
		},
		Trigger: cfg.TriggerConfig(),
	}, bus)
	if err != nil {
		log.Fatalf("Invalid trigger configuration: %v", err)
	}
	coord.SetAnomalySink(func(kind, detail string) {
		if err := store.RecordAnomaly(kind, detail); err != nil {
			log.Printf("failed to record anomaly: %v", err)
		}
	})

	var wg sync.WaitGroup
	var consumers int
	var starts []func(*coordinator.Latch)
	subscribe := func(name string, buffer int, run func(ch chan trigger.Event)) {
		ch := make(chan trigger.Event, buffer)
		if err := bus.Subscribe(name, ch); err != nil {
			log.Fatalf("Failed to subscribe %s: %v", name, err)
		}
		consumers++
		starts = append(starts, func(l *coordinator.Latch) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				l.Ready()
				run(ch)
			}()
		})
	}

	// Opto board consumer.
	if cfg.GetOptoEnabled() || *devMode {
		opener := opto.OpenReal
		if *devMode {
			opener = opto.OpenMock
		}
		device, err := opto.Open(cfg.GetOptoPort(), opto.DefaultMode(), opener)
		if err != nil {
			log.Fatalf("Failed to open opto board: %v", err)
		}
		defer device.Close()
		subscribe("opto", 1, func(ch chan trigger.Event) {
			device.Run(context.Background(), ch)
		})
	}

	// Display consumer.
	if cfg.GetDisplayEnabled() {
		subscribe("display", 1, func(ch chan trigger.Event) {
			display.RunTriggerFeed(context.Background(), ch, hub)
		})
	}

	// CSV trigger log consumer.
	subscribe("csv", 4, func(ch chan trigger.Event) {
		csvlog.RunTriggerLog(context.Background(), ch, triggerCSV)
	})

	// Event store consumer.
	subscribe("db", 4, func(ch chan trigger.Event) {
		db.RunTriggerStore(context.Background(), ch, store, sessionID)
	})

	// Position window log consumer.
	samples := make(chan csvlog.Sample, 256)
	coord.SetSampleSink(samples)
	windowWriter := csvlog.NewWindowWriter(windowCSV, cfg.GetWindowBefore(), cfg.GetWindowAfter())
	subscribe("window", 4, func(ch chan trigger.Event) {
		windowWriter.Run(context.Background(), samples, ch)
	})

	// Camera capture consumers, one worker per camera.
	if cfg.GetCamerasEnabled() {
		for _, camCfg := range cfg.CameraConfigs() {
			// TODO: swap TickerSource for the camera SDK wrapper once the
			// acquisition daemon exposes its frame socket.
			src := camera.NewTickerSource(camCfg.FPS)
			sink := &camera.DirectorySink{Dir: filepath.Join(cfg.GetCaptureDir(), camCfg.Serial)}
			worker := camera.NewWorker(camCfg, src, sink)
			subscribe("camera-"+camCfg.Serial, 1, func(ch chan trigger.Event) {
				worker.Run(ctx, ch)
			})
		}
	}

	// All subscriptions are in; start consumers against the rendezvous
	// latch so the stream is held back until every one of them is live.
	latch := coordinator.NewLatch(consumers)
	for _, start := range starts {
		start(latch)
	}

	// HTTP server: status API, display websocket, admin debug routes.
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()
		store.AttachAdminRoutes(mux)

		apiMux := api.NewServer(coord, bus, hub, store, sessionID).ServeMux()
		mux.Handle("/", apiMux)

		server := &http.Server{
			Addr:    listenAddr,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("status server listening on %s", listenAddr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				// Fail the whole run, but through the signal context so
				// the deferred cleanup (braid recording off, log and
				// store closes) still happens.
				log.Printf("status server failed: %v", err)
				stop()
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	// Event stream producer.
	events := make(chan *braid.Event, 256)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := client.Stream(ctx, events); err != nil && err != context.Canceled {
			log.Printf("event stream terminated: %v", err)
		}
	}()

	// Ingestion loop: held until every consumer reports ready.
	if err := latch.Wait(ctx); err == nil {
		if err := coord.Run(ctx, events); err != nil && err != context.Canceled {
			log.Printf("coordinator terminated: %v", err)
		}
	}

	// Closing the bus closes every consumer channel; consumers drain and
	// exit. The sample channel follows so the window writer stops too.
	bus.Close()
	close(samples)

	wg.Wait()
	log.Printf("session %s complete: %d triggers fired", sessionID, coord.Ntrig())
}
