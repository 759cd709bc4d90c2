package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/banshee-data/incubator.report/internal/api"
	"github.com/banshee-data/incubator.report/internal/config"
	"github.com/banshee-data/incubator.report/internal/db"
	"github.com/banshee-data/incubator.report/internal/eventmux"
	"github.com/banshee-data/incubator.report/internal/fsutil"
	"github.com/banshee-data/incubator.report/internal/hardware"
	"github.com/banshee-data/incubator.report/internal/httputil"
	"github.com/banshee-data/incubator.report/internal/monitoring"
	"github.com/banshee-data/incubator.report/internal/pipeline"
	"github.com/banshee-data/incubator.report/internal/recorder"
	"github.com/banshee-data/incubator.report/internal/storage"
	"github.com/banshee-data/incubator.report/internal/timeutil"
	"github.com/banshee-data/incubator.report/internal/version"
)

var (
	configPath   = flag.String("config", "", "Path to a JSON or YAML config file (default "+config.DefaultConfigPath+" when present)")
	listen       = flag.String("listen", "", "Listen address (overrides config)")
	dataDir      = flag.String("data", "", "Directory holding the daily telemetry files (overrides config)")
	dbPath       = flag.String("db", "", "Path to the sqlite event store (overrides config)")
	hardwareURL  = flag.String("hardware", "", "Base URL of the incubator's hardware API (overrides config)")
	simulated    = flag.Bool("simulated", false, "Capture from the built-in simulator instead of the hardware")
	remoteEvents = flag.Bool("remote-events", false, "Correlate sessions against the hardware's event history instead of the local event store")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

// liveSpan is the trailing window behind /api/live.
const liveSpan = 6 * time.Hour

const retentionInterval = 24 * time.Hour

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get())
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	if flag.Arg(0) == "migrate" {
		if err := db.RunMigrateCommand(flag.Args()[1:], cfg.GetDBPath(), os.Stdout); err != nil {
			log.Fatal(err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal(err)
	}
	log.Printf("Graceful shutdown complete")
}

// loadConfig reads path, or the defaults file when path is empty and the
// file exists, then applies INCUBATOR_* environment overrides.
func loadConfig(path string) (*config.Config, error) {
	cfg := &config.Config{}
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); err == nil {
			path = config.DefaultConfigPath
		}
	}
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFlags copies explicitly set command-line flags over cfg.
func applyFlags(cfg *config.Config) {
	set := func(dst **string, v string) {
		if v != "" {
			*dst = &v
		}
	}
	set(&cfg.Listen, *listen)
	set(&cfg.DataDir, *dataDir)
	set(&cfg.DBPath, *dbPath)
	set(&cfg.HardwareURL, *hardwareURL)
	if *simulated {
		set(&cfg.CaptureMode, storage.ModeSimulated)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	clock := timeutil.RealClock{}
	mode := cfg.GetCaptureMode()
	log.Printf("incubator %s starting in %s mode", version.Get(), mode)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewMetrics(reg)

	store, err := storage.New(fsutil.OSFileSystem{}, cfg.GetDataDir(), clock)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.GetDBPath()), 0o755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	database, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	defer database.Close()

	hw, err := hardware.NewClient(cfg.GetHardwareURL(), httputil.NewStandardClient(httputil.DefaultTimeout), httputil.NewStreamingClient())
	if err != nil {
		return err
	}

	var status recorder.StatusSource = hw
	if mode == storage.ModeSimulated {
		status = hardware.NewSimulator(clock, cfg.GetSimulatedPlates(), uint64(clock.Now().UnixNano()))
	}
	rec := recorder.New(clock, store, mode, recorder.Policy{
		MaxRows:       cfg.GetFlushRows(),
		FlushInterval: cfg.GetFlushInterval(),
	}, metrics)

	var evs pipeline.EventSource = database
	if *remoteEvents {
		evs = hw
	}
	p := pipeline.New(store, evs, pipeline.Options{
		GapThreshold:     cfg.GetGapThreshold(),
		CorrelationSlack: cfg.GetCorrelationSlack(),
		DownsampleCap:    cfg.GetDownsampleCap(),
		Mode:             mode,
	}, metrics)
	live := pipeline.NewRefresher(clock, cfg.GetRefreshInterval(), p.LiveSnapshots(clock, liveSpan), metrics)
	events := eventmux.New(database, clock, metrics)

	var wg sync.WaitGroup

	// the recorder's Run does the final flush once Poll has stopped adding
	recCtx, stopRecorder := context.WithCancel(context.Background())
	wg.Add(1)
	go func() {
		defer wg.Done()
		rec.Run(recCtx)
		log.Print("recorder routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer stopRecorder()
		rec.Poll(ctx, status, cfg.GetPollInterval())
		log.Print("poll routine terminated")
	}()

	if mode == storage.ModeLive {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer events.Close()
			if err := events.Run(ctx, hw); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("event stream stopped: %v", err)
			}
			log.Print("event stream routine terminated")
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		live.Run(ctx)
		log.Print("live refresher terminated")
	}()

	if days := cfg.GetRetentionDays(); days > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runRetention(ctx, clock, store, database, days)
			log.Print("retention routine terminated")
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		srv := api.NewServer(store, p, clock)
		srv.SetAudit(database)
		srv.SetLive(live)
		srv.SetConfig(cfg.Resolve())
		srv.SetGatherer(reg)
		mux := srv.ServeMux()

		if err := database.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach database admin routes: %v", err)
		}
		events.AttachAdminRoutes(mux)

		server := &http.Server{
			Addr:              cfg.GetListen(),
			Handler:           api.LoggingMiddleware(mux),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			log.Printf("listening on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	return nil
}

// runRetention prunes capture files and stored events older than days, once
// at startup and then every retentionInterval.
func runRetention(ctx context.Context, clock timeutil.Clock, store *storage.Store, database *db.DB, days int) {
	ticker := clock.NewTicker(retentionInterval)
	defer ticker.Stop()
	for {
		prune(ctx, clock, store, database, days)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}
	}
}

func prune(ctx context.Context, clock timeutil.Clock, store *storage.Store, database *db.DB, days int) {
	n, err := store.DeleteFilesOlderThan(days)
	if err != nil {
		monitoring.Logf("retention: %v", err)
	}
	if n > 0 {
		a := db.FileAction{
			Name:   "*",
			Action: db.ActionPrune,
			Detail: fmt.Sprintf("retention: %d files older than %d days", n, days),
			At:     clock.Now(),
		}
		if err := database.RecordFileAction(ctx, a); err != nil {
			monitoring.Logf("retention: %v", err)
		}
	}

	cutoff := timeutil.StartOfDay(clock.Now()).AddDate(0, 0, -days)
	removed, err := database.DeleteEventsBefore(ctx, cutoff)
	if err != nil {
		monitoring.Logf("retention: %v", err)
		return
	}
	if n > 0 || removed > 0 {
		monitoring.Logf("retention: removed %d files and %d events before %s", n, removed, timeutil.DayKey(cutoff))
	}
}
