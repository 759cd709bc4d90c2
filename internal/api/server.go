// Package api serves the incubator's capture files, session reports and
// event log over HTTP.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/incubator.report/internal/db"
	"github.com/banshee-data/incubator.report/internal/monitoring"
	"github.com/banshee-data/incubator.report/internal/pipeline"
	"github.com/banshee-data/incubator.report/internal/storage"
	"github.com/banshee-data/incubator.report/internal/timeutil"
	"github.com/banshee-data/incubator.report/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// FileStore is the file management surface of *storage.Store.
type FileStore interface {
	ListFiles() ([]storage.FileInfo, error)
	DeleteFile(name string) error
	DeleteFilesOlderThan(days int) (int, error)
}

// AuditLog records file deletions. *db.DB satisfies it.
type AuditLog interface {
	RecordFileAction(ctx context.Context, a db.FileAction) error
	FileActions(ctx context.Context, limit int) ([]db.FileAction, error)
}

// LiveView is the periodically refreshed snapshot behind /api/live.
type LiveView interface {
	Latest() (pipeline.Snapshot, time.Time, bool)
	Err() error
	Trigger()
}

type Server struct {
	files    FileStore
	pipeline *pipeline.Pipeline
	clock    timeutil.Clock

	audit    AuditLog
	live     LiveView
	config   any
	gatherer prometheus.Gatherer
}

func NewServer(files FileStore, p *pipeline.Pipeline, clock timeutil.Clock) *Server {
	return &Server{
		files:    files,
		pipeline: p,
		clock:    clock,
		gatherer: prometheus.DefaultGatherer,
	}
}

// SetAudit enables the file audit trail.
func (s *Server) SetAudit(a AuditLog) { s.audit = a }

// SetLive enables /api/live.
func (s *Server) SetLive(l LiveView) { s.live = l }

// SetConfig sets the value served at /api/config.
func (s *Server) SetConfig(cfg any) { s.config = cfg }

// SetGatherer sets the registry served at /metrics.
func (s *Server) SetGatherer(g prometheus.Gatherer) { s.gatherer = g }

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

// LoggingMiddleware logs status, method, URI and duration of each request.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/files", s.handleFiles)
	mux.HandleFunc("/api/files/prune", s.pruneFiles)
	mux.HandleFunc("/api/files/audit", s.listFileActions)
	mux.HandleFunc("/api/chart", s.showChart)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/sessions/barcode", s.listBarcodeSessions)
	mux.HandleFunc("/api/export", s.exportCSV)
	mux.HandleFunc("/api/events", s.listEvents)
	mux.HandleFunc("/api/live", s.showLive)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/version", s.showVersion)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.attachDebugChart(mux)
	return mux
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, version.Get())
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.config == nil {
		writeJSON(w, map[string]any{})
		return
	}
	writeJSON(w, s.config)
}
