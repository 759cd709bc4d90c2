package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the service's prometheus collectors. A nil *Metrics is
// valid and records nothing, so components can be built without one.
type Metrics struct {
	RowsParsed          prometheus.Counter
	RowsSkipped         prometheus.Counter
	FilesFailed         prometheus.Counter
	EventFetchFailures  prometheus.Counter
	RecorderRowsFlushed prometheus.Counter
	PushEvents          prometheus.Counter
	SessionsLast        prometheus.Gauge
	RecorderPending     prometheus.Gauge
	PipelineDuration    *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg. Use
// prometheus.NewRegistry() in tests to avoid clashing with the default
// registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RowsParsed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "incubator_rows_parsed_total",
			Help: "Telemetry rows accepted by the record adapter.",
		}),
		RowsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "incubator_rows_skipped_total",
			Help: "Telemetry rows rejected by the record adapter.",
		}),
		FilesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "incubator_files_failed_total",
			Help: "Telemetry files dropped from a merge because they could not be read.",
		}),
		EventFetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "incubator_event_fetch_failures_total",
			Help: "Event source queries that failed; the session was reported without events.",
		}),
		RecorderRowsFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "incubator_recorder_rows_flushed_total",
			Help: "Rows written to daily telemetry files by the recorder.",
		}),
		PushEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "incubator_push_events_total",
			Help: "Events received on the instrument's push channel.",
		}),
		SessionsLast: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "incubator_sessions_last",
			Help: "Number of sessions produced by the most recent segmentation.",
		}),
		RecorderPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "incubator_recorder_pending_rows",
			Help: "Rows buffered by the recorder and not yet flushed.",
		}),
		PipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "incubator_pipeline_duration_seconds",
			Help:    "Wall time of pipeline operations, including file and event I/O.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"op"}),
	}
	reg.MustRegister(
		m.RowsParsed, m.RowsSkipped, m.FilesFailed, m.EventFetchFailures,
		m.RecorderRowsFlushed, m.PushEvents, m.SessionsLast, m.RecorderPending,
		m.PipelineDuration,
	)
	return m
}

// ObserveRows records the outcome of parsing one batch of rows.
func (m *Metrics) ObserveRows(parsed, skipped int) {
	if m == nil {
		return
	}
	m.RowsParsed.Add(float64(parsed))
	m.RowsSkipped.Add(float64(skipped))
}

func (m *Metrics) FileFailed() {
	if m == nil {
		return
	}
	m.FilesFailed.Inc()
}

func (m *Metrics) EventFetchFailed() {
	if m == nil {
		return
	}
	m.EventFetchFailures.Inc()
}

// Flushed records a recorder flush of n rows, leaving pending rows buffered.
func (m *Metrics) Flushed(n, pending int) {
	if m == nil {
		return
	}
	m.RecorderRowsFlushed.Add(float64(n))
	m.RecorderPending.Set(float64(pending))
}

func (m *Metrics) Pending(n int) {
	if m == nil {
		return
	}
	m.RecorderPending.Set(float64(n))
}

func (m *Metrics) PushEvent() {
	if m == nil {
		return
	}
	m.PushEvents.Inc()
}

func (m *Metrics) Sessions(n int) {
	if m == nil {
		return
	}
	m.SessionsLast.Set(float64(n))
}

// Since records the time elapsed since start against the named operation.
//
//	defer m.Since("chart", time.Now())
func (m *Metrics) Since(op string, start time.Time) {
	if m == nil {
		return
	}
	m.PipelineDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
