// Package pipeline wires the stored capture files and the event store into
// the views the API serves: merged timelines, chart records, session reports
// and CSV exports.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/banshee-data/incubator.report/internal/events"
	"github.com/banshee-data/incubator.report/internal/monitoring"
	"github.com/banshee-data/incubator.report/internal/storage"
	"github.com/banshee-data/incubator.report/internal/telemetry"
)

// FileStore lists and reads capture files. *storage.Store satisfies it.
type FileStore interface {
	ListFiles() ([]storage.FileInfo, error)
	ReadFile(name string) (string, error)
}

// EventSource returns stored events in [start, end) for a channel; a nil
// channel means every channel. *db.DB and *hardware.Client satisfy it.
type EventSource interface {
	FetchEvents(ctx context.Context, start, end time.Time, channel *int) ([]events.Event, error)
}

// Options tune the pipeline. Zero fields take the package defaults.
type Options struct {
	GapThreshold     time.Duration
	CorrelationSlack time.Duration
	DownsampleCap    int
	// Mode restricts loading to files of one capture mode; empty loads all.
	Mode string
}

// Pipeline runs the merge, segmentation and correlation steps over stored
// data. Each call reads its inputs afresh and returns newly allocated
// results.
type Pipeline struct {
	files   FileStore
	events  EventSource
	opts    Options
	metrics *monitoring.Metrics
}

// New returns a pipeline. evs may be nil, in which case reports carry no
// events.
func New(files FileStore, evs EventSource, opts Options, metrics *monitoring.Metrics) *Pipeline {
	if opts.GapThreshold < 0 {
		panic(fmt.Sprintf("pipeline: negative gap threshold %s", opts.GapThreshold))
	}
	if opts.GapThreshold == 0 {
		opts.GapThreshold = telemetry.DefaultGapThreshold
	}
	if opts.CorrelationSlack <= 0 {
		opts.CorrelationSlack = events.DefaultCorrelationSlack
	}
	if opts.DownsampleCap <= 0 {
		opts.DownsampleCap = telemetry.DefaultDownsampleCap
	}
	return &Pipeline{files: files, events: evs, opts: opts, metrics: metrics}
}

// Options returns the effective options.
func (p *Pipeline) Options() Options { return p.opts }

// dayFileSlack widens a file's day span when choosing which files to read.
// The merge applies the exact window.
const dayFileSlack = 24 * time.Hour

// Load reads every capture file whose day overlaps window and merges them
// into one timeline sorted by timestamp, then channel. A file that cannot be
// read is logged and left out; only a failure to list files is an error.
func (p *Pipeline) Load(ctx context.Context, window telemetry.Window) ([]telemetry.Sample, error) {
	defer p.metrics.Since("load", time.Now())

	infos, err := p.files.ListFiles()
	if err != nil {
		return nil, fmt.Errorf("failed to list capture files: %w", err)
	}

	var files []telemetry.File
	for _, info := range infos {
		if p.opts.Mode != "" && info.Mode != p.opts.Mode {
			continue
		}
		// a row can land in the neighbouring day's file when the recorder's
		// clock and the instrument's timestamps straddle midnight
		if from, to := info.Covers(); !window.Overlaps(from.Add(-dayFileSlack), to.Add(dayFileSlack)) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		content, err := p.files.ReadFile(info.Name)
		if err != nil {
			monitoring.Logf("pipeline: skipping %s: %v", info.Name, err)
			p.metrics.FileFailed()
			continue
		}
		files = append(files, telemetry.ParseFile(info.Name, content))
	}

	samples, stats := telemetry.MergeWithStats(files, window)
	p.metrics.ObserveRows(stats.Rows-stats.Skipped, stats.Skipped)
	return samples, nil
}

// Report is one session with its correlated events and summary. Samples are
// downsampled to the pipeline cap; the summary covers every sample.
type Report struct {
	telemetry.Session
	Events  []events.Annotated `json:"events"`
	Summary telemetry.Summary  `json:"summary"`
}

// Sessions segments each channel's timeline in window into sessions and
// attaches the events around each one. A nil channel reports every channel
// present. Reports are ordered by start time, then channel.
func (p *Pipeline) Sessions(ctx context.Context, window telemetry.Window, channel *int) ([]Report, error) {
	defer p.metrics.Since("sessions", time.Now())

	samples, err := p.Load(ctx, window)
	if err != nil {
		return nil, err
	}
	return p.sessionsOf(ctx, samples, channel), nil
}

func (p *Pipeline) sessionsOf(ctx context.Context, samples []telemetry.Sample, channel *int) []Report {
	channels := telemetry.Channels(samples)
	if channel != nil {
		channels = []int{*channel}
	}
	var sessions []telemetry.Session
	for _, ch := range channels {
		sessions = append(sessions, telemetry.Segment(telemetry.ChannelTimeline(samples, ch), p.opts.GapThreshold)...)
	}
	reports := p.reports(ctx, sessions)
	p.metrics.Sessions(len(reports))
	return reports
}

// SessionsByBarcode follows one plate across shelves: the samples carrying
// barcode, from any channel, are segmented with a new session whenever the
// plate changes shelf.
func (p *Pipeline) SessionsByBarcode(ctx context.Context, window telemetry.Window, barcode string) ([]Report, error) {
	defer p.metrics.Since("sessions_barcode", time.Now())

	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return nil, fmt.Errorf("barcode is required")
	}
	samples, err := p.Load(ctx, window)
	if err != nil {
		return nil, err
	}
	sessions := telemetry.Segment(telemetry.BarcodeTimeline(samples, barcode), p.opts.GapThreshold)
	return p.reports(ctx, sessions), nil
}

func (p *Pipeline) reports(ctx context.Context, sessions []telemetry.Session) []Report {
	sort.SliceStable(sessions, func(i, j int) bool {
		if !sessions[i].Start.Equal(sessions[j].Start) {
			return sessions[i].Start.Before(sessions[j].Start)
		}
		return sessions[i].Channel < sessions[j].Channel
	})

	reports := make([]Report, 0, len(sessions))
	for _, s := range sessions {
		summary := telemetry.Summarize(s)
		s.Samples = telemetry.Downsample(s.Samples, p.opts.DownsampleCap)
		annotated := events.Correlate(s, p.sessionEvents(ctx, s), p.opts.CorrelationSlack)
		if annotated == nil {
			annotated = []events.Annotated{}
		}
		reports = append(reports, Report{Session: s, Events: annotated, Summary: summary})
	}
	return reports
}

// sessionEvents fetches the events that could correlate with s. A failed
// fetch yields no events.
func (p *Pipeline) sessionEvents(ctx context.Context, s telemetry.Session) []events.Event {
	if p.events == nil {
		return nil
	}
	ch := s.Channel
	// end is exclusive on the source side
	evs, err := p.events.FetchEvents(ctx, s.Start.Add(-p.opts.CorrelationSlack), s.End.Add(p.opts.CorrelationSlack+time.Millisecond), &ch)
	if err != nil {
		monitoring.Logf("pipeline: event fetch for shelf %d session at %s failed: %v", s.Channel, s.Start.Format(time.RFC3339), err)
		p.metrics.EventFetchFailed()
		return nil
	}
	return evs
}

// Events returns stored events in window with their descriptions, without
// session anchoring.
func (p *Pipeline) Events(ctx context.Context, window telemetry.Window, channel *int) ([]events.Annotated, error) {
	if p.events == nil {
		return []events.Annotated{}, nil
	}
	evs, err := p.events.FetchEvents(ctx, window.Start, window.End, channel)
	if err != nil {
		p.metrics.EventFetchFailed()
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}
	return events.Describe(evs), nil
}
