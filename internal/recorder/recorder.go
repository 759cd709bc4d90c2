// Package recorder buffers telemetry samples taken from the instrument and
// writes them to the day's capture file in batches.
package recorder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/incubator.report/internal/monitoring"
	"github.com/banshee-data/incubator.report/internal/storage"
	"github.com/banshee-data/incubator.report/internal/telemetry"
	"github.com/banshee-data/incubator.report/internal/timeutil"
)

// Sink receives flushed rows. *storage.Store satisfies it.
type Sink interface {
	InitFile(name, header string) error
	AppendRows(name string, rows []string) error
}

// Policy controls when buffered rows are written out.
type Policy struct {
	// MaxRows flushes as soon as this many rows are buffered.
	MaxRows int
	// FlushInterval flushes whatever is buffered on every tick.
	FlushInterval time.Duration
}

// DefaultPolicy is used for zero fields of a caller's Policy.
var DefaultPolicy = Policy{MaxRows: 60, FlushInterval: time.Minute}

// Recorder is a buffered writer of telemetry rows. Rows go to the file
// named for the UTC day on which they were buffered; a new day flushes the
// previous day's rows first.
type Recorder struct {
	clock   timeutil.Clock
	sink    Sink
	mode    string
	policy  Policy
	metrics *monitoring.Metrics

	mu  sync.Mutex
	buf []row
}

// row is one buffered CSV line and the day file it belongs to.
type row struct {
	day  time.Time
	line string
}

// New creates a recorder writing files of the given capture mode.
func New(clock timeutil.Clock, sink Sink, mode string, policy Policy, metrics *monitoring.Metrics) *Recorder {
	if policy.MaxRows <= 0 {
		policy.MaxRows = DefaultPolicy.MaxRows
	}
	if policy.FlushInterval <= 0 {
		policy.FlushInterval = DefaultPolicy.FlushInterval
	}
	return &Recorder{clock: clock, sink: sink, mode: mode, policy: policy, metrics: metrics}
}

// Add buffers every sample, then flushes the previous days' rows when the
// day has changed and everything when the buffer reaches MaxRows. Rows stay
// buffered when the flush fails; its error is returned.
func (r *Recorder) Add(samples ...telemetry.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	today := timeutil.StartOfDay(r.clock.Now())
	for _, s := range samples {
		r.buf = append(r.buf, row{day: today, line: s.CSVRow()})
	}

	var err error
	switch {
	case len(r.buf) >= r.policy.MaxRows:
		err = r.flushLocked(time.Time{})
	case len(r.buf) > 0 && r.buf[0].day.Before(today):
		err = r.flushLocked(today)
	}
	r.metrics.Pending(len(r.buf))
	return err
}

// Flush writes any buffered rows now.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked(time.Time{})
}

// Pending returns the number of buffered rows.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// flushLocked writes the buffered rows of every day before until, or all of
// them when until is zero, one file at a time in buffer order. Rows of a
// file that fails to write stay buffered, as do all rows after it.
func (r *Recorder) flushLocked(until time.Time) error {
	written := 0
	for written < len(r.buf) {
		day := r.buf[written].day
		if !until.IsZero() && !day.Before(until) {
			break
		}
		end := written
		lines := make([]string, 0, len(r.buf)-written)
		for end < len(r.buf) && r.buf[end].day.Equal(day) {
			lines = append(lines, r.buf[end].line)
			end++
		}
		if err := r.writeDay(day, lines); err != nil {
			r.drop(written)
			return err
		}
		written = end
	}
	r.drop(written)
	return nil
}

func (r *Recorder) writeDay(day time.Time, lines []string) error {
	name := storage.FileName(r.mode, day)
	if err := r.sink.InitFile(name, telemetry.ExtendedHeader); err != nil {
		return fmt.Errorf("failed to init %s: %w", name, err)
	}
	if err := r.sink.AppendRows(name, lines); err != nil {
		return fmt.Errorf("failed to flush %d rows to %s: %w", len(lines), name, err)
	}
	return nil
}

// drop removes the first n buffered rows.
func (r *Recorder) drop(n int) {
	if n == 0 {
		return
	}
	r.buf = append(r.buf[:0], r.buf[n:]...)
	r.metrics.Flushed(n, len(r.buf))
}

// Run flushes on every FlushInterval tick until ctx is cancelled, then
// flushes a final time.
func (r *Recorder) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(r.policy.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := r.Flush(); err != nil {
				monitoring.Logf("recorder: final flush failed: %v", err)
			}
			return
		case <-ticker.C():
			if err := r.Flush(); err != nil {
				monitoring.Logf("recorder: flush failed: %v", err)
			}
		}
	}
}
