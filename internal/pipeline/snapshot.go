package pipeline

import (
	"context"
	"time"

	"github.com/banshee-data/incubator.report/internal/telemetry"
	"github.com/banshee-data/incubator.report/internal/timeutil"
)

// Snapshot is the live view: the chart and sessions of a trailing window,
// computed from a single load.
type Snapshot struct {
	Start       time.Time     `json:"start"`
	End         time.Time     `json:"end"`
	Chart       []ChartRecord `json:"chart"`
	Sessions    []Report      `json:"sessions"`
	GeneratedAt time.Time     `json:"generatedAt"`
}

// Snapshot computes the live view over window.
func (p *Pipeline) Snapshot(ctx context.Context, window telemetry.Window) (Snapshot, error) {
	defer p.metrics.Since("snapshot", time.Now())

	samples, err := p.Load(ctx, window)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Start:    window.Start,
		End:      window.End,
		Chart:    chartOf(samples, p.opts.DownsampleCap),
		Sessions: p.sessionsOf(ctx, samples, nil),
	}, nil
}

// LiveSnapshots returns a compute function for a Refresher that snapshots
// the trailing span ending at the clock's current time.
func (p *Pipeline) LiveSnapshots(clock timeutil.Clock, span time.Duration) func(context.Context) (Snapshot, error) {
	return func(ctx context.Context) (Snapshot, error) {
		now := clock.Now().UTC()
		snap, err := p.Snapshot(ctx, telemetry.Window{Start: now.Add(-span), End: now.Add(time.Millisecond)})
		snap.GeneratedAt = now
		return snap, err
	}
}
