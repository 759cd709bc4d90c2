package recorder

import (
	"context"
	"time"

	"github.com/banshee-data/incubator.report/internal/monitoring"
	"github.com/banshee-data/incubator.report/internal/telemetry"
)

// StatusSource reports the instrument's current per-shelf readings.
// *hardware.Client satisfies it.
type StatusSource interface {
	Status(ctx context.Context) ([]telemetry.Sample, error)
}

// Poll reads src every interval and buffers the readings until ctx is
// cancelled. Failed reads are logged and skipped.
func (r *Recorder) Poll(ctx context.Context, src StatusSource, interval time.Duration) {
	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			r.pollOnce(ctx, src)
		}
	}
}

func (r *Recorder) pollOnce(ctx context.Context, src StatusSource) {
	samples, err := src.Status(ctx)
	if err != nil {
		monitoring.Logf("recorder: status poll failed: %v", err)
		return
	}
	now := r.clock.Now().UTC().Truncate(time.Millisecond)
	for i := range samples {
		if samples[i].Timestamp.IsZero() {
			samples[i].Timestamp = now
		}
	}
	if err := r.Add(samples...); err != nil {
		monitoring.Logf("recorder: %v", err)
	}
}
