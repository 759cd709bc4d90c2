package pipeline

import (
	"context"
	"io"
	"time"

	"github.com/banshee-data/incubator.report/internal/telemetry"
)

// Export returns the merged samples in window as CSV lines in the extended
// layout, header first. A nil channel exports every channel.
func (p *Pipeline) Export(ctx context.Context, window telemetry.Window, channel *int) ([]string, error) {
	defer p.metrics.Since("export", time.Now())

	samples, err := p.Load(ctx, window)
	if err != nil {
		return nil, err
	}
	if channel != nil {
		samples = telemetry.ChannelTimeline(samples, *channel)
	}
	rows := make([]string, 0, len(samples)+1)
	rows = append(rows, telemetry.ExtendedHeader)
	for _, s := range samples {
		rows = append(rows, s.CSVRow())
	}
	return rows, nil
}

// WriteRows writes rows one per line.
func WriteRows(w io.Writer, rows []string) error {
	for _, r := range rows {
		if _, err := io.WriteString(w, r+"\n"); err != nil {
			return err
		}
	}
	return nil
}
