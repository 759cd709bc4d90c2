package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/incubator.report/internal/telemetry"
)

// ChartRecord is one merged point of the chart timeline: "timestamp" (unix
// milliseconds) plus shelf<N>_<field> for every shelf sampled at that
// instant. Absent fields are left out.
type ChartRecord map[string]any

// Chart field names, after the shelf<N>_ prefix.
const (
	FieldCurrentTemp      = "currentTemp"
	FieldTargetTemp       = "targetTemp"
	FieldAllowedDeviation = "allowedDeviation"
	FieldCurrentRPM       = "currentRPM"
	FieldTargetRPM        = "targetRPM"
	FieldPlatePresent     = "platePresent"
	FieldBarcode          = "barcode"
)

// ChartKey returns the record key of field for channel.
func ChartKey(channel int, field string) string {
	return fmt.Sprintf("shelf%d_%s", channel, field)
}

// Timestamp returns the record's time.
func (r ChartRecord) Timestamp() time.Time {
	ms, _ := r["timestamp"].(int64)
	return time.UnixMilli(ms).UTC()
}

// Float returns a numeric field, or false when it is absent.
func (r ChartRecord) Float(channel int, field string) (float64, bool) {
	v, ok := r[ChartKey(channel, field)].(float64)
	return v, ok
}

// ChartRecords folds an ordered multi-channel timeline into one record per
// distinct timestamp.
func ChartRecords(samples []telemetry.Sample) []ChartRecord {
	var out []ChartRecord
	var cur ChartRecord
	var curMs int64
	for _, s := range samples {
		ms := s.Timestamp.UnixMilli()
		if cur == nil || ms != curMs {
			cur = ChartRecord{"timestamp": ms}
			curMs = ms
			out = append(out, cur)
		}
		put := func(field string, v *float64) {
			if v != nil {
				cur[ChartKey(s.Channel, field)] = *v
			}
		}
		put(FieldCurrentTemp, s.CurrentTemp)
		put(FieldTargetTemp, s.TargetTemp)
		put(FieldAllowedDeviation, s.AllowedDeviation)
		put(FieldCurrentRPM, s.CurrentRPM)
		put(FieldTargetRPM, s.TargetRPM)
		cur[ChartKey(s.Channel, FieldPlatePresent)] = s.PlatePresent
		if s.Barcode != nil {
			cur[ChartKey(s.Channel, FieldBarcode)] = *s.Barcode
		}
	}
	return out
}

// Chart loads window and returns at most maxPoints chart records. A
// non-positive maxPoints uses the pipeline cap.
func (p *Pipeline) Chart(ctx context.Context, window telemetry.Window, maxPoints int) ([]ChartRecord, error) {
	defer p.metrics.Since("chart", time.Now())

	if maxPoints <= 0 {
		maxPoints = p.opts.DownsampleCap
	}
	samples, err := p.Load(ctx, window)
	if err != nil {
		return nil, err
	}
	return chartOf(samples, maxPoints), nil
}

func chartOf(samples []telemetry.Sample, maxPoints int) []ChartRecord {
	records := telemetry.Downsample(ChartRecords(samples), maxPoints)
	if records == nil {
		records = []ChartRecord{}
	}
	return records
}
