package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	mk := func(min int, cur float64, barcode *string) Sample {
		return Sample{
			Channel:      2,
			Timestamp:    base.Add(time.Duration(min) * time.Minute),
			CurrentTemp:  floatPtr(cur),
			TargetTemp:   floatPtr(37),
			PlatePresent: barcode != nil,
			Barcode:      barcode,
		}
	}
	s := Segment([]Sample{
		mk(0, 33, nil),
		mk(1, 36, strPtr("P-1")),
		mk(2, 37, strPtr("P-1")),
		mk(3, 38, strPtr("P-2")),
	}, DefaultGapThreshold)[0]

	sum := Summarize(s)
	assert.Equal(t, 4, sum.Samples)
	assert.Equal(t, 3*time.Minute, sum.Duration)
	require.NotNil(t, sum.MeanTemp)
	assert.InDelta(t, 36.0, *sum.MeanTemp, 1e-9)
	assert.InDelta(t, 33.0, *sum.MinTemp, 1e-9)
	assert.InDelta(t, 38.0, *sum.MaxTemp, 1e-9)
	assert.Greater(t, *sum.StdDevTemp, 0.0)
	// 33 is outside 37 ± 3
	assert.InDelta(t, 0.75, sum.InRangeShare, 1e-9)
	assert.Equal(t, []string{"P-1", "P-2"}, sum.Barcodes)
	assert.True(t, sum.PlateObserved)
}

func TestSummarize_NoTemperatures(t *testing.T) {
	sum := Summarize(Session{Channel: 1, Samples: []Sample{{Channel: 1}}})
	assert.Equal(t, 1, sum.Samples)
	assert.Nil(t, sum.MeanTemp)
	assert.Zero(t, sum.InRangeShare)

	empty := Summarize(Session{})
	assert.Zero(t, empty.Samples)
}

func TestSummarize_SingleSampleHasZeroSpread(t *testing.T) {
	one := Session{Samples: []Sample{{Channel: 1, CurrentTemp: floatPtr(37), TargetTemp: floatPtr(37)}}}
	sum := Summarize(one)
	require.NotNil(t, sum.StdDevTemp)
	assert.Zero(t, *sum.StdDevTemp)
	assert.Equal(t, 1.0, sum.InRangeShare)
}

func TestSummarize_MixedDeviation(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	s := Session{
		Channel: 1,
		Start:   base,
		End:     base.Add(2 * time.Minute),
		Samples: []Sample{
			{Channel: 1, Timestamp: base, CurrentTemp: floatPtr(36), TargetTemp: floatPtr(37), AllowedDeviation: floatPtr(3)},
			{Channel: 1, Timestamp: base.Add(time.Minute), CurrentTemp: floatPtr(38), TargetTemp: floatPtr(37), AllowedDeviation: floatPtr(0.5), PlatePresent: true, Barcode: strPtr("P1")},
			{Channel: 1, Timestamp: base.Add(2 * time.Minute), Barcode: strPtr("P1")},
		},
	}
	sum := Summarize(s)
	assert.Equal(t, 3, sum.Samples)
	assert.Equal(t, 2*time.Minute, sum.Duration)
	require.NotNil(t, sum.MeanTemp)
	assert.InDelta(t, 37.0, *sum.MeanTemp, 1e-9)
	assert.InDelta(t, 36.0, *sum.MinTemp, 1e-9)
	assert.InDelta(t, 38.0, *sum.MaxTemp, 1e-9)
	assert.InDelta(t, 1.0/3.0, sum.InRangeShare, 1e-9)
	assert.Equal(t, []string{"P1"}, sum.Barcodes)
	assert.True(t, sum.PlateObserved)

	single := Summarize(Session{Samples: []Sample{{CurrentTemp: floatPtr(37)}}})
	require.NotNil(t, single.StdDevTemp)
	assert.Equal(t, 0.0, *single.StdDevTemp)

	assert.Nil(t, Summarize(Session{}).MeanTemp)
}
