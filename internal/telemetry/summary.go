package telemetry

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary condenses one session for the report view.
type Summary struct {
	Samples       int           `json:"samples"`
	Duration      time.Duration `json:"duration"`
	MeanTemp      *float64      `json:"meanTemp,omitempty"`
	StdDevTemp    *float64      `json:"stdDevTemp,omitempty"`
	MinTemp       *float64      `json:"minTemp,omitempty"`
	MaxTemp       *float64      `json:"maxTemp,omitempty"`
	InRangeShare  float64       `json:"inRangeShare"`
	Barcodes      []string      `json:"barcodes,omitempty"`
	PlateObserved bool          `json:"plateObserved"`
}

// Summarize computes statistics over the session's samples. Call it on the
// full-resolution session; a downsampled one gives approximate figures.
func Summarize(s Session) Summary {
	sum := Summary{
		Samples:  len(s.Samples),
		Duration: s.Duration(),
	}
	if len(s.Samples) == 0 {
		return sum
	}

	temps := make([]float64, 0, len(s.Samples))
	inRange := 0
	seen := make(map[string]bool)
	for _, smp := range s.Samples {
		if smp.CurrentTemp != nil {
			temps = append(temps, *smp.CurrentTemp)
		}
		if smp.InRange() {
			inRange++
		}
		if smp.PlatePresent {
			sum.PlateObserved = true
		}
		if smp.Barcode != nil && !seen[*smp.Barcode] {
			seen[*smp.Barcode] = true
			sum.Barcodes = append(sum.Barcodes, *smp.Barcode)
		}
	}
	sum.InRangeShare = float64(inRange) / float64(len(s.Samples))

	if len(temps) > 0 {
		mean, std := stat.MeanStdDev(temps, nil)
		if math.IsNaN(std) {
			std = 0
		}
		lo, hi := floats.Min(temps), floats.Max(temps)
		sum.MeanTemp, sum.StdDevTemp = &mean, &std
		sum.MinTemp, sum.MaxTemp = &lo, &hi
	}
	return sum
}
