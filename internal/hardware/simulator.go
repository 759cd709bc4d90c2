package hardware

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/banshee-data/incubator.report/internal/telemetry"
	"github.com/banshee-data/incubator.report/internal/timeutil"
)

// Simulator stands in for the instrument in simulated capture mode. Each
// loaded shelf warms towards its set point and shakes at a fixed target.
type Simulator struct {
	clock   timeutil.Clock
	started time.Time
	plates  int

	mu  sync.Mutex
	rng *rand.Rand
}

const (
	simTargetTemp = 37.0
	simAmbient    = 22.0
	simTargetRPM  = 800.0
	// warm-up time constant
	simTau = 10 * time.Minute
)

// NewSimulator returns a simulator whose first plates shelves hold a plate.
// seed makes the noise reproducible.
func NewSimulator(clock timeutil.Clock, plates int, seed uint64) *Simulator {
	if plates < 0 {
		plates = 0
	}
	if plates > telemetry.MaxChannel {
		plates = telemetry.MaxChannel
	}
	return &Simulator{
		clock:   clock,
		started: clock.Now(),
		plates:  plates,
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Status implements recorder.StatusSource.
func (s *Simulator) Status(ctx context.Context) ([]telemetry.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := s.clock.Now().UTC().Truncate(time.Millisecond)
	elapsed := now.Sub(s.started)
	warm := 1 - math.Exp(-float64(elapsed)/float64(simTau))

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]telemetry.Sample, 0, telemetry.MaxChannel)
	for ch := telemetry.MinChannel; ch <= telemetry.MaxChannel; ch++ {
		target := simTargetTemp
		dev := telemetry.DefaultAllowedDeviation
		sample := telemetry.Sample{
			Channel:          ch,
			Timestamp:        now,
			TargetTemp:       &target,
			AllowedDeviation: &dev,
		}
		temp := round1(simAmbient + (simTargetTemp-simAmbient)*warm + s.rng.NormFloat64()*0.1)
		sample.CurrentTemp = &temp
		if ch <= s.plates {
			rpm := simTargetRPM
			cur := math.Round(simTargetRPM + s.rng.NormFloat64()*5)
			code := fmt.Sprintf("SIM-%04d", ch)
			sample.TargetRPM = &rpm
			sample.CurrentRPM = &cur
			sample.PlatePresent = true
			sample.Barcode = &code
		}
		out = append(out, sample)
	}
	return out, nil
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
