package events

import (
	"sort"
	"time"

	"github.com/banshee-data/incubator.report/internal/telemetry"
)

// DefaultCorrelationSlack widens a session's span when deciding which
// events belong to it.
const DefaultCorrelationSlack = time.Minute

// DisplayTimeLayout is how the nearest sample's time is shown next to an
// event marker.
const DisplayTimeLayout = "15:04:05"

// Annotated is an event placed on a session's timeline.
type Annotated struct {
	Event
	Description string `json:"description"`
	// NearestIndex is the index into the session's samples of the sample
	// closest in time, or -1 when the session has no samples.
	NearestIndex int        `json:"nearestIndex"`
	NearestTime  *time.Time `json:"nearestTime,omitempty"`
	DisplayTime  string     `json:"displayTime,omitempty"`
}

// Anchored reports whether the event was attached to a sample.
func (a Annotated) Anchored() bool {
	return a.NearestIndex >= 0
}

// Correlate attaches each event that falls within the session's span
// (widened by slack on both sides) to the session sample nearest in time.
// Events for another channel are dropped; events without a channel are
// kept. When the session has no samples the matching events are returned
// unanchored. Output is ordered by event time.
func Correlate(session telemetry.Session, evs []Event, slack time.Duration) []Annotated {
	if slack < 0 {
		slack = 0
	}
	from := session.Start.Add(-slack)
	to := session.End.Add(slack)

	var out []Annotated
	for _, e := range evs {
		if e.Channel != nil && *e.Channel != session.Channel {
			continue
		}
		if e.Timestamp.Before(from) || e.Timestamp.After(to) {
			continue
		}
		a := Annotated{Event: e, Description: Format(e), NearestIndex: -1}
		if i := Nearest(session.Samples, e.Timestamp); i >= 0 {
			t := session.Samples[i].Timestamp
			a.NearestIndex = i
			a.NearestTime = &t
			a.DisplayTime = t.UTC().Format(DisplayTimeLayout)
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Nearest returns the index of the sample whose timestamp is closest to t,
// preferring the earlier sample on a tie, or -1 for an empty slice. samples
// must be sorted by timestamp.
func Nearest(samples []telemetry.Sample, t time.Time) int {
	n := len(samples)
	if n == 0 {
		return -1
	}
	// first sample at or after t
	i := sort.Search(n, func(i int) bool { return !samples[i].Timestamp.Before(t) })
	if i == 0 {
		return 0
	}
	if i == n {
		return n - 1
	}
	before := t.Sub(samples[i-1].Timestamp)
	after := samples[i].Timestamp.Sub(t)
	if after < before {
		return i
	}
	return i - 1
}

// Describe formats events that are not tied to a session, such as the
// event log view.
func Describe(evs []Event) []Annotated {
	out := make([]Annotated, len(evs))
	for i, e := range evs {
		out[i] = Annotated{Event: e, Description: Format(e), NearestIndex: -1}
	}
	return out
}
