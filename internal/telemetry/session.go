package telemetry

import (
	"fmt"
	"time"
)

// DefaultGapThreshold is the longest silence tolerated inside one session.
const DefaultGapThreshold = 5 * time.Minute

// Session is a maximal run of samples from one channel with no gap longer
// than the threshold between neighbours.
type Session struct {
	Channel int       `json:"channel"`
	Start   time.Time `json:"startTime"`
	End     time.Time `json:"endTime"`
	Samples []Sample  `json:"samples"`
}

// Duration is End minus Start.
func (s Session) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Segment partitions an ascending timeline into sessions. A new session
// starts when the gap to the previous sample is strictly greater than gap,
// or when the channel changes. A gap exactly equal to the threshold keeps
// the session open.
//
// Sessions are returned in timeline order and together hold every input
// sample exactly once.
func Segment(timeline []Sample, gap time.Duration) []Session {
	if gap < 0 {
		panic(fmt.Sprintf("telemetry: negative gap threshold %s", gap))
	}

	var sessions []Session
	var cur *Session
	for _, s := range timeline {
		if cur == nil {
			cur = openSession(s)
			continue
		}
		prev := cur.Samples[len(cur.Samples)-1]
		if s.Timestamp.Sub(prev.Timestamp) > gap || s.Channel != cur.Channel {
			sessions = append(sessions, *cur)
			cur = openSession(s)
			continue
		}
		cur.Samples = append(cur.Samples, s)
		cur.End = s.Timestamp
	}
	if cur != nil {
		sessions = append(sessions, *cur)
	}
	return sessions
}

func openSession(first Sample) *Session {
	return &Session{
		Channel: first.Channel,
		Start:   first.Timestamp,
		End:     first.Timestamp,
		Samples: []Sample{first},
	}
}

// SegmentDownsampled segments at full resolution and then downsamples each
// session on its own, so gaps are judged before any samples are dropped.
// Start and End keep the full-resolution bounds.
func SegmentDownsampled(timeline []Sample, gap time.Duration, maxPoints int) []Session {
	sessions := Segment(timeline, gap)
	for i := range sessions {
		sessions[i].Samples = Downsample(sessions[i].Samples, maxPoints)
	}
	return sessions
}
