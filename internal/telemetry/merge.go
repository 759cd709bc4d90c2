package telemetry

import (
	"sort"
	"strings"
	"time"
)

// File is the raw content of one capture file: its header columns and the
// data lines that follow it.
type File struct {
	Name   string
	Header []string
	Rows   []string
}

// ParseFile splits raw file text into header and data lines. Blank lines
// are dropped and CRLF endings tolerated.
func ParseFile(name, content string) File {
	f := File{Name: name}
	lines := strings.Split(content, "\n")
	headerSeen := false
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !headerSeen {
			f.Header = SplitHeader(line)
			headerSeen = true
			continue
		}
		f.Rows = append(f.Rows, line)
	}
	return f
}

// Window is a half-open time range [Start, End). A zero Start or End leaves
// that side unbounded.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && !t.Before(w.End) {
		return false
	}
	return true
}

// Overlaps reports whether the window intersects [from, to).
func (w Window) Overlaps(from, to time.Time) bool {
	if !w.End.IsZero() && !from.Before(w.End) {
		return false
	}
	if !w.Start.IsZero() && !to.After(w.Start) {
		return false
	}
	return true
}

// MergeStats counts what happened to the rows offered to Merge.
type MergeStats struct {
	Rows        int
	Skipped     int
	OutOfWindow int
	Collisions  int
}

type sampleKey struct {
	unixMilli int64
	channel   int
}

// Merge parses every row of every file, drops samples outside window and
// combines samples that share a (timestamp, channel) key.
//
// Files are applied in ascending name order whatever order they are passed
// in, and only present fields of a later record overwrite an earlier one, so
// the result depends on the set of files and not on how the caller listed
// them. The output is sorted by timestamp, then channel.
func Merge(files []File, window Window) []Sample {
	samples, _ := MergeWithStats(files, window)
	return samples
}

// MergeWithStats is Merge plus row accounting.
func MergeWithStats(files []File, window Window) ([]Sample, MergeStats) {
	var stats MergeStats

	ordered := make([]File, len(files))
	copy(ordered, files)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })

	byKey := make(map[sampleKey]*Sample)
	for _, f := range ordered {
		schema := DetectSchema(f.Header)
		for _, line := range f.Rows {
			stats.Rows++
			s, ok := ParseRowSchema(schema, line)
			if !ok {
				stats.Skipped++
				continue
			}
			if !window.Contains(s.Timestamp) {
				stats.OutOfWindow++
				continue
			}
			key := sampleKey{unixMilli: s.Timestamp.UnixMilli(), channel: s.Channel}
			if existing, ok := byKey[key]; ok {
				existing.merge(s)
				stats.Collisions++
				continue
			}
			merged := s
			byKey[key] = &merged
		}
	}

	out := make([]Sample, 0, len(byKey))
	for _, s := range byKey {
		out = append(out, *s)
	}
	SortSamples(out)
	return out, stats
}

// SortSamples orders samples by timestamp, then channel.
func SortSamples(samples []Sample) {
	sort.Slice(samples, func(i, j int) bool {
		a, b := samples[i], samples[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.Channel < b.Channel
	})
}

// ChannelTimeline returns the samples of one channel, keeping their order.
func ChannelTimeline(samples []Sample, channel int) []Sample {
	var out []Sample
	for _, s := range samples {
		if s.Channel == channel {
			out = append(out, s)
		}
	}
	return out
}

// BarcodeTimeline returns the samples of any channel that carry barcode.
func BarcodeTimeline(samples []Sample, barcode string) []Sample {
	var out []Sample
	for _, s := range samples {
		if s.HasBarcode(barcode) {
			out = append(out, s)
		}
	}
	return out
}

// Channels lists the distinct channels present, ascending.
func Channels(samples []Sample) []int {
	var seen [MaxChannel + 1]bool
	var out []int
	for _, s := range samples {
		if ValidChannel(s.Channel) && !seen[s.Channel] {
			seen[s.Channel] = true
		}
	}
	for ch := MinChannel; ch <= MaxChannel; ch++ {
		if seen[ch] {
			out = append(out, ch)
		}
	}
	return out
}
