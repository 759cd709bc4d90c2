// Package telemetry turns the incubator's daily CSV captures into ordered
// per-shelf timelines and incubation sessions.
package telemetry

import (
	"strconv"
	"strings"
	"time"
)

// Channel bounds. A channel is one shelf of the incubator.
const (
	MinChannel = 1
	MaxChannel = 4
)

// DefaultAllowedDeviation is the tolerance (°C) assumed for rows written
// before the allowedDeviation column existed.
const DefaultAllowedDeviation = 3.0

// Sample is one instrument reading for one shelf at one instant.
// Nil pointers mean the value was absent or could not be parsed.
type Sample struct {
	Channel          int       `json:"channel"`
	Timestamp        time.Time `json:"timestamp"`
	CurrentTemp      *float64  `json:"currentTemp"`
	TargetTemp       *float64  `json:"targetTemp"`
	AllowedDeviation *float64  `json:"allowedDeviation"`
	CurrentRPM       *float64  `json:"currentRPM"`
	TargetRPM        *float64  `json:"targetRPM"`
	PlatePresent     bool      `json:"platePresent"`
	Barcode          *string   `json:"barcode"`
}

// ValidChannel reports whether ch names a real shelf.
func ValidChannel(ch int) bool {
	return ch >= MinChannel && ch <= MaxChannel
}

// HasBarcode reports whether the sample carries the given barcode.
func (s Sample) HasBarcode(barcode string) bool {
	return s.Barcode != nil && *s.Barcode == barcode
}

// InRange reports whether the current temperature is within the allowed
// deviation of the target. Samples missing either temperature are never in
// range.
func (s Sample) InRange() bool {
	if s.CurrentTemp == nil || s.TargetTemp == nil {
		return false
	}
	dev := DefaultAllowedDeviation
	if s.AllowedDeviation != nil {
		dev = *s.AllowedDeviation
	}
	diff := *s.CurrentTemp - *s.TargetTemp
	if diff < 0 {
		diff = -diff
	}
	return diff <= dev
}

// CSVRow renders the sample in the extended nine-column layout.
func (s Sample) CSVRow() string {
	fields := []string{
		strconv.Itoa(s.Channel),
		s.Timestamp.UTC().Format(TimestampLayout),
		formatOptional(s.CurrentTemp),
		formatOptional(s.TargetTemp),
		formatOptional(s.AllowedDeviation),
		formatOptional(s.CurrentRPM),
		formatOptional(s.TargetRPM),
		strconv.FormatBool(s.PlatePresent),
		formatBarcode(s.Barcode),
	}
	return strings.Join(fields, ",")
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatBarcode(b *string) string {
	if b == nil {
		return "null"
	}
	if strings.ContainsAny(*b, ",\"\n\r") {
		return `"` + strings.ReplaceAll(*b, `"`, `""`) + `"`
	}
	return *b
}

// merge overlays the present fields of next onto s. PlatePresent has no
// absent state so the newer record always decides it.
func (s *Sample) merge(next Sample) {
	if next.CurrentTemp != nil {
		s.CurrentTemp = next.CurrentTemp
	}
	if next.TargetTemp != nil {
		s.TargetTemp = next.TargetTemp
	}
	if next.AllowedDeviation != nil {
		s.AllowedDeviation = next.AllowedDeviation
	}
	if next.CurrentRPM != nil {
		s.CurrentRPM = next.CurrentRPM
	}
	if next.TargetRPM != nil {
		s.TargetRPM = next.TargetRPM
	}
	if next.Barcode != nil {
		s.Barcode = next.Barcode
	}
	s.PlatePresent = next.PlatePresent
}
