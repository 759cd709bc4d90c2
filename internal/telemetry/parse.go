package telemetry

import (
	"encoding/csv"
	"math"
	"strconv"
	"strings"
	"time"
)

// Header lines written by the incubator firmware. The first column has
// always been called "shelf" on disk even though the model calls it channel.
const (
	LegacyHeader   = "shelf,timestamp,currentTemp,targetTemp,currentRPM,targetRPM,platePresent,barcode"
	ExtendedHeader = "shelf,timestamp,currentTemp,targetTemp,allowedDeviation,currentRPM,targetRPM,platePresent,barcode"
)

// TimestampLayout is the layout used when writing samples back to disk.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Schema identifies one of the two on-disk record layouts.
type Schema int

const (
	// SchemaLegacy is the eight column layout without allowedDeviation.
	SchemaLegacy Schema = iota
	// SchemaExtended is the nine column layout.
	SchemaExtended
)

func (s Schema) String() string {
	if s == SchemaExtended {
		return "extended"
	}
	return "legacy"
}

// Columns is the number of fields a row of this schema must have.
func (s Schema) Columns() int {
	if s == SchemaExtended {
		return 9
	}
	return 8
}

// DetectSchema decides the layout of a file from its header columns.
func DetectSchema(header []string) Schema {
	for _, col := range header {
		if strings.TrimSpace(col) == "allowedDeviation" {
			return SchemaExtended
		}
	}
	return SchemaLegacy
}

// SplitHeader splits a header line into trimmed column names.
func SplitHeader(line string) []string {
	cols := SplitLine(line)
	for i := range cols {
		cols[i] = strings.TrimSpace(cols[i])
	}
	return cols
}

// SplitLine splits one delimited line. Fields wrapped in double quotes may
// contain commas, and a doubled quote inside a quoted field is a literal
// quote. A line that cannot be split at all yields nil.
func SplitLine(line string) []string {
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = false
	fields, err := r.Read()
	if err != nil {
		return nil
	}
	return fields
}

// ParseRow parses one raw line using the schema implied by header. The
// boolean is false when the row must be skipped.
func ParseRow(header []string, line string) (Sample, bool) {
	return ParseRowSchema(DetectSchema(header), line)
}

// ParseRowSchema parses one raw line of a file whose schema is already known.
func ParseRowSchema(schema Schema, line string) (Sample, bool) {
	fields := SplitLine(line)
	if len(fields) < schema.Columns() {
		return Sample{}, false
	}

	ch, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil || !ValidChannel(ch) {
		return Sample{}, false
	}
	ts, ok := ParseTimestamp(fields[1])
	if !ok {
		return Sample{}, false
	}

	s := Sample{
		Channel:     ch,
		Timestamp:   ts,
		CurrentTemp: parseOptional(fields[2]),
		TargetTemp:  parseOptional(fields[3]),
	}

	rest := fields[4:]
	if schema == SchemaExtended {
		s.AllowedDeviation = parseOptional(rest[0])
		rest = rest[1:]
	} else {
		dev := DefaultAllowedDeviation
		s.AllowedDeviation = &dev
	}
	s.CurrentRPM = parseOptional(rest[0])
	s.TargetRPM = parseOptional(rest[1])
	s.PlatePresent = strings.EqualFold(strings.TrimSpace(rest[2]), "true")
	s.Barcode = parseBarcode(rest[3])

	return s, true
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses an ISO-8601 instant truncated to milliseconds.
// Values without a zone are read as UTC.
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC().Truncate(time.Millisecond), true
		}
	}
	return time.Time{}, false
}

func parseOptional(raw string) *float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func parseBarcode(raw string) *string {
	b := strings.TrimSpace(raw)
	if b == "" || b == "null" {
		return nil
	}
	return &b
}
