package telemetry

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var (
	legacyHeader   = SplitHeader(LegacyHeader)
	extendedHeader = SplitHeader(ExtendedHeader)
)

func TestDetectSchema(t *testing.T) {
	if got := DetectSchema(legacyHeader); got != SchemaLegacy {
		t.Errorf("legacy header detected as %s", got)
	}
	if got := DetectSchema(extendedHeader); got != SchemaExtended {
		t.Errorf("extended header detected as %s", got)
	}
	if got := DetectSchema(nil); got != SchemaLegacy {
		t.Errorf("empty header detected as %s", got)
	}
}

func TestSplitLine_Quoted(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []string
	}{
		{"plain", "a,b,c", []string{"a", "b", "c"}},
		{"comma in quotes", `1,"x,y",z`, []string{"1", "x,y", "z"}},
		{"escaped quote", `1,"say ""hi""",z`, []string{"1", `say "hi"`, "z"}},
		{"trailing empty", "a,b,", []string{"a", "b", ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, SplitLine(tt.line)); diff != "" {
				t.Errorf("SplitLine(%q) mismatch (-want +got):\n%s", tt.line, diff)
			}
		})
	}
}

func TestParseRow_SchemaEquivalence(t *testing.T) {
	legacy, ok := ParseRow(legacyHeader, "2,2024-03-01T10:00:00.000Z,36.9,37,150,150,true,PLATE-1")
	if !ok {
		t.Fatal("legacy row skipped")
	}
	extended, ok := ParseRow(extendedHeader, "2,2024-03-01T10:00:00.000Z,36.9,37,3.0,150,150,true,PLATE-1")
	if !ok {
		t.Fatal("extended row skipped")
	}
	if diff := cmp.Diff(legacy, extended); diff != "" {
		t.Errorf("legacy and extended rows differ (-legacy +extended):\n%s", diff)
	}
	if legacy.AllowedDeviation == nil || *legacy.AllowedDeviation != DefaultAllowedDeviation {
		t.Errorf("legacy allowedDeviation = %v, want %v", legacy.AllowedDeviation, DefaultAllowedDeviation)
	}
}

func TestParseRow_Skips(t *testing.T) {
	tests := []struct {
		name   string
		header []string
		line   string
	}{
		{"too few legacy columns", legacyHeader, "1,2024-03-01T10:00:00Z,37,37,0,0,true"},
		{"too few extended columns", extendedHeader, "1,2024-03-01T10:00:00Z,37,37,0,0,true,null"},
		{"channel zero", legacyHeader, "0,2024-03-01T10:00:00Z,37,37,0,0,true,null"},
		{"channel five", legacyHeader, "5,2024-03-01T10:00:00Z,37,37,0,0,true,null"},
		{"channel not integer", legacyHeader, "one,2024-03-01T10:00:00Z,37,37,0,0,true,null"},
		{"bad timestamp", legacyHeader, "1,yesterday,37,37,0,0,true,null"},
		{"empty timestamp", legacyHeader, "1,,37,37,0,0,true,null"},
		{"empty line", legacyHeader, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if s, ok := ParseRow(tt.header, tt.line); ok {
				t.Errorf("expected skip, got %+v", s)
			}
		})
	}
}

func TestParseRow_PartialNumerics(t *testing.T) {
	s, ok := ParseRow(extendedHeader, "3,2024-03-01T10:00:00Z,abc,37,,NaN,200,false,null")
	if !ok {
		t.Fatal("row with bad numerics should be kept")
	}
	if s.CurrentTemp != nil {
		t.Errorf("CurrentTemp = %v, want absent", *s.CurrentTemp)
	}
	if s.TargetTemp == nil || *s.TargetTemp != 37 {
		t.Errorf("TargetTemp = %v, want 37", s.TargetTemp)
	}
	if s.AllowedDeviation != nil {
		t.Errorf("AllowedDeviation = %v, want absent", *s.AllowedDeviation)
	}
	if s.CurrentRPM != nil {
		t.Errorf("CurrentRPM = %v, want absent", *s.CurrentRPM)
	}
	if s.TargetRPM == nil || *s.TargetRPM != 200 {
		t.Errorf("TargetRPM = %v, want 200", s.TargetRPM)
	}
	if s.PlatePresent {
		t.Error("PlatePresent should be false")
	}
}

func TestParseRow_Barcode(t *testing.T) {
	tests := []struct {
		line string
		want *string
	}{
		{"1,2024-03-01T10:00:00Z,37,37,0,0,true,null", nil},
		{"1,2024-03-01T10:00:00Z,37,37,0,0,true,", nil},
		{"1,2024-03-01T10:00:00Z,37,37,0,0,true,ABC123", strPtr("ABC123")},
		{`1,2024-03-01T10:00:00Z,37,37,0,0,true,"LOT 7, A"`, strPtr("LOT 7, A")},
	}
	for _, tt := range tests {
		s, ok := ParseRow(legacyHeader, tt.line)
		if !ok {
			t.Fatalf("row %q skipped", tt.line)
		}
		if diff := cmp.Diff(tt.want, s.Barcode); diff != "" {
			t.Errorf("barcode for %q mismatch (-want +got):\n%s", tt.line, diff)
		}
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 3, 1, 10, 0, 0, 123_000_000, time.UTC)
	for _, raw := range []string{
		"2024-03-01T10:00:00.123Z",
		"2024-03-01T11:00:00.123+01:00",
		"2024-03-01T10:00:00.123456Z",
		"2024-03-01T10:00:00.123",
		"2024-03-01 10:00:00.123",
	} {
		got, ok := ParseTimestamp(raw)
		if !ok {
			t.Errorf("ParseTimestamp(%q) failed", raw)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("ParseTimestamp(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestSample_CSVRowRoundTrip(t *testing.T) {
	line := `4,2024-03-01T10:00:00.250Z,36.5,37,0.5,300,300,true,"A,""B"""`
	s, ok := ParseRow(extendedHeader, line)
	if !ok {
		t.Fatal("row skipped")
	}
	back, ok := ParseRow(extendedHeader, s.CSVRow())
	if !ok {
		t.Fatalf("rendered row %q skipped", s.CSVRow())
	}
	if diff := cmp.Diff(s, back); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestParseFile(t *testing.T) {
	content := LegacyHeader + "\r\n" +
		"1,2024-03-01T10:00:00Z,37,37,0,0,true,null\r\n" +
		"\r\n" +
		"2,2024-03-01T10:00:00Z,37,37,0,0,false,null\n"
	f := ParseFile("incubator_live_2024-03-01.csv", content)
	if DetectSchema(f.Header) != SchemaLegacy {
		t.Errorf("schema = %s, want legacy", DetectSchema(f.Header))
	}
	if len(f.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(f.Rows))
	}
}

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }
