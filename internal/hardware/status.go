package hardware

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/incubator.report/internal/telemetry"
)

// Status field aliases, already folded (lower case, no separators).
var (
	statusChannel   = []string{"channel", "shelf", "shelfnumber", "index", "id"}
	statusTime      = []string{"timestamp", "time", "ts"}
	statusCurTemp   = []string{"currenttemp", "currenttemperature", "temperature", "temp"}
	statusTgtTemp   = []string{"targettemp", "targettemperature", "setpoint"}
	statusDeviation = []string{"alloweddeviation", "deviation", "tolerance"}
	statusCurRPM    = []string{"currentrpm", "rpm", "shakerrpm", "speed"}
	statusTgtRPM    = []string{"targetrpm", "targetspeed"}
	statusPlate     = []string{"platepresent", "hasplate", "plate"}
	statusBarcode   = []string{"barcode", "platebarcode"}
)

// foldKey lower-cases a field name and drops '_', '-' and spaces so that
// currentTemp, CurrentTemp and current_temp all compare equal.
func foldKey(k string) string {
	var b strings.Builder
	b.Grow(len(k))
	for _, r := range k {
		switch r {
		case '_', '-', ' ':
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}

type fields map[string]any

// fold canonicalises the keys of raw. When several keys fold to the same
// name, a key already in folded form wins, then the lexically smallest.
func fold(raw map[string]any) fields {
	keys := make([]string, 0, len(raw))
	for k, v := range raw {
		if v != nil {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	f := make(fields, len(keys))
	for _, k := range keys {
		fk := foldKey(k)
		if _, dup := f[fk]; !dup || k == fk {
			f[fk] = raw[k]
		}
	}
	return f
}

func (f fields) first(names []string) (any, bool) {
	for _, n := range names {
		if v, ok := f[n]; ok {
			return v, true
		}
	}
	return nil, false
}

func (f fields) float(names []string) *float64 {
	v, ok := f.first(names)
	if !ok {
		return nil
	}
	switch n := v.(type) {
	case float64:
		return &n
	case string:
		s := strings.TrimSpace(n)
		if s == "" || strings.EqualFold(s, "null") {
			return nil
		}
		if x, err := strconv.ParseFloat(s, 64); err == nil {
			return &x
		}
	}
	return nil
}

func (f fields) flag(names []string) bool {
	v, ok := f.first(names)
	if !ok {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case float64:
		return b != 0
	case string:
		p, _ := strconv.ParseBool(strings.TrimSpace(b))
		return p
	}
	return false
}

func (f fields) channel() (int, bool) {
	v, ok := f.first(statusChannel)
	if !ok {
		return 0, false
	}
	var ch int
	switch n := v.(type) {
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		ch = int(n)
	case string:
		// "Shelf 2" and "2" both occur
		s := strings.TrimSpace(strings.TrimPrefix(strings.ToLower(n), "shelf"))
		i, err := strconv.Atoi(s)
		if err != nil {
			return 0, false
		}
		ch = i
	default:
		return 0, false
	}
	return ch, telemetry.ValidChannel(ch)
}

func (f fields) timestamp() time.Time {
	v, ok := f.first(statusTime)
	if !ok {
		return time.Time{}
	}
	switch t := v.(type) {
	case string:
		if ts, ok := telemetry.ParseTimestamp(t); ok {
			return ts
		}
	case float64:
		return time.UnixMilli(int64(t)).UTC()
	}
	return time.Time{}
}

func (f fields) barcode() *string {
	v, ok := f.first(statusBarcode)
	if !ok {
		return nil
	}
	s, ok := v.(string)
	s = strings.TrimSpace(s)
	if !ok || s == "" || s == "null" {
		return nil
	}
	return &s
}

// decodeStatus turns a status reply into samples ordered by channel. The
// reply may be a list of shelf objects, an object wrapping that list, or an
// object keyed by shelf number.
func decodeStatus(body any) ([]telemetry.Sample, error) {
	var shelves []map[string]any
	if list, ok := unwrapList(body, "shelves", "channels", "status", "data"); ok {
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				shelves = append(shelves, m)
			}
		}
	} else if obj, ok := body.(map[string]any); ok {
		for k, v := range obj {
			m, ok := v.(map[string]any)
			if !ok {
				continue
			}
			if _, has := fold(m).first(statusChannel); !has {
				m["channel"] = k
			}
			shelves = append(shelves, m)
		}
	} else {
		return nil, fmt.Errorf("unexpected status shape %T", body)
	}

	out := make([]telemetry.Sample, 0, len(shelves))
	for _, raw := range shelves {
		f := fold(raw)
		ch, ok := f.channel()
		if !ok {
			continue
		}
		s := telemetry.Sample{
			Channel:          ch,
			Timestamp:        f.timestamp(),
			CurrentTemp:      f.float(statusCurTemp),
			TargetTemp:       f.float(statusTgtTemp),
			AllowedDeviation: f.float(statusDeviation),
			CurrentRPM:       f.float(statusCurRPM),
			TargetRPM:        f.float(statusTgtRPM),
			PlatePresent:     f.flag(statusPlate),
			Barcode:          f.barcode(),
		}
		if s.AllowedDeviation == nil {
			d := telemetry.DefaultAllowedDeviation
			s.AllowedDeviation = &d
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out, nil
}
