// Package events models the discrete occurrences the incubator reports
// alongside its periodic telemetry, and ties them to the sampled timeline.
package events

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/banshee-data/incubator.report/internal/telemetry"
)

// Kind enumerates the event types the report views know how to describe.
type Kind string

const (
	KindTemperatureReached    Kind = "temperature-reached"
	KindTemperatureOutOfRange Kind = "temperature-out-of-range"
	KindTemperatureSetting    Kind = "temperature-setting"
	KindDoorOpen              Kind = "door-open"
	KindDoorClose             Kind = "door-close"
	KindPlateAdded            Kind = "plate-added"
	KindPlateRemoved          Kind = "plate-removed"
	KindShakerState           Kind = "shaker-state"
	KindAlarmArmed            Kind = "alarm-armed"
	KindAlarmDisarmed         Kind = "alarm-disarmed"
	KindScan                  Kind = "scan"
	KindUnknown               Kind = "unknown"
)

// MaxValues is the number of numeric payload slots an event carries.
const MaxValues = 4

// Event is one asynchronous occurrence reported by the hardware layer.
type Event struct {
	ID        string    `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Channel   *int      `json:"channel,omitempty"`
	Kind      Kind      `json:"kind"`
	Values    []float64 `json:"values,omitempty"`
	TypeName  string    `json:"typeName,omitempty"`
	Text      string    `json:"text,omitempty"`
}

// Value returns payload slot i, or 0 when the slot is missing.
func (e Event) Value(i int) float64 {
	if i < 0 || i >= len(e.Values) {
		return 0
	}
	return e.Values[i]
}

// typeNames maps the firmware's type identifiers, with prefixes and case
// folded away, onto kinds.
var typeNames = map[string]Kind{
	"temperaturereached":    KindTemperatureReached,
	"temperatureoutofrange": KindTemperatureOutOfRange,
	"temperatureoutrange":   KindTemperatureOutOfRange,
	"outofrange":            KindTemperatureOutOfRange,
	"temperaturesetting":    KindTemperatureSetting,
	"temperatureset":        KindTemperatureSetting,
	"setpoint":              KindTemperatureSetting,
	"dooropen":              KindDoorOpen,
	"dooropened":            KindDoorOpen,
	"doorclose":             KindDoorClose,
	"doorclosed":            KindDoorClose,
	"plateadded":            KindPlateAdded,
	"plateinserted":         KindPlateAdded,
	"plateremoved":          KindPlateRemoved,
	"shakerstate":           KindShakerState,
	"shaker":                KindShakerState,
	"alarmarmed":            KindAlarmArmed,
	"alarmdisarmed":         KindAlarmDisarmed,
	"scan":                  KindScan,
	"barcodescan":           KindScan,
	"barcodescanned":        KindScan,
}

// typePrefixes are stripped from firmware type names before lookup and
// before humanising unknown names. Longest first.
var typePrefixes = []string{"IncubatorEvent", "Incubator", "Event"}

// ParseKind maps a raw firmware type name onto a Kind. Names may be camel
// case ("TemperatureReachedEvent"), kebab or snake case, and may carry the
// firmware's type prefixes.
func ParseKind(raw string) Kind {
	name := trimTypeName(raw)
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	key := b.String()
	if k, ok := typeNames[key]; ok {
		return k
	}
	if k := Kind(strings.ToLower(strings.TrimSpace(raw))); k.known() {
		return k
	}
	return KindUnknown
}

func (k Kind) known() bool {
	switch k {
	case KindTemperatureReached, KindTemperatureOutOfRange, KindTemperatureSetting,
		KindDoorOpen, KindDoorClose, KindPlateAdded, KindPlateRemoved,
		KindShakerState, KindAlarmArmed, KindAlarmDisarmed, KindScan:
		return true
	}
	return false
}

func trimTypeName(raw string) string {
	name := strings.TrimSpace(raw)
	for _, p := range typePrefixes {
		if strings.HasPrefix(name, p) && len(name) > len(p) {
			name = name[len(p):]
			break
		}
	}
	if strings.HasSuffix(name, "Event") && len(name) > len("Event") {
		name = strings.TrimSuffix(name, "Event")
	}
	return strings.TrimLeft(name, "_-.: ")
}

// Field name variants seen in backend responses, in lookup order.
var (
	timestampFields = []string{"timestamp", "Timestamp", "time", "Time", "ts"}
	channelFields   = []string{"channel", "Channel", "shelf", "Shelf", "shelfId", "ShelfId"}
	typeFields      = []string{"type", "Type", "eventType", "EventType", "kind", "Kind"}
	valueFields     = []string{"values", "Values", "data", "Data", "params", "Params"}
	textFields      = []string{"message", "Message", "text", "Text", "description", "Description"}
	idFields        = []string{"id", "ID", "Id", "eventId", "EventId"}
)

// Normalize folds a decoded backend event object into an Event. Field
// names are matched against the known casing variants so nothing
// downstream needs to care which variant the backend used.
func Normalize(raw map[string]any) (Event, error) {
	var e Event

	tsRaw, ok := lookup(raw, timestampFields)
	if !ok {
		return Event{}, fmt.Errorf("event has no timestamp")
	}
	ts, err := parseEventTime(tsRaw)
	if err != nil {
		return Event{}, err
	}
	e.Timestamp = ts

	if v, ok := lookup(raw, channelFields); ok {
		if ch, ok := toInt(v); ok && telemetry.ValidChannel(ch) {
			e.Channel = &ch
		}
	}
	if v, ok := lookup(raw, typeFields); ok {
		if s, ok := v.(string); ok {
			e.TypeName = s
		}
	}
	e.Kind = ParseKind(e.TypeName)

	if v, ok := lookup(raw, valueFields); ok {
		e.Values = toValues(v)
	}
	if v, ok := lookup(raw, textFields); ok {
		if s, ok := v.(string); ok {
			e.Text = s
		}
	}
	if v, ok := lookup(raw, idFields); ok {
		e.ID = fmt.Sprint(v)
	}
	return e, nil
}

// NormalizeJSON decodes and normalises one JSON event object.
func NormalizeJSON(data []byte) (Event, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, fmt.Errorf("failed to decode event: %w", err)
	}
	return Normalize(raw)
}

func lookup(raw map[string]any, names []string) (any, bool) {
	for _, n := range names {
		if v, ok := raw[n]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func parseEventTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case string:
		if ts, ok := telemetry.ParseTimestamp(t); ok {
			return ts, nil
		}
		if ms, err := strconv.ParseInt(t, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), nil
		}
	case float64:
		return time.UnixMilli(int64(t)).UTC(), nil
	case json.Number:
		if ms, err := t.Int64(); err == nil {
			return time.UnixMilli(ms).UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid event timestamp %v", v)
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	case int:
		return n, true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	}
	return 0, false
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case bool:
		if n {
			return 1
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return f
		}
	}
	return 0
}

func toValues(v any) []float64 {
	list, ok := v.([]any)
	if !ok {
		switch v.(type) {
		case float64, int, string, bool:
			return []float64{toFloat(v)}
		}
		return nil
	}
	if len(list) > MaxValues {
		list = list[:MaxValues]
	}
	out := make([]float64, len(list))
	for i, item := range list {
		out[i] = toFloat(item)
	}
	return out
}
