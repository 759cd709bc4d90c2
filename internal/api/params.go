package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/incubator.report/internal/httputil"
	"github.com/banshee-data/incubator.report/internal/telemetry"
)

// DefaultWindow is the span queried when start is not given.
const DefaultWindow = 24 * time.Hour

func writeJSON(w http.ResponseWriter, data any) { httputil.WriteJSONOK(w, data) }

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	httputil.MethodNotAllowed(w, allowed...)
}

// parseTime accepts RFC 3339 or unix milliseconds.
func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want RFC 3339 or unix milliseconds", raw)
	}
	return t.UTC(), nil
}

// window reads start and end from q. end defaults to now and start to
// DefaultWindow before end.
func (s *Server) window(q url.Values) (telemetry.Window, error) {
	end := s.clock.Now().UTC()
	if raw := q.Get("end"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			return telemetry.Window{}, err
		}
		end = t
	}
	start := end.Add(-DefaultWindow)
	if raw := q.Get("start"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			return telemetry.Window{}, err
		}
		start = t
	}
	if !start.Before(end) {
		return telemetry.Window{}, fmt.Errorf("start must be before end")
	}
	return telemetry.Window{Start: start, End: end}, nil
}

// channel reads an optional shelf number.
func channel(q url.Values) (*int, error) {
	raw := strings.TrimSpace(q.Get("channel"))
	if raw == "" {
		return nil, nil
	}
	ch, err := strconv.Atoi(raw)
	if err != nil || !telemetry.ValidChannel(ch) {
		return nil, fmt.Errorf("channel must be between %d and %d", telemetry.MinChannel, telemetry.MaxChannel)
	}
	return &ch, nil
}

// positiveInt reads an optional positive integer, returning def when absent.
func positiveInt(q url.Values, name string, def int) (int, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return n, nil
}

func truthy(q url.Values, name string) bool {
	v, _ := strconv.ParseBool(q.Get(name))
	return v
}
