package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/incubator.report/internal/httputil"
	"github.com/banshee-data/incubator.report/internal/pipeline"
	"github.com/banshee-data/incubator.report/internal/telemetry"
)

var chartFields = map[string]string{
	pipeline.FieldCurrentTemp:      "Temperature (°C)",
	pipeline.FieldTargetTemp:       "Target temperature (°C)",
	pipeline.FieldAllowedDeviation: "Allowed deviation (°C)",
	pipeline.FieldCurrentRPM:       "Shaker (rpm)",
	pipeline.FieldTargetRPM:        "Target shaker (rpm)",
}

// attachDebugChart serves a quick HTML line chart of one field per shelf
// at /debug/chart, for eyeballing captures without the front end.
// Query params: start, end, field (default currentTemp), cap.
func (s *Server) attachDebugChart(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.Handle("chart", "Per-shelf telemetry chart (HTML)", http.HandlerFunc(s.showDebugChart))
}

func (s *Server) showDebugChart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	win, err := s.window(q)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	field := q.Get("field")
	if field == "" {
		field = pipeline.FieldCurrentTemp
	}
	axisName, ok := chartFields[field]
	if !ok {
		httputil.BadRequest(w, fmt.Sprintf("unknown field %q", field))
		return
	}
	maxPoints, err := positiveInt(q, "cap", s.pipeline.Options().DownsampleCap)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	records, err := s.pipeline.Chart(r.Context(), win, maxPoints)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}

	var buf bytes.Buffer
	if err := renderLineChart(&buf, records, field, axisName, win); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func renderLineChart(buf *bytes.Buffer, records []pipeline.ChartRecord, field, axisName string, win telemetry.Window) error {
	layout := "15:04:05"
	if win.End.Sub(win.Start) > 24*time.Hour {
		layout = "01-02 15:04"
	}
	x := make([]string, len(records))
	for i, rec := range records {
		x[i] = rec.Timestamp().Format(layout)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Incubator telemetry", Width: "100%", Height: "640px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    axisName,
			Subtitle: fmt.Sprintf("%s to %s, %d points", win.Start.Format(time.RFC3339), win.End.Format(time.RFC3339), len(records)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: axisName, Scale: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
	)
	line.SetXAxis(x)

	for ch := telemetry.MinChannel; ch <= telemetry.MaxChannel; ch++ {
		data := make([]opts.LineData, len(records))
		seen := false
		for i, rec := range records {
			if v, ok := rec.Float(ch, field); ok {
				data[i] = opts.LineData{Value: v}
				seen = true
			} else {
				// gaps render as breaks in the line
				data[i] = opts.LineData{Value: "-"}
			}
		}
		if seen {
			line.AddSeries(fmt.Sprintf("Shelf %d", ch), data)
		}
	}
	return line.Render(buf)
}
