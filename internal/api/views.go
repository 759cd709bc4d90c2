package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/banshee-data/incubator.report/internal/httputil"
	"github.com/banshee-data/incubator.report/internal/monitoring"
	"github.com/banshee-data/incubator.report/internal/pipeline"
	"github.com/banshee-data/incubator.report/internal/telemetry"
)

const exportTimeLayout = "20060102T150405Z"

func (s *Server) showChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	q := r.URL.Query()
	win, err := s.window(q)
	if err != nil {
		httputil.BadRequest(w, err.Error())
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
	writeJSON(w, records)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	q := r.URL.Query()
	win, err := s.window(q)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	ch, err := channel(q)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	reports, err := s.pipeline.Sessions(r.Context(), win, ch)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	writeJSON(w, reports)
}

func (s *Server) listBarcodeSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	q := r.URL.Query()
	barcode := strings.TrimSpace(q.Get("barcode"))
	if barcode == "" {
		httputil.BadRequest(w, "barcode is required")
		return
	}
	win, err := s.window(q)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	reports, err := s.pipeline.SessionsByBarcode(r.Context(), win, barcode)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	writeJSON(w, reports)
}

func (s *Server) exportCSV(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	q := r.URL.Query()
	win, err := s.window(q)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	ch, err := channel(q)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	rows, err := s.pipeline.Export(r.Context(), win, ch)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}

	name := exportName(win, ch)
	if truthy(q, "gzip") {
		w.Header().Set("Content-Type", "application/gzip")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
		gz := gzip.NewWriter(w)
		if err := pipeline.WriteRows(gz, rows); err != nil {
			monitoring.Logf("api: export stream failed: %v", err)
			return
		}
		if err := gz.Close(); err != nil {
			monitoring.Logf("api: export stream failed: %v", err)
		}
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", name))
	if err := pipeline.WriteRows(w, rows); err != nil {
		monitoring.Logf("api: export stream failed: %v", err)
	}
}

func exportName(win telemetry.Window, ch *int) string {
	scope := "all"
	if ch != nil {
		scope = fmt.Sprintf("shelf%d", *ch)
	}
	return fmt.Sprintf("incubator_export_%s_%s_%s.csv", scope, win.Start.Format(exportTimeLayout), win.End.Format(exportTimeLayout))
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	q := r.URL.Query()
	win, err := s.window(q)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	ch, err := channel(q)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	evs, err := s.pipeline.Events(r.Context(), win, ch)
	if err != nil {
		httputil.BadGateway(w, err.Error())
		return
	}
	writeJSON(w, evs)
}

type liveResponse struct {
	pipeline.Snapshot
	Updated time.Time `json:"updated"`
	Error   string    `json:"error,omitempty"`
}

// showLive serves the latest refreshed snapshot. ?refresh=true asks for a
// new one without waiting for it.
func (s *Server) showLive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.live == nil {
		httputil.NotFound(w, "live view is not enabled")
		return
	}
	if truthy(r.URL.Query(), "refresh") {
		s.live.Trigger()
	}
	snap, updated, ok := s.live.Latest()
	if !ok {
		msg := "live view is not ready"
		if err := s.live.Err(); err != nil {
			msg = err.Error()
		}
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, msg)
		return
	}
	resp := liveResponse{Snapshot: snap, Updated: updated}
	if err := s.live.Err(); err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, resp)
}
