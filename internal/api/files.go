package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/banshee-data/incubator.report/internal/db"
	"github.com/banshee-data/incubator.report/internal/httputil"
	"github.com/banshee-data/incubator.report/internal/monitoring"
	"github.com/banshee-data/incubator.report/internal/storage"
)

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listFiles(w, r)
	case http.MethodDelete:
		s.deleteFile(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodDelete)
	}
}

func (s *Server) listFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.files.ListFiles()
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if files == nil {
		files = []storage.FileInfo{}
	}
	writeJSON(w, files)
}

func (s *Server) deleteFile(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		httputil.BadRequest(w, "name is required")
		return
	}
	switch err := s.files.DeleteFile(name); {
	case errors.Is(err, storage.ErrInvalidName):
		httputil.BadRequest(w, err.Error())
		return
	case errors.Is(err, storage.ErrNotFound):
		httputil.NotFound(w, err.Error())
		return
	case err != nil:
		httputil.InternalServerError(w, err.Error())
		return
	}
	s.recordAction(r, db.FileAction{Name: name, Action: db.ActionDelete})
	s.refreshLive()
	writeJSON(w, map[string]string{"deleted": name})
}

func (s *Server) pruneFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	days, err := positiveInt(r.URL.Query(), "days", 0)
	if err != nil || days == 0 {
		httputil.BadRequest(w, "days must be a positive integer")
		return
	}
	n, err := s.files.DeleteFilesOlderThan(days)
	if n > 0 {
		s.recordAction(r, db.FileAction{Name: "*", Action: db.ActionPrune, Detail: fmt.Sprintf("%d files older than %d days", n, days)})
		s.refreshLive()
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	writeJSON(w, map[string]int{"deleted": n})
}

func (s *Server) listFileActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.audit == nil {
		writeJSON(w, []db.FileAction{})
		return
	}
	limit, err := positiveInt(r.URL.Query(), "limit", 100)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	actions, err := s.audit.FileActions(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if actions == nil {
		actions = []db.FileAction{}
	}
	writeJSON(w, actions)
}

func (s *Server) recordAction(r *http.Request, a db.FileAction) {
	if s.audit == nil {
		return
	}
	a.At = s.clock.Now()
	if err := s.audit.RecordFileAction(r.Context(), a); err != nil {
		monitoring.Logf("api: %v", err)
	}
}

func (s *Server) refreshLive() {
	if s.live != nil {
		s.live.Trigger()
	}
}
