package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/recollect/collector/internal/logbuf"
	"github.com/recollect/collector/internal/supervisor"
)

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WatchRequest registers a new watched directory.
type WatchRequest struct {
	Path    string `json:"path"`
	Pattern string `json:"pattern,omitempty"`
	Label   string `json:"label,omitempty"`
	Handoff string `json:"handoff,omitempty"`
}

// LogsResponse is a page of buffered log records.
type LogsResponse struct {
	Records []logbuf.Record `json:"records"`
	Count   int             `json:"count"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleRun triggers a collector run. A run already in progress for the
// same collector yields 409.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req supervisor.RunRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body")
			return
		}
	}

	res, err := s.sup.Run(r.Context(), name, req)
	if err != nil {
		switch {
		case errors.Is(err, supervisor.ErrBusy):
			writeError(w, http.StatusConflict, "run_in_progress", err.Error())
		case errors.Is(err, supervisor.ErrUnknown):
			writeError(w, http.StatusNotFound, "unknown_collector", err.Error())
		default:
			s.logger.Error("collector run failed", "collector", name, "error", err)
			writeError(w, http.StatusInternalServerError, "run_failed", err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// handleState returns a collector's durable state.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	st, err := s.sup.State(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_collector", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleListWatches returns all registered watch descriptors.
func (s *Server) handleListWatches(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sup.Watch().List())
}

// handleAddWatch registers a watched directory.
func (s *Server) handleAddWatch(w http.ResponseWriter, r *http.Request) {
	var req WatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "path is required")
		return
	}

	desc, err := s.sup.Watch().Register(req.Path, req.Pattern, req.Label, req.Handoff)
	if err != nil {
		writeError(w, http.StatusBadRequest, "watch_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, desc)
}

// handleRemoveWatch deregisters a watch by id.
func (s *Server) handleRemoveWatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sup.Watch().Deregister(id); err != nil {
		writeError(w, http.StatusNotFound, "watch_not_found", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLogs returns buffered log records, optionally filtered by the
// since query parameter: a look-back duration ("15m") or an RFC 3339
// timestamp.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeJSON(w, http.StatusOK, LogsResponse{Records: []logbuf.Record{}})
		return
	}

	var cutoff time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			cutoff = time.Now().Add(-d)
		} else if t, err := time.Parse(time.RFC3339, raw); err == nil {
			cutoff = t
		} else {
			writeError(w, http.StatusBadRequest, "invalid_request",
				"since must be a duration or an RFC 3339 timestamp")
			return
		}
	}

	records := s.logs.Since(cutoff)
	if records == nil {
		records = []logbuf.Record{}
	}
	writeJSON(w, http.StatusOK, LogsResponse{Records: records, Count: len(records)})
}
