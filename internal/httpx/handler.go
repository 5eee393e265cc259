// Package httpx serves the optional status endpoint: while a migration is
// in flight an operator can poll the run's latest state instead of tailing
// the process output.
package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/heroku/heroku-pgmigrate/internal/runlog"
)

// RunReader is the slice of the run log the endpoint reads from.
type RunReader interface {
	GetLatest(ctx context.Context, runID string) (*runlog.Entry, error)
}

// Handler answers status queries from the run log.
type Handler struct {
	runs RunReader
}

func NewHandler(runs RunReader) *Handler {
	return &Handler{runs: runs}
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetRun returns the most recent run-log entry for a run ID.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run_id_required", "")
		return
	}

	entry, err := h.runs.GetLatest(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusNotFound, "run_not_found", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, mapEntryToResponse(entry))
}

func mapEntryToResponse(entry *runlog.Entry) RunResponse {
	var errs []string
	_ = json.Unmarshal([]byte(entry.ErrorMessages), &errs)

	return RunResponse{
		RunID:     entry.RunID,
		Status:    string(entry.Status),
		Step:      entry.Step,
		Detail:    entry.Detail,
		Errors:    errs,
		TraceID:   entry.TraceID,
		UpdatedAt: entry.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: msg,
	})
}
