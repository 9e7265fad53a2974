package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"lead-enricher/internal/common/errors"
	"lead-enricher/internal/common/logging"
	"lead-enricher/internal/enrichment"
	"lead-enricher/internal/storage"
)

type startBackfillRequest struct {
	Subjects []enrichment.Request `json:"subjects"`
}

// StartBackfill starts or resumes the run in the background and returns
// immediately. Re-posting a runId that already completed is a no-op
// answered with the stored report; a runId with an active runner is a
// conflict.
func (h *Handlers) StartBackfill(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]

	var req startBackfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if len(req.Subjects) == 0 {
		h.writeError(w, errors.ValidationError("subjects are required"))
		return
	}
	if h.runner.IsActive(runID) {
		h.writeError(w, errors.ConflictError("run "+runID+" already has an active runner", nil))
		return
	}

	state, err := h.storage.GetRunState(r.Context(), runID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if state != nil && state.Status == storage.RunStatusCompleted {
		report, err := h.storage.GetRunReport(r.Context(), runID)
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
		return
	}

	go func() {
		if _, err := h.runner.Run(context.Background(), runID, req.Subjects); err != nil {
			h.logger.Error("backfill run failed", err,
				logging.Field{Key: "run_id", Value: runID})
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"run_id": runID,
		"status": "running",
	})
}

// GetBackfill returns the persisted state of a run.
func (h *Handlers) GetBackfill(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]

	state, err := h.storage.GetRunState(r.Context(), runID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if state == nil {
		h.writeError(w, errors.NotFoundError("run "+runID))
		return
	}

	writeJSON(w, http.StatusOK, state)
}

// GetBackfillReport returns the terminal report of a finished run.
func (h *Handlers) GetBackfillReport(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]

	report, err := h.storage.GetRunReport(r.Context(), runID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if report == nil {
		h.writeError(w, errors.NotFoundError("report for run "+runID))
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// StopBackfill signals the active runner to pause after the in-flight
// subject. The run can be resumed later with the same runId.
func (h *Handlers) StopBackfill(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]

	if !h.runner.Stop(runID) {
		h.writeError(w, errors.NotFoundError("active run "+runID))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id": runID,
		"status": "stopping",
	})
}
