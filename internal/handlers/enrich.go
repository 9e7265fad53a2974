package handlers

import (
	"encoding/json"
	"net/http"

	"lead-enricher/internal/enrichment"
)

// HandleEnrich runs one record through the enrichment path. Repeat
// calls with the same normalized input return the cached outcome
// without touching the provider.
func (h *Handlers) HandleEnrich(w http.ResponseWriter, r *http.Request) {
	var req enrichment.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	outcome, err := h.enricher.Enrich(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}
