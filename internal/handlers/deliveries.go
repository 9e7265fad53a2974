package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"lead-enricher/internal/common/pagination"
	"lead-enricher/internal/storage"
)

// ListDeliveries returns delivery attempts, newest first, filtered by
// the query parameters subscription_id, event_type, status and
// target_url.
func (h *Handlers) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	params := pagination.ParseParams(r)
	query := r.URL.Query()

	filters := storage.DeliveryFilters{
		SubscriptionID: query.Get("subscription_id"),
		EventType:      query.Get("event_type"),
		Status:         storage.DeliveryStatus(query.Get("status")),
		TargetURL:      query.Get("target_url"),
	}

	page, err := h.history.List(r.Context(), filters, params)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

// GetDelivery returns a single delivery attempt by id.
func (h *Handlers) GetDelivery(w http.ResponseWriter, r *http.Request) {
	attempt, err := h.history.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, attempt)
}

// ReplayDelivery re-enqueues a failed or exhausted attempt.
func (h *Handlers) ReplayDelivery(w http.ResponseWriter, r *http.Request) {
	attempt, err := h.deliveries.Replay(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, attempt)
}
