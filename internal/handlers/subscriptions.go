package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"lead-enricher/internal/common/errors"
	"lead-enricher/internal/storage"
)

type createSubscriptionRequest struct {
	EventType string `json:"event_type"`
	TargetURL string `json:"target_url"`
	Secret    string `json:"secret"`
	Active    *bool  `json:"active,omitempty"`
}

// ListSubscriptions returns registered subscriptions, optionally
// filtered by event_type.
func (h *Handlers) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.storage.ListSubscriptions(r.Context(), r.URL.Query().Get("event_type"), false)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, subs)
}

// GetSubscription returns one subscription by id.
func (h *Handlers) GetSubscription(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	sub, err := h.storage.GetSubscription(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if sub == nil {
		h.writeError(w, errors.NotFoundError("subscription "+id))
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

// CreateSubscription registers a new subscriber.
func (h *Handlers) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if req.EventType == "" {
		h.writeError(w, errors.ValidationError("event_type is required"))
		return
	}
	if req.TargetURL == "" {
		h.writeError(w, errors.ValidationError("target_url is required"))
		return
	}
	if req.Secret == "" {
		h.writeError(w, errors.ValidationError("secret is required"))
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	sub := &storage.WebhookSubscription{
		ID:        uuid.New().String(),
		EventType: req.EventType,
		TargetURL: req.TargetURL,
		Secret:    req.Secret,
		Active:    active,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.storage.CreateSubscription(r.Context(), sub); err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, sub)
}
