// Package handlers implements the admin HTTP surface: single-record
// enrichment, backfill run control, delivery history and replay,
// subscription management, metrics and health.
package handlers

import (
	"encoding/json"
	"net/http"

	"lead-enricher/internal/backfill"
	"lead-enricher/internal/circuitbreaker"
	"lead-enricher/internal/common/errors"
	"lead-enricher/internal/common/logging"
	"lead-enricher/internal/enrichment"
	"lead-enricher/internal/metrics"
	"lead-enricher/internal/storage"
	"lead-enricher/internal/webhooks"
)

type Handlers struct {
	storage    storage.Storage
	enricher   *enrichment.Orchestrator
	runner     *backfill.Runner
	deliveries *webhooks.Service
	history    *webhooks.History
	collector  *metrics.Collector
	breakers   *circuitbreaker.Manager
	logger     logging.Logger
}

func New(
	store storage.Storage,
	enricher *enrichment.Orchestrator,
	runner *backfill.Runner,
	deliveries *webhooks.Service,
	history *webhooks.History,
	collector *metrics.Collector,
	breakers *circuitbreaker.Manager,
	logger logging.Logger,
) *Handlers {
	return &Handlers{
		storage:    store,
		enricher:   enricher,
		runner:     runner,
		deliveries: deliveries,
		history:    history,
		collector:  collector,
		breakers:   breakers,
		logger:     logger,
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps the error taxonomy onto HTTP statuses. Upstream
// provider failures surface as gateway errors so callers can tell our
// fault from the provider's.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch errors.GetType(err) {
	case errors.ErrTypeInvalidInput, errors.ErrTypeValidation:
		status = http.StatusBadRequest
	case errors.ErrTypeNotFound, errors.ErrTypeProviderNotFound:
		status = http.StatusNotFound
	case errors.ErrTypeConflict:
		status = http.StatusConflict
	case errors.ErrTypeProviderRateLimit:
		status = http.StatusTooManyRequests
	case errors.ErrTypeProviderAuth, errors.ErrTypeProviderTransient, errors.ErrTypeDelivery:
		status = http.StatusBadGateway
	case errors.ErrTypeTimeout:
		status = http.StatusGatewayTimeout
	}

	if status >= 500 {
		h.logger.Error("request failed", err)
	}

	writeJSON(w, status, map[string]interface{}{
		"error":       err.Error(),
		"error_class": string(errors.GetType(err)),
	})
}
