package handlers

import (
	"net/http"
	"time"
)

// GetMetrics returns the metrics snapshot plus circuit breaker states,
// scraped as JSON by the external monitoring collector.
func (h *Handlers) GetMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"metrics":  h.collector.Snapshot(),
		"breakers": h.breakers.AllStats(),
	})
}

// HealthCheck reports storage health.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.storage.Health(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}
