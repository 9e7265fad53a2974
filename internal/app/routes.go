package app

import (
	"github.com/gorilla/mux"

	"lead-enricher/internal/common/ratelimit"
	"lead-enricher/internal/handlers"
	"lead-enricher/internal/middleware"
)

// SetupRoutes configures all HTTP routes for the admin surface.
func SetupRoutes(router *mux.Router, h *handlers.Handlers, limiter *ratelimit.Limiter) {
	router.Use(middleware.LoggingMiddleware)

	// Health check
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.Use(ratelimit.HTTPMiddleware(limiter, ratelimit.IPKey))

	// Single-record enrichment
	api.HandleFunc("/enrich", h.HandleEnrich).Methods("POST")

	// Backfill run control
	api.HandleFunc("/backfills/{runId}/start", h.StartBackfill).Methods("POST")
	api.HandleFunc("/backfills/{runId}", h.GetBackfill).Methods("GET")
	api.HandleFunc("/backfills/{runId}/report", h.GetBackfillReport).Methods("GET")
	api.HandleFunc("/backfills/{runId}/stop", h.StopBackfill).Methods("POST")

	// Delivery history and replay
	api.HandleFunc("/deliveries", h.ListDeliveries).Methods("GET")
	api.HandleFunc("/deliveries/{id}", h.GetDelivery).Methods("GET")
	api.HandleFunc("/deliveries/{id}/replay", h.ReplayDelivery).Methods("POST")

	// Webhook subscriptions
	api.HandleFunc("/subscriptions", h.ListSubscriptions).Methods("GET")
	api.HandleFunc("/subscriptions", h.CreateSubscription).Methods("POST")
	api.HandleFunc("/subscriptions/{id}", h.GetSubscription).Methods("GET")

	// Metrics snapshot for the external monitoring collector
	api.HandleFunc("/metrics", h.GetMetrics).Methods("GET")
}
