// Package webhooks implements the event delivery engine: fan-out of
// domain events to registered subscribers, signed HTTP POSTs with capped
// exponential backoff, a durable ledger of every attempt, and the
// operator-facing history/replay surface.
package webhooks

import (
	"time"

	"github.com/google/uuid"
)

// Event types emitted by this service.
const (
	EventEnrichmentCompleted = "enrichment.completed"
	EventEnrichmentFailed    = "enrichment.failed"
	EventBackfillCompleted   = "backfill.completed"
)

// Event is the wire payload POSTed to subscribers. The JSON encoding of
// this struct is the exact signed body.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	SubjectID string                 `json:"subjectId"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

// NewEvent creates an event with a fresh id and timestamp.
func NewEvent(eventType, subjectID string, metadata map[string]interface{}) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		SubjectID: subjectID,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
}
