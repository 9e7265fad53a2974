// Package storage defines the durable persistence surface for the
// enrichment service: idempotency keys, cached provider results, backfill
// run state, webhook subscriptions and the delivery-attempt ledger.
// Adapters for SQLite and PostgreSQL live in subpackages.
package storage

import (
	"context"
	"time"
)

type Storage interface {
	// Connection management
	Close() error
	Health() error

	// Idempotency keys
	// UpsertIdempotencyKey inserts the record or refreshes last_seen_at
	// when the key already exists.
	UpsertIdempotencyKey(ctx context.Context, rec *IdempotencyKeyRecord) error

	// GetIdempotencyKey retrieves a key record, nil when absent.
	GetIdempotencyKey(ctx context.Context, key string) (*IdempotencyKeyRecord, error)

	// TouchIdempotencyKey updates last_seen_at on an existing key record.
	// A missing key is not an error; there is nothing to touch.
	TouchIdempotencyKey(ctx context.Context, key string, seenAt time.Time) error

	// Cached results
	// InsertCachedResult writes a new current row for the key. Prior rows
	// are superseded, never deleted.
	InsertCachedResult(ctx context.Context, res *CachedResult) error

	// GetCurrentCachedResult returns the most recent row for the key,
	// nil when no row exists. Staleness is the caller's concern.
	GetCurrentCachedResult(ctx context.Context, key string) (*CachedResult, error)

	// Backfill runs
	// SaveRunState upserts the run state row keyed by run_id.
	SaveRunState(ctx context.Context, state *RunState) error

	// GetRunState retrieves run state, nil when the run is unknown.
	GetRunState(ctx context.Context, runID string) (*RunState, error)

	// SaveRunReport writes the terminal report artifact for a run.
	SaveRunReport(ctx context.Context, report *RunReport) error

	// GetRunReport retrieves the terminal report, nil when absent.
	GetRunReport(ctx context.Context, runID string) (*RunReport, error)

	// Webhook subscriptions
	CreateSubscription(ctx context.Context, sub *WebhookSubscription) error
	GetSubscription(ctx context.Context, id string) (*WebhookSubscription, error)

	// ListSubscriptions returns subscriptions, optionally filtered by
	// event type and restricted to active ones.
	ListSubscriptions(ctx context.Context, eventType string, activeOnly bool) ([]*WebhookSubscription, error)

	// Delivery attempts
	CreateDeliveryAttempt(ctx context.Context, attempt *DeliveryAttempt) error
	UpdateDeliveryAttempt(ctx context.Context, attempt *DeliveryAttempt) error
	GetDeliveryAttempt(ctx context.Context, id string) (*DeliveryAttempt, error)

	// ListDeliveryAttempts returns attempts matching the filters, newest
	// first, with the total match count for pagination.
	ListDeliveryAttempts(ctx context.Context, filters DeliveryFilters, limit, offset int) ([]*DeliveryAttempt, int, error)

	// Emitted events (producer-level idempotency)
	// RecordEmittedEvent registers a natural key for an emitted event.
	// Returns false without error when the key was already recorded.
	RecordEmittedEvent(ctx context.Context, naturalKey, eventID string, at time.Time) (bool, error)
}
