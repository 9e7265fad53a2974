// Package cache implements the persistent result cache keyed by
// idempotency key. A lookup hit within the TTL window spares a billable
// provider call; stale rows are treated as misses but still touch the key
// record so operators can see when a subject was last observed.
package cache

import (
	"context"
	"time"

	"github.com/lucsky/cuid"

	"lead-enricher/internal/common/errors"
	"lead-enricher/internal/common/logging"
	"lead-enricher/internal/storage"
)

// ResultCache reads and writes cached enrichment outcomes.
type ResultCache struct {
	store  storage.Storage
	logger logging.Logger
	now    func() time.Time
}

// NewResultCache creates a ResultCache backed by the given storage.
func NewResultCache(store storage.Storage, logger logging.Logger) *ResultCache {
	return &ResultCache{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Lookup returns the current cached result for the key, or nil on a miss.
// A row past its TTL counts as a miss. Any existing row, fresh or stale,
// refreshes last_seen_at on the idempotency key record.
func (c *ResultCache) Lookup(ctx context.Context, key string) (*storage.CachedResult, error) {
	row, err := c.store.GetCurrentCachedResult(ctx, key)
	if err != nil {
		return nil, errors.InternalError("cache lookup failed", err)
	}
	if row == nil {
		return nil, nil
	}

	now := c.now().UTC()
	if err := c.store.TouchIdempotencyKey(ctx, key, now); err != nil {
		c.logger.Warn("failed to touch idempotency key", logging.Field{Key: "key", Value: key}, logging.Err(err))
	}

	if row.Expired(now) {
		return nil, nil
	}

	return row, nil
}

// Store writes a new current row for the key and upserts the idempotency
// key record linking it back to the subject. Previous rows for the key are
// superseded, not deleted.
func (c *ResultCache) Store(ctx context.Context, key, subjectID, provider string, contacts []storage.Contact, costCents int64, notFound bool, ttl time.Duration) (*storage.CachedResult, error) {
	now := c.now().UTC()

	row := &storage.CachedResult{
		ID:         cuid.New(),
		Key:        key,
		Provider:   provider,
		Contacts:   contacts,
		CostCents:  costCents,
		NotFound:   notFound,
		ComputedAt: now,
		TTLSeconds: int64(ttl / time.Second),
	}

	if err := c.store.InsertCachedResult(ctx, row); err != nil {
		return nil, errors.InternalError("cache store failed", err)
	}

	if err := c.store.UpsertIdempotencyKey(ctx, &storage.IdempotencyKeyRecord{
		Key:        key,
		SubjectID:  subjectID,
		Provider:   provider,
		LastSeenAt: now,
		CreatedAt:  now,
	}); err != nil {
		return nil, errors.InternalError("idempotency key upsert failed", err)
	}

	return row, nil
}
