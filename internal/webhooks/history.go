package webhooks

import (
	"context"

	"lead-enricher/internal/common/errors"
	"lead-enricher/internal/common/pagination"
	"lead-enricher/internal/storage"
)

// History is the read-only query surface over the delivery ledger,
// used by operators to diagnose stuck or exhausted deliveries. The
// delivery pipeline itself never reads through it.
type History struct {
	store storage.Storage
}

// NewHistory creates a History over the given storage.
func NewHistory(store storage.Storage) *History {
	return &History{store: store}
}

// List returns attempts matching the filters, newest first.
func (h *History) List(ctx context.Context, filters storage.DeliveryFilters, params pagination.Params) (pagination.Page[*storage.DeliveryAttempt], error) {
	attempts, total, err := h.store.ListDeliveryAttempts(ctx, filters, params.Limit, params.Offset)
	if err != nil {
		return pagination.Page[*storage.DeliveryAttempt]{}, err
	}
	return pagination.NewPage(attempts, params, total), nil
}

// Get returns a single attempt by id.
func (h *History) Get(ctx context.Context, id string) (*storage.DeliveryAttempt, error) {
	attempt, err := h.store.GetDeliveryAttempt(ctx, id)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		return nil, errors.NotFoundError("delivery attempt " + id)
	}
	return attempt, nil
}
