package webhooks

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lead-enricher/internal/common/errors"
	"lead-enricher/internal/common/pagination"
	"lead-enricher/internal/storage"
	"lead-enricher/internal/storage/sqlite"
)

func newTestHistory(t *testing.T) (*History, storage.Storage) {
	t.Helper()
	adapter, err := sqlite.NewAdapter(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { adapter.Close() })
	return NewHistory(adapter), adapter
}

func seedAttempt(t *testing.T, store storage.Storage, id, subID, eventType string, status storage.DeliveryStatus, createdAt time.Time) {
	t.Helper()
	require.NoError(t, store.CreateDeliveryAttempt(context.Background(), &storage.DeliveryAttempt{
		ID:             id,
		SubscriptionID: subID,
		EventID:        "evt-" + id,
		EventType:      eventType,
		TargetURL:      "https://subscriber.example/hook",
		Payload:        `{}`,
		Status:         status,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}))
}

func TestHistoryListNewestFirst(t *testing.T) {
	history, store := newTestHistory(t)
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		seedAttempt(t, store, fmt.Sprintf("att-%d", i), "sub-1", EventEnrichmentCompleted,
			storage.DeliveryStatusSuccess, base.Add(time.Duration(i)*time.Minute))
	}

	page, err := history.List(context.Background(), storage.DeliveryFilters{}, pagination.Params{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Results, 3)
	assert.Equal(t, "att-2", page.Results[0].ID)
	assert.Equal(t, "att-0", page.Results[2].ID)
	assert.Nil(t, page.NextOffset)
}

func TestHistoryListFilters(t *testing.T) {
	history, store := newTestHistory(t)
	now := time.Now().UTC()
	seedAttempt(t, store, "att-1", "sub-1", EventEnrichmentCompleted, storage.DeliveryStatusSuccess, now)
	seedAttempt(t, store, "att-2", "sub-2", EventEnrichmentCompleted, storage.DeliveryStatusExhausted, now)
	seedAttempt(t, store, "att-3", "sub-2", EventBackfillCompleted, storage.DeliveryStatusPending, now)

	page, err := history.List(context.Background(), storage.DeliveryFilters{SubscriptionID: "sub-2"}, pagination.Params{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, page.Results, 2)

	page, err = history.List(context.Background(), storage.DeliveryFilters{Status: storage.DeliveryStatusExhausted}, pagination.Params{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "att-2", page.Results[0].ID)

	page, err = history.List(context.Background(), storage.DeliveryFilters{EventType: EventBackfillCompleted}, pagination.Params{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "att-3", page.Results[0].ID)
}

func TestHistoryListPaginates(t *testing.T) {
	history, store := newTestHistory(t)
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		seedAttempt(t, store, fmt.Sprintf("att-%d", i), "sub-1", EventEnrichmentCompleted,
			storage.DeliveryStatusSuccess, base.Add(time.Duration(i)*time.Minute))
	}

	page, err := history.List(context.Background(), storage.DeliveryFilters{}, pagination.Params{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Results, 2)
	assert.Equal(t, 5, page.Total)
	require.NotNil(t, page.NextOffset)
	assert.Equal(t, 2, *page.NextOffset)

	page, err = history.List(context.Background(), storage.DeliveryFilters{}, pagination.Params{Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Len(t, page.Results, 1)
	assert.Nil(t, page.NextOffset)
}

func TestHistoryGet(t *testing.T) {
	history, store := newTestHistory(t)
	seedAttempt(t, store, "att-1", "sub-1", EventEnrichmentCompleted, storage.DeliveryStatusPending, time.Now().UTC())

	attempt, err := history.Get(context.Background(), "att-1")
	require.NoError(t, err)
	assert.Equal(t, "att-1", attempt.ID)

	_, err = history.Get(context.Background(), "missing")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}
