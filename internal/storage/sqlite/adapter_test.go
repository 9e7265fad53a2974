package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lead-enricher/internal/storage"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	adapter, err := NewAdapter(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { adapter.Close() })
	return adapter
}

func TestIdempotencyKeys_UpsertAndGet(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	rec := &storage.IdempotencyKeyRecord{
		Key:        "k1",
		SubjectID:  "lead-42",
		Provider:   "attom",
		LastSeenAt: now,
		CreatedAt:  now,
	}
	require.NoError(t, a.UpsertIdempotencyKey(ctx, rec))

	got, err := a.GetIdempotencyKey(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "lead-42", got.SubjectID)
	assert.Equal(t, "attom", got.Provider)
}

func TestIdempotencyKeys_UpsertRefreshesLastSeen(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	created := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)

	rec := &storage.IdempotencyKeyRecord{Key: "k1", SubjectID: "s", Provider: "attom", LastSeenAt: created, CreatedAt: created}
	require.NoError(t, a.UpsertIdempotencyKey(ctx, rec))

	later := created.Add(30 * time.Minute)
	rec.LastSeenAt = later
	require.NoError(t, a.UpsertIdempotencyKey(ctx, rec))

	got, err := a.GetIdempotencyKey(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, got.LastSeenAt.Equal(later))
	assert.True(t, got.CreatedAt.Equal(created))
}

func TestIdempotencyKeys_Touch(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	created := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)

	rec := &storage.IdempotencyKeyRecord{Key: "k1", SubjectID: "s", Provider: "attom", LastSeenAt: created, CreatedAt: created}
	require.NoError(t, a.UpsertIdempotencyKey(ctx, rec))

	seen := created.Add(10 * time.Minute)
	require.NoError(t, a.TouchIdempotencyKey(ctx, "k1", seen))

	got, err := a.GetIdempotencyKey(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, got.LastSeenAt.Equal(seen))

	// Touching an unknown key is a no-op, not an error
	require.NoError(t, a.TouchIdempotencyKey(ctx, "missing", seen))
}

func TestCachedResults_CurrentIsNewest(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)

	old := &storage.CachedResult{
		ID: "r1", Key: "k1", Provider: "attom",
		Contacts:   []storage.Contact{{FirstName: "Jane", LastName: "Doe", Phone: "3125550100"}},
		CostCents:  25,
		ComputedAt: base,
		TTLSeconds: 3600,
	}
	require.NoError(t, a.InsertCachedResult(ctx, old))

	refreshed := &storage.CachedResult{
		ID: "r2", Key: "k1", Provider: "attom",
		Contacts:   []storage.Contact{{FirstName: "Jane", LastName: "Doe", Phone: "3125550199"}},
		CostCents:  25,
		ComputedAt: base.Add(30 * time.Minute),
		TTLSeconds: 3600,
	}
	require.NoError(t, a.InsertCachedResult(ctx, refreshed))

	got, err := a.GetCurrentCachedResult(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "r2", got.ID)
	require.Len(t, got.Contacts, 1)
	assert.Equal(t, "3125550199", got.Contacts[0].Phone)
}

func TestCachedResults_MissingKey(t *testing.T) {
	a := newTestAdapter(t)

	got, err := a.GetCurrentCachedResult(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCachedResults_NegativeResult(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	res := &storage.CachedResult{
		ID: "r1", Key: "k1", Provider: "attom",
		NotFound:   true,
		ComputedAt: time.Now().UTC(),
		TTLSeconds: 600,
	}
	require.NoError(t, a.InsertCachedResult(ctx, res))

	got, err := a.GetCurrentCachedResult(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, got.NotFound)
	assert.Empty(t, got.Contacts)
}

func TestRunState_SaveResumeRoundTrip(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	state := &storage.RunState{
		RunID:                "run-1",
		Cursor:               3,
		ProcessedIDs:         map[string]bool{"s1": true, "s2": true, "s3": true},
		SubjectAttempts:      map[string]int{"s4": 2},
		RetryBudgetRemaining: 20,
		Status:               storage.RunStatusRunning,
		StartedAt:            now,
		UpdatedAt:            now,
	}
	require.NoError(t, a.SaveRunState(ctx, state))

	state.Cursor = 4
	state.MarkProcessed("s4")
	state.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, a.SaveRunState(ctx, state))

	got, err := a.GetRunState(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 4, got.Cursor)
	assert.True(t, got.IsProcessed("s4"))
	assert.Len(t, got.ProcessedIDs, 4)
	assert.Equal(t, storage.RunStatusRunning, got.Status)
}

func TestRunState_UnknownRun(t *testing.T) {
	a := newTestAdapter(t)

	got, err := a.GetRunState(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRunReport_RoundTrip(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	report := &storage.RunReport{
		RunID:          "run-1",
		Status:         storage.RunStatusCompleted,
		ProcessedCount: 100,
		CacheHits:      40,
		ProviderCalls:  60,
		CacheHitRatio:  0.4,
		TotalCostCents: 1500,
		ErrorClasses:   map[string]int{"provider_transient": 2},
		StartedAt:      now.Add(-time.Hour),
		FinishedAt:     now,
	}
	require.NoError(t, a.SaveRunReport(ctx, report))

	got, err := a.GetRunReport(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 100, got.ProcessedCount)
	assert.Equal(t, 2, got.ErrorClasses["provider_transient"])
}

func TestSubscriptions_ListFiltering(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	now := time.Now().UTC()

	subs := []*storage.WebhookSubscription{
		{ID: "sub1", EventType: "enrichment.completed", TargetURL: "https://a.example.com/hook", Secret: "s1", Active: true, CreatedAt: now},
		{ID: "sub2", EventType: "enrichment.completed", TargetURL: "https://b.example.com/hook", Secret: "s2", Active: false, CreatedAt: now.Add(time.Second)},
		{ID: "sub3", EventType: "enrichment.failed", TargetURL: "https://c.example.com/hook", Secret: "s3", Active: true, CreatedAt: now.Add(2 * time.Second)},
	}
	for _, sub := range subs {
		require.NoError(t, a.CreateSubscription(ctx, sub))
	}

	active, err := a.ListSubscriptions(ctx, "enrichment.completed", true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "sub1", active[0].ID)

	all, err := a.ListSubscriptions(ctx, "", false)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDeliveryAttempts_CRUDAndFilters(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	mk := func(id, subID, eventType string, status storage.DeliveryStatus, createdAt time.Time) *storage.DeliveryAttempt {
		return &storage.DeliveryAttempt{
			ID: id, SubscriptionID: subID, EventID: "evt-" + id,
			EventType: eventType, TargetURL: "https://example.com/hook",
			Payload: `{"id":"evt"}`, Status: status,
			PayloadTimestamp: createdAt, CreatedAt: createdAt, UpdatedAt: createdAt,
		}
	}

	require.NoError(t, a.CreateDeliveryAttempt(ctx, mk("d1", "sub1", "enrichment.completed", storage.DeliveryStatusPending, now)))
	require.NoError(t, a.CreateDeliveryAttempt(ctx, mk("d2", "sub1", "enrichment.failed", storage.DeliveryStatusExhausted, now.Add(time.Second))))
	require.NoError(t, a.CreateDeliveryAttempt(ctx, mk("d3", "sub2", "enrichment.completed", storage.DeliveryStatusSuccess, now.Add(2*time.Second))))

	// update
	attempt, err := a.GetDeliveryAttempt(ctx, "d1")
	require.NoError(t, err)
	attempt.Status = storage.DeliveryStatusFailed
	attempt.Attempts = 2
	attempt.LastError = "subscriber returned 500"
	lastAt := now.Add(3 * time.Second)
	attempt.LastAttemptAt = &lastAt
	attempt.UpdatedAt = lastAt
	require.NoError(t, a.UpdateDeliveryAttempt(ctx, attempt))

	got, err := a.GetDeliveryAttempt(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, storage.DeliveryStatusFailed, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, "subscriber returned 500", got.LastError)
	require.NotNil(t, got.LastAttemptAt)

	// newest first, no filters
	all, total, err := a.ListDeliveryAttempts(ctx, storage.DeliveryFilters{}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, all, 3)
	assert.Equal(t, "d3", all[0].ID)

	// filter by subscription
	bySub, total, err := a.ListDeliveryAttempts(ctx, storage.DeliveryFilters{SubscriptionID: "sub1"}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, bySub, 2)

	// filter by status
	exhausted, total, err := a.ListDeliveryAttempts(ctx, storage.DeliveryFilters{Status: storage.DeliveryStatusExhausted}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, exhausted, 1)
	assert.Equal(t, "d2", exhausted[0].ID)

	// pagination window
	page, total, err := a.ListDeliveryAttempts(ctx, storage.DeliveryFilters{}, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, "d1", page[0].ID)
}

func TestRecordEmittedEvent_Deduplicates(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first, err := a.RecordEmittedEvent(ctx, "call.summary:abc123", "evt-1", now)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := a.RecordEmittedEvent(ctx, "call.summary:abc123", "evt-2", now.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, second)
}
