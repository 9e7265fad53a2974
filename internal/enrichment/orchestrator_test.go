package enrichment

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lead-enricher/internal/cache"
	"lead-enricher/internal/common/errors"
	"lead-enricher/internal/common/logging"
	"lead-enricher/internal/idempotency"
	"lead-enricher/internal/metrics"
	"lead-enricher/internal/providers"
	"lead-enricher/internal/storage"
	"lead-enricher/internal/storage/sqlite"
	"lead-enricher/internal/webhooks"
)

type fakeInvoker struct {
	name   string
	callFn func(ctx context.Context, req providers.Request) (*providers.Result, error)
}

func (f *fakeInvoker) Name() string { return f.name }

func (f *fakeInvoker) Call(ctx context.Context, req providers.Request) (*providers.Result, error) {
	return f.callFn(ctx, req)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []webhooks.Event
}

func (f *fakePublisher) Publish(ctx context.Context, event webhooks.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakePublisher) byType(eventType string) []webhooks.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []webhooks.Event
	for _, e := range f.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	orchestrator *Orchestrator
	publisher    *fakePublisher
	collector    *metrics.Collector
	calls        *int32
}

func newTestEnv(t *testing.T, callFn func(ctx context.Context, req providers.Request) (*providers.Result, error)) *testEnv {
	t.Helper()

	adapter, err := sqlite.NewAdapter(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { adapter.Close() })

	var calls int32
	registry := providers.NewRegistry()
	registry.Register(&fakeInvoker{
		name: "attom",
		callFn: func(ctx context.Context, req providers.Request) (*providers.Result, error) {
			atomic.AddInt32(&calls, 1)
			return callFn(ctx, req)
		},
	})

	publisher := &fakePublisher{}
	collector := metrics.NewCollector()
	logger := logging.GetGlobalLogger()

	orchestrator := NewOrchestrator(
		idempotency.NewKeyComputer(),
		cache.NewResultCache(adapter, logger),
		registry,
		publisher,
		collector,
		Config{DefaultProvider: "attom", CacheTTL: time.Hour, NegativeCacheTTL: time.Hour},
		logger,
	)

	return &testEnv{orchestrator: orchestrator, publisher: publisher, collector: collector, calls: &calls}
}

func successCall(contacts []storage.Contact, cost int64) func(ctx context.Context, req providers.Request) (*providers.Result, error) {
	return func(ctx context.Context, req providers.Request) (*providers.Result, error) {
		return &providers.Result{Provider: "attom", Contacts: contacts, CostCents: cost}, nil
	}
}

var testRequest = Request{
	SubjectID: "lead-1",
	Street:    "123 Main St",
	City:      "Chicago",
	State:     "IL",
	Zip:       "60601",
}

func TestEnrichMissThenHit(t *testing.T) {
	contacts := []storage.Contact{{FirstName: "Jane", LastName: "Smith", Type: "owner"}}
	env := newTestEnv(t, successCall(contacts, 25))
	ctx := context.Background()

	first, err := env.orchestrator.Enrich(ctx, testRequest)
	require.NoError(t, err)
	assert.Equal(t, SourceProvider, first.Source)
	assert.Equal(t, int64(25), first.CostCents)
	require.Len(t, first.Contacts, 1)

	second, err := env.orchestrator.Enrich(ctx, testRequest)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, second.Source)
	assert.Equal(t, int64(0), second.CostCents)
	assert.Equal(t, first.Key, second.Key)
	require.Len(t, second.Contacts, 1)
	assert.Equal(t, "Jane", second.Contacts[0].FirstName)

	assert.Equal(t, int32(1), atomic.LoadInt32(env.calls))

	snap := env.collector.Snapshot()
	assert.Equal(t, int64(1), snap.CacheHits)
	assert.Equal(t, int64(1), snap.CacheMisses)
}

func TestEnrichCasingVariantsHitSameKey(t *testing.T) {
	env := newTestEnv(t, successCall(nil, 25))
	ctx := context.Background()

	_, err := env.orchestrator.Enrich(ctx, testRequest)
	require.NoError(t, err)

	variant := testRequest
	variant.Street = "  123 MAIN ST. "
	variant.City = "chicago"

	outcome, err := env.orchestrator.Enrich(ctx, variant)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, outcome.Source)
	assert.Equal(t, int32(1), atomic.LoadInt32(env.calls))
}

func TestEnrichConcurrentCallersShareOneProviderCall(t *testing.T) {
	release := make(chan struct{})
	env := newTestEnv(t, func(ctx context.Context, req providers.Request) (*providers.Result, error) {
		<-release
		return &providers.Result{Provider: "attom", CostCents: 25}, nil
	})
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	outcomes := make(chan *Outcome, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := env.orchestrator.Enrich(ctx, testRequest)
			assert.NoError(t, err)
			outcomes <- outcome
		}()
	}

	// let every caller miss the cache and reach the gate
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()
	close(outcomes)

	assert.Equal(t, int32(1), atomic.LoadInt32(env.calls))
	for outcome := range outcomes {
		require.NotNil(t, outcome)
		assert.Equal(t, SourceProvider, outcome.Source)
	}
}

func TestEnrichFailureIsNotCached(t *testing.T) {
	env := newTestEnv(t, func(ctx context.Context, req providers.Request) (*providers.Result, error) {
		return nil, errors.ProviderTransientError("attom", nil)
	})
	ctx := context.Background()

	_, err := env.orchestrator.Enrich(ctx, testRequest)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeProviderTransient))

	_, err = env.orchestrator.Enrich(ctx, testRequest)
	require.Error(t, err)

	// both calls reached the provider; nothing was cached
	assert.Equal(t, int32(2), atomic.LoadInt32(env.calls))
	assert.Equal(t, int64(2), env.collector.Snapshot().Providers["attom"].ErrorsByClass["provider_transient"])
}

func TestEnrichNotFoundIsCachedAsNegative(t *testing.T) {
	env := newTestEnv(t, func(ctx context.Context, req providers.Request) (*providers.Result, error) {
		return nil, errors.ProviderNotFoundError("attom")
	})
	ctx := context.Background()

	first, err := env.orchestrator.Enrich(ctx, testRequest)
	require.NoError(t, err)
	assert.True(t, first.NotFound)
	assert.Equal(t, SourceProvider, first.Source)
	assert.Empty(t, first.Contacts)

	second, err := env.orchestrator.Enrich(ctx, testRequest)
	require.NoError(t, err)
	assert.True(t, second.NotFound)
	assert.Equal(t, SourceCache, second.Source)

	assert.Equal(t, int32(1), atomic.LoadInt32(env.calls))
}

func TestEnrichEmitsCompletedEvent(t *testing.T) {
	env := newTestEnv(t, successCall([]storage.Contact{{LastName: "Smith"}}, 25))

	outcome, err := env.orchestrator.Enrich(context.Background(), testRequest)
	require.NoError(t, err)

	completed := env.publisher.byType(webhooks.EventEnrichmentCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, "lead-1", completed[0].SubjectID)
	assert.Equal(t, outcome.Key, completed[0].Metadata["key"])
	assert.Equal(t, int64(25), completed[0].Metadata["cost_cents"])
	assert.NotEmpty(t, completed[0].ID)
}

func TestEnrichFailureEventOnlyWhenRequested(t *testing.T) {
	env := newTestEnv(t, func(ctx context.Context, req providers.Request) (*providers.Result, error) {
		return nil, errors.ProviderAuthError("attom", nil)
	})
	ctx := context.Background()

	_, err := env.orchestrator.Enrich(ctx, testRequest)
	require.Error(t, err)
	assert.Empty(t, env.publisher.byType(webhooks.EventEnrichmentFailed))

	notify := testRequest
	notify.NotifyFailure = true
	_, err = env.orchestrator.Enrich(ctx, notify)
	require.Error(t, err)

	failed := env.publisher.byType(webhooks.EventEnrichmentFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "provider_auth", failed[0].Metadata["error_class"])
}

func TestEnrichRejectsEmptyAddress(t *testing.T) {
	env := newTestEnv(t, successCall(nil, 25))

	_, err := env.orchestrator.Enrich(context.Background(), Request{SubjectID: "lead-1"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeInvalidInput))
	assert.Equal(t, int32(0), atomic.LoadInt32(env.calls))
}
