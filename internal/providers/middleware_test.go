package providers

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lead-enricher/internal/circuitbreaker"
	"lead-enricher/internal/common/errors"
	"lead-enricher/internal/common/logging"
	"lead-enricher/internal/metrics"
	"lead-enricher/internal/redis"
	"lead-enricher/internal/storage"
)

// fakeInvoker is a func-field test double for Invoker.
type fakeInvoker struct {
	name   string
	callFn func(ctx context.Context, req Request) (*Result, error)
}

func (f *fakeInvoker) Name() string { return f.name }

func (f *fakeInvoker) Call(ctx context.Context, req Request) (*Result, error) {
	return f.callFn(ctx, req)
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	inv := &fakeInvoker{name: "attom"}
	r.Register(inv)

	got, err := r.Get("attom")
	require.NoError(t, err)
	assert.Same(t, Invoker(inv), got)

	_, err = r.Get("unknown")
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))

	assert.ElementsMatch(t, []string{"attom"}, r.Names())
}

func TestBreakerInvokerOpensOnRepeatedTransientFailures(t *testing.T) {
	manager := circuitbreaker.NewManager(logging.GetGlobalLogger())

	calls := 0
	inv := WithBreaker(&fakeInvoker{
		name: "attom",
		callFn: func(ctx context.Context, req Request) (*Result, error) {
			calls++
			return nil, errors.ProviderTransientError("attom", nil)
		},
	}, manager)

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := inv.Call(ctx, Request{Street: "123 Main St"})
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeProviderTransient))
	}

	// provider config trips after 3 consecutive failures
	assert.Equal(t, 3, calls)
}

func TestBreakerInvokerPassesThroughResults(t *testing.T) {
	manager := circuitbreaker.NewManager(logging.GetGlobalLogger())

	expected := &Result{Provider: "attom", CostCents: 25, Contacts: []storage.Contact{{LastName: "Smith"}}}
	inv := WithBreaker(&fakeInvoker{
		name:   "attom",
		callFn: func(ctx context.Context, req Request) (*Result, error) { return expected, nil },
	}, manager)

	result, err := inv.Call(context.Background(), Request{Street: "123 Main St"})
	require.NoError(t, err)
	assert.Same(t, expected, result)
}

func newQuotaRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestQuotaInvokerCountsBilledCalls(t *testing.T) {
	client := newQuotaRedis(t)
	collector := metrics.NewCollector()

	inv := WithQuota(&fakeInvoker{
		name: "attom",
		callFn: func(ctx context.Context, req Request) (*Result, error) {
			return &Result{Provider: "attom", CostCents: 25}, nil
		},
	}, client, collector, logging.GetGlobalLogger())

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := inv.Call(ctx, Request{Street: "123 Main St"})
		require.NoError(t, err)
	}

	total, err := client.GetQuota(ctx, "attom")
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Equal(t, int64(3), collector.Snapshot().QuotaUsage["attom"])
}

func TestQuotaInvokerSkipsFailedAndFreeCalls(t *testing.T) {
	client := newQuotaRedis(t)
	collector := metrics.NewCollector()
	ctx := context.Background()

	failing := WithQuota(&fakeInvoker{
		name: "attom",
		callFn: func(ctx context.Context, req Request) (*Result, error) {
			return nil, errors.ProviderTransientError("attom", nil)
		},
	}, client, collector, logging.GetGlobalLogger())

	_, err := failing.Call(ctx, Request{})
	require.Error(t, err)

	free := WithQuota(&fakeInvoker{
		name: "attom",
		callFn: func(ctx context.Context, req Request) (*Result, error) {
			return &Result{Provider: "attom", CostCents: 0}, nil
		},
	}, client, collector, logging.GetGlobalLogger())

	_, err = free.Call(ctx, Request{})
	require.NoError(t, err)

	total, err := client.GetQuota(ctx, "attom")
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestQuotaInvokerWithoutRedis(t *testing.T) {
	inv := WithQuota(&fakeInvoker{
		name: "attom",
		callFn: func(ctx context.Context, req Request) (*Result, error) {
			return &Result{Provider: "attom", CostCents: 25}, nil
		},
	}, nil, metrics.NewCollector(), logging.GetGlobalLogger())

	result, err := inv.Call(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, int64(25), result.CostCents)
}
