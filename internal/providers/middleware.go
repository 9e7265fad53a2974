package providers

import (
	"context"

	"lead-enricher/internal/circuitbreaker"
	"lead-enricher/internal/common/logging"
	"lead-enricher/internal/metrics"
	"lead-enricher/internal/redis"
)

// BreakerInvoker guards an invoker with a circuit breaker. While the
// breaker is open every call is rejected as a transient provider failure
// without spending against the upstream.
type BreakerInvoker struct {
	next    Invoker
	breaker *circuitbreaker.Breaker
}

// WithBreaker wraps an invoker in a circuit breaker.
func WithBreaker(next Invoker, manager *circuitbreaker.Manager) *BreakerInvoker {
	return &BreakerInvoker{
		next:    next,
		breaker: manager.GetOrCreate(next.Name(), circuitbreaker.ProviderConfig),
	}
}

// Name implements Invoker.
func (b *BreakerInvoker) Name() string { return b.next.Name() }

// Call implements Invoker.
func (b *BreakerInvoker) Call(ctx context.Context, req Request) (*Result, error) {
	result, err := b.breaker.Execute(ctx, func() (interface{}, error) {
		return b.next.Call(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Result), nil
}

// QuotaInvoker counts billed calls against the provider's monthly quota in
// Redis and mirrors the running total into the metrics gauges. Quota
// accounting is best effort; a Redis failure never fails the call.
type QuotaInvoker struct {
	next      Invoker
	redis     *redis.Client
	collector *metrics.Collector
	logger    logging.Logger
}

// WithQuota wraps an invoker with quota accounting. Pass a nil client to
// disable Redis-backed counting (local development without Redis).
func WithQuota(next Invoker, client *redis.Client, collector *metrics.Collector, logger logging.Logger) *QuotaInvoker {
	return &QuotaInvoker{
		next:      next,
		redis:     client,
		collector: collector,
		logger:    logger,
	}
}

// Name implements Invoker.
func (q *QuotaInvoker) Name() string { return q.next.Name() }

// Call implements Invoker.
func (q *QuotaInvoker) Call(ctx context.Context, req Request) (*Result, error) {
	result, err := q.next.Call(ctx, req)
	if err != nil {
		return nil, err
	}

	if q.redis != nil && result.CostCents > 0 {
		total, quotaErr := q.redis.IncrQuota(ctx, q.Name(), 1)
		if quotaErr != nil {
			q.logger.Warn("failed to record provider quota usage",
				logging.Field{Key: "provider", Value: q.Name()},
				logging.Err(quotaErr),
			)
		} else if q.collector != nil {
			q.collector.SetQuotaUsage(q.Name(), total)
		}
	}

	return result, nil
}
