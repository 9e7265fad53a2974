// Package enrichment composes the key computer, result cache, single
// flight gate and provider invokers into the service's primary call path.
package enrichment

import (
	"context"
	"time"

	"lead-enricher/internal/cache"
	"lead-enricher/internal/common/errors"
	"lead-enricher/internal/common/logging"
	"lead-enricher/internal/idempotency"
	"lead-enricher/internal/metrics"
	"lead-enricher/internal/providers"
	"lead-enricher/internal/singleflight"
	"lead-enricher/internal/storage"
	"lead-enricher/internal/webhooks"
)

// Source values on an Outcome.
const (
	SourceCache    = "cache"
	SourceProvider = "provider"
)

// Request is one enrichment call.
type Request struct {
	SubjectID      string `json:"subject_id"`
	Street         string `json:"street"`
	City           string `json:"city"`
	State          string `json:"state"`
	Zip            string `json:"zip"`
	OwnerFirstName string `json:"owner_first_name,omitempty"`
	OwnerLastName  string `json:"owner_last_name,omitempty"`
	Provider       string `json:"provider,omitempty"`

	// NotifyFailure requests an enrichment.failed event on provider failure.
	NotifyFailure bool `json:"notify_failure,omitempty"`
}

// Outcome is the result of one enrichment call. A cached answer costs
// nothing; only fresh provider calls carry cost.
type Outcome struct {
	Key       string            `json:"key"`
	Source    string            `json:"source"`
	Provider  string            `json:"provider"`
	Contacts  []storage.Contact `json:"contacts"`
	CostCents int64             `json:"cost_cents"`
	NotFound  bool              `json:"not_found"`
}

// EventPublisher is where the orchestrator emits domain events. The
// webhook delivery service implements it.
type EventPublisher interface {
	Publish(ctx context.Context, event webhooks.Event) error
}

// Config holds the orchestrator's tunables.
type Config struct {
	DefaultProvider  string
	CacheTTL         time.Duration
	NegativeCacheTTL time.Duration
}

// Orchestrator is the primary enrichment entry point.
type Orchestrator struct {
	keys      *idempotency.KeyComputer
	cache     *cache.ResultCache
	gate      *singleflight.Gate
	registry  *providers.Registry
	publisher EventPublisher
	collector *metrics.Collector
	config    Config
	logger    logging.Logger
}

// NewOrchestrator wires the call path together. publisher may be nil when
// no delivery engine is configured.
func NewOrchestrator(
	keys *idempotency.KeyComputer,
	resultCache *cache.ResultCache,
	registry *providers.Registry,
	publisher EventPublisher,
	collector *metrics.Collector,
	config Config,
	logger logging.Logger,
) *Orchestrator {
	if config.DefaultProvider == "" {
		config.DefaultProvider = providers.PropertyName
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = 30 * 24 * time.Hour
	}
	if config.NegativeCacheTTL == 0 {
		config.NegativeCacheTTL = 7 * 24 * time.Hour
	}

	return &Orchestrator{
		keys:      keys,
		cache:     resultCache,
		gate:      singleflight.NewGate(),
		registry:  registry,
		publisher: publisher,
		collector: collector,
		config:    config,
		logger:    logger,
	}
}

// Enrich runs the full call path: compute the idempotency key, consult the
// result cache, and on a miss collapse concurrent callers into a single
// provider call whose outcome is cached and shared. Provider failures are
// never cached; a provider miss is cached as a negative result so the
// subject is not re-billed within the negative TTL.
func (o *Orchestrator) Enrich(ctx context.Context, req Request) (*Outcome, error) {
	provider := req.Provider
	if provider == "" {
		provider = o.config.DefaultProvider
	}

	key, err := o.keys.ComputeKey(idempotency.Subject{
		Street:         req.Street,
		City:           req.City,
		State:          req.State,
		Zip:            req.Zip,
		OwnerFirstName: req.OwnerFirstName,
		OwnerLastName:  req.OwnerLastName,
		Provider:       provider,
	})
	if err != nil {
		return nil, err
	}

	row, err := o.cache.Lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	if row != nil {
		o.collector.ObserveCacheHit()
		return &Outcome{
			Key:      key,
			Source:   SourceCache,
			Provider: row.Provider,
			Contacts: row.Contacts,
			NotFound: row.NotFound,
		}, nil
	}

	o.collector.ObserveCacheMiss()

	res, err := o.gate.Do(ctx, key, func() (interface{}, error) {
		return o.invoke(ctx, key, provider, req)
	})
	if err != nil {
		// follower wait cancelled; the leader's call continues
		return nil, err
	}
	if res.Err != nil {
		return nil, res.Err
	}

	return res.Value.(*Outcome), nil
}

// invoke is the leader-side provider call.
func (o *Orchestrator) invoke(ctx context.Context, key, provider string, req Request) (*Outcome, error) {
	invoker, err := o.registry.Get(provider)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := invoker.Call(ctx, providers.Request{
		SubjectID:      req.SubjectID,
		Street:         req.Street,
		City:           req.City,
		State:          req.State,
		Zip:            req.Zip,
		OwnerFirstName: req.OwnerFirstName,
		OwnerLastName:  req.OwnerLastName,
		Provider:       provider,
	})
	latency := time.Since(start)

	if err != nil {
		if errors.IsType(err, errors.ErrTypeProviderNotFound) {
			// a miss is an answer; cache it so the subject is not re-billed
			o.collector.ObserveRequest(provider, latency, 0)
			if _, storeErr := o.cache.Store(ctx, key, req.SubjectID, provider, nil, 0, true, o.config.NegativeCacheTTL); storeErr != nil {
				o.logger.Error("failed to store negative cache entry", storeErr,
					logging.Field{Key: "key", Value: key})
			}
			o.notifyFailure(ctx, req, key, provider, err)
			return &Outcome{
				Key:      key,
				Source:   SourceProvider,
				Provider: provider,
				NotFound: true,
			}, nil
		}

		o.collector.ObserveError(provider, string(errors.GetType(err)))
		o.notifyFailure(ctx, req, key, provider, err)
		return nil, err
	}

	o.collector.ObserveRequest(provider, latency, result.CostCents)

	if _, err := o.cache.Store(ctx, key, req.SubjectID, provider, result.Contacts, result.CostCents, false, o.config.CacheTTL); err != nil {
		return nil, err
	}

	o.publish(ctx, webhooks.NewEvent(webhooks.EventEnrichmentCompleted, req.SubjectID, map[string]interface{}{
		"key":        key,
		"provider":   provider,
		"cost_cents": result.CostCents,
		"contacts":   len(result.Contacts),
	}))

	return &Outcome{
		Key:       key,
		Source:    SourceProvider,
		Provider:  provider,
		Contacts:  result.Contacts,
		CostCents: result.CostCents,
	}, nil
}

func (o *Orchestrator) notifyFailure(ctx context.Context, req Request, key, provider string, cause error) {
	if !req.NotifyFailure {
		return
	}
	o.publish(ctx, webhooks.NewEvent(webhooks.EventEnrichmentFailed, req.SubjectID, map[string]interface{}{
		"key":         key,
		"provider":    provider,
		"error_class": string(errors.GetType(cause)),
	}))
}

func (o *Orchestrator) publish(ctx context.Context, event webhooks.Event) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.Publish(ctx, event); err != nil {
		o.logger.WithContext(ctx).Error("failed to publish event", err,
			logging.Field{Key: "event_type", Value: event.Type},
			logging.Field{Key: "subject_id", Value: event.SubjectID},
		)
	}
}
