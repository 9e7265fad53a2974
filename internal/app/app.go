// Package app wires the service together: storage, Redis, providers,
// the enrichment call path, the backfill runner, the webhook delivery
// engine and the admin HTTP surface.
package app

import (
	"context"
	"fmt"

	"lead-enricher/internal/backfill"
	"lead-enricher/internal/cache"
	"lead-enricher/internal/circuitbreaker"
	"lead-enricher/internal/common/logging"
	"lead-enricher/internal/common/ratelimit"
	"lead-enricher/internal/config"
	"lead-enricher/internal/enrichment"
	"lead-enricher/internal/handlers"
	"lead-enricher/internal/idempotency"
	"lead-enricher/internal/locks"
	"lead-enricher/internal/metrics"
	"lead-enricher/internal/providers"
	"lead-enricher/internal/redis"
	"lead-enricher/internal/storage"
	"lead-enricher/internal/webhooks"
)

// App holds all the application dependencies.
type App struct {
	Config       *config.Config
	Storage      storage.Storage
	RedisClient  *redis.Client
	Locks        *locks.Manager
	Collector    *metrics.Collector
	Breakers     *circuitbreaker.Manager
	Registry     *providers.Registry
	Orchestrator *enrichment.Orchestrator
	Runner       *backfill.Runner
	Scheduler    *backfill.Scheduler
	Deliveries   *webhooks.Service
	History      *webhooks.History
	Handlers     *handlers.Handlers
	RateLimiter  *ratelimit.Limiter
	Logger       logging.Logger
}

// New creates an application instance with all dependencies wired in
// dependency order.
func New(cfg *config.Config) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "app"}),
	}

	if err := app.initializeStorage(); err != nil {
		return nil, err
	}

	if err := app.initializeRedis(); err != nil {
		// Redis is optional; without it locks and quota stay in-process
		app.Logger.Warn("Redis initialization failed, continuing without Redis",
			logging.Field{Key: "error", Value: err.Error()})
	}

	if app.RedisClient != nil {
		app.Locks = locks.NewManager(app.RedisClient)
	} else {
		app.Locks = locks.NewManager(nil)
	}
	app.Collector = metrics.NewCollector()
	app.Breakers = circuitbreaker.NewManager(app.Logger)
	app.RateLimiter = ratelimit.NewLimiter(ratelimit.DefaultConfig())

	app.initializeProviders()
	app.initializeDelivery()
	app.initializeEnrichment()
	if err := app.initializeBackfill(); err != nil {
		return nil, err
	}

	app.Handlers = handlers.New(
		app.Storage,
		app.Orchestrator,
		app.Runner,
		app.Deliveries,
		app.History,
		app.Collector,
		app.Breakers,
		logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "handlers"}),
	)

	return app, nil
}

func (app *App) initializeProviders() {
	registry := providers.NewRegistry()
	logger := logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "providers"})

	if app.Config.AttomAPIKey != "" {
		property, err := providers.NewPropertyClient(providers.PropertyConfig{
			BaseURL: app.Config.AttomBaseURL,
			APIKey:  app.Config.AttomAPIKey,
			Timeout: app.Config.GetProviderTimeout(),
		}, logger)
		if err != nil {
			app.Logger.Warn("property provider not configured",
				logging.Field{Key: "error", Value: err.Error()})
		} else {
			registry.Register(app.wrapInvoker(property))
		}
	}

	if app.Config.SkipTraceAPIKey != "" && app.Config.SkipTraceBaseURL != "" {
		skiptrace, err := providers.NewSkipTraceClient(providers.SkipTraceConfig{
			BaseURL: app.Config.SkipTraceBaseURL,
			APIKey:  app.Config.SkipTraceAPIKey,
			Timeout: app.Config.GetProviderTimeout(),
		}, logger)
		if err != nil {
			app.Logger.Warn("skip-trace provider not configured",
				logging.Field{Key: "error", Value: err.Error()})
		} else {
			registry.Register(app.wrapInvoker(skiptrace))
		}
	}

	app.Registry = registry
	app.Logger.Info("Providers registered",
		logging.Field{Key: "providers", Value: registry.Names()})
}

// wrapInvoker layers the breaker and quota middleware around a raw
// provider client. Order matters: the breaker sees every call, the
// quota counter only bills calls that actually reached the provider.
func (app *App) wrapInvoker(inv providers.Invoker) providers.Invoker {
	quota := providers.WithQuota(inv, app.RedisClient, app.Collector,
		logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "quota"}))
	return providers.WithBreaker(quota, app.Breakers)
}

func (app *App) initializeDelivery() {
	deliveryConfig := webhooks.DefaultConfig()
	deliveryConfig.MaxAttempts = app.Config.GetDeliveryMaxAttempts()
	deliveryConfig.Workers = app.Config.GetDeliveryWorkers()
	deliveryConfig.RequestTimeout = app.Config.GetWebhookTimeout()

	app.Deliveries = webhooks.NewService(app.Storage, app.Breakers, app.Collector, deliveryConfig,
		logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "delivery"}))
	app.History = webhooks.NewHistory(app.Storage)
}

func (app *App) initializeEnrichment() {
	logger := logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "enrichment"})

	app.Orchestrator = enrichment.NewOrchestrator(
		idempotency.NewKeyComputer(),
		cache.NewResultCache(app.Storage, logger),
		app.Registry,
		app.Deliveries,
		app.Collector,
		enrichment.Config{
			CacheTTL:         app.Config.GetCacheTTL(),
			NegativeCacheTTL: app.Config.GetNegativeCacheTTL(),
		},
		logger,
	)
}

func (app *App) initializeBackfill() error {
	logger := logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "backfill"})

	runnerConfig := backfill.DefaultConfig()
	runnerConfig.RetryBudget = app.Config.GetBackfillRetryBudget()
	runnerConfig.SubjectRetries = app.Config.GetBackfillSubjectRetries()

	app.Runner = backfill.NewRunner(app.Storage, app.Orchestrator, app.Locks, app.Deliveries, runnerConfig, logger)
	app.Scheduler = backfill.NewScheduler(app.Runner, logger)

	if app.Config.BackfillCron != "" {
		source := backfill.NewFileSubjectSource(app.Config.BackfillSubjectsFile)
		if _, err := app.Scheduler.Register(app.Config.BackfillCron, app.Config.BackfillCronName, source); err != nil {
			return fmt.Errorf("invalid BACKFILL_CRON %q: %w", app.Config.BackfillCron, err)
		}
		logger.Info("recurring backfill registered",
			logging.Field{Key: "cron", Value: app.Config.BackfillCron},
			logging.Field{Key: "name", Value: app.Config.BackfillCronName},
			logging.Field{Key: "subjects_file", Value: app.Config.BackfillSubjectsFile},
		)
	}
	app.Scheduler.Start()

	return nil
}

// Shutdown stops background work: the scheduler, then active runs, then
// the delivery queue so already-created attempts drain.
func (app *App) Shutdown(ctx context.Context) error {
	if app.Scheduler != nil {
		app.Scheduler.Stop()
	}
	if app.Deliveries != nil {
		app.Deliveries.Close()
	}
	return nil
}

// Cleanup releases all resources.
func (app *App) Cleanup() {
	if app.Locks != nil {
		_ = app.Locks.Close()
	}
	if app.Storage != nil {
		_ = app.Storage.Close()
	}
	if app.RedisClient != nil {
		_ = app.RedisClient.Close()
	}
}
