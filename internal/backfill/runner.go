// Package backfill drives the enrichment orchestrator over bounded
// batches of subjects. Run state is persisted after every subject so a
// killed process can resume a run without re-billing finished subjects,
// and a retry budget caps spend on a flaky provider.
package backfill

import (
	"context"
	"fmt"
	"sync"
	"time"

	"lead-enricher/internal/common/errors"
	"lead-enricher/internal/common/logging"
	"lead-enricher/internal/common/utils"
	"lead-enricher/internal/enrichment"
	"lead-enricher/internal/locks"
	"lead-enricher/internal/storage"
	"lead-enricher/internal/webhooks"
)

// lockExpiration is the run-lock TTL; the lock manager renews it while
// the runner is alive.
const lockExpiration = 30 * time.Second

// Enricher is the slice of the orchestrator the runner needs.
type Enricher interface {
	Enrich(ctx context.Context, req enrichment.Request) (*enrichment.Outcome, error)
}

// EventPublisher emits the terminal run event; may be nil.
type EventPublisher interface {
	Publish(ctx context.Context, event webhooks.Event) error
}

// Config holds the runner's tunables.
type Config struct {
	// RetryBudget is the run-wide number of retryable failures allowed
	// before the run aborts.
	RetryBudget int
	// SubjectRetries is the attempt cap per subject before it is skipped.
	SubjectRetries int
	// RetryDelay shapes the backoff between subject retries.
	RetryDelay utils.RetryConfig
}

// DefaultConfig returns the standard runner configuration.
func DefaultConfig() Config {
	return Config{
		RetryBudget:    25,
		SubjectRetries: 3,
		RetryDelay: utils.RetryConfig{
			InitialDelay:  time.Second,
			MaxDelay:      30 * time.Second,
			BackoffFactor: 2.0,
			JitterFactor:  0.1,
		},
	}
}

// Runner executes backfill runs. One active runner per runId is enforced
// through the lock manager; a second start for the same runId fails
// until the first finishes.
type Runner struct {
	store     storage.Storage
	enricher  Enricher
	locks     *locks.Manager
	publisher EventPublisher
	config    Config
	logger    logging.Logger

	mu     sync.Mutex
	stops  map[string]context.CancelFunc
	active map[string]bool
}

// NewRunner creates a Runner.
func NewRunner(store storage.Storage, enricher Enricher, lockManager *locks.Manager, publisher EventPublisher, config Config, logger logging.Logger) *Runner {
	if config.RetryBudget == 0 {
		config.RetryBudget = 25
	}
	if config.SubjectRetries == 0 {
		config.SubjectRetries = 3
	}
	if config.RetryDelay.InitialDelay == 0 {
		config.RetryDelay = DefaultConfig().RetryDelay
	}

	return &Runner{
		store:     store,
		enricher:  enricher,
		locks:     lockManager,
		publisher: publisher,
		config:    config,
		logger:    logger,
		stops:     make(map[string]context.CancelFunc),
		active:    make(map[string]bool),
	}
}

// sessionStats tallies work done in this process; processed counts come
// from the durable state so resumed runs report the full total.
type sessionStats struct {
	cacheHits     int
	providerCalls int
	costCents     int64
	errorClasses  map[string]int
}

// Run starts or resumes the run identified by runID over the subject
// batch. Already-processed subjects are skipped without touching the
// provider. Returns the terminal report when the run completes; a paused
// run (stop signal) returns the current state with a nil report.
func (r *Runner) Run(ctx context.Context, runID string, subjects []enrichment.Request) (*storage.RunReport, error) {
	if runID == "" {
		return nil, errors.ValidationError("runId is required")
	}

	lock, err := r.locks.AcquireLock(ctx, "backfill:"+runID, lockExpiration)
	if err != nil {
		return nil, errors.ConflictError(fmt.Sprintf("run %s already has an active runner", runID), err)
	}
	defer func() { _ = lock.Release(context.Background()) }()

	state, err := r.store.GetRunState(ctx, runID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = &storage.RunState{
			RunID:                runID,
			ProcessedIDs:         make(map[string]bool),
			SubjectAttempts:      make(map[string]int),
			RetryBudgetRemaining: r.config.RetryBudget,
			Status:               storage.RunStatusCreated,
			StartedAt:            time.Now().UTC(),
		}
	}

	switch state.Status {
	case storage.RunStatusCompleted:
		return r.store.GetRunReport(ctx, runID)
	case storage.RunStatusFailed:
		return nil, errors.ConflictError(fmt.Sprintf("run %s already failed (%s)", runID, state.LastErrorClass), nil)
	}

	runCtx, cancel := context.WithCancel(logging.ContextWithRunID(ctx, runID))
	r.mu.Lock()
	r.stops[runID] = cancel
	r.active[runID] = true
	r.mu.Unlock()
	defer func() {
		cancel()
		r.mu.Lock()
		delete(r.stops, runID)
		delete(r.active, runID)
		r.mu.Unlock()
	}()

	state.Status = storage.RunStatusRunning
	if err := r.saveState(ctx, state); err != nil {
		return nil, err
	}

	r.logger.Info("backfill run started",
		logging.Field{Key: "run_id", Value: runID},
		logging.Field{Key: "subjects", Value: len(subjects)},
		logging.Field{Key: "cursor", Value: state.Cursor},
	)

	stats := sessionStats{errorClasses: make(map[string]int)}

	for i := state.Cursor; i < len(subjects); i++ {
		if runCtx.Err() != nil {
			return nil, r.pause(state)
		}

		subject := subjects[i]
		if subject.SubjectID == "" {
			state.Cursor = i + 1
			continue
		}
		if state.IsProcessed(subject.SubjectID) {
			state.Cursor = i + 1
			continue
		}

		if err := r.processSubject(runCtx, state, subject, &stats); err != nil {
			if runCtx.Err() != nil && ctx.Err() == nil {
				// stop signal arrived mid-subject
				return nil, r.pause(state)
			}
			return nil, r.fail(state, err, &stats)
		}

		state.Cursor = i + 1
		if err := r.saveState(ctx, state); err != nil {
			return nil, err
		}
	}

	return r.complete(ctx, state, &stats)
}

// processSubject enriches one subject, retrying retryable failures up to
// the per-subject cap while the run budget lasts. The attempt counter is
// persisted so a resumed run keeps the budget honest.
func (r *Runner) processSubject(ctx context.Context, state *storage.RunState, subject enrichment.Request, stats *sessionStats) error {
	for {
		outcome, err := r.enricher.Enrich(ctx, subject)
		if err == nil {
			state.MarkProcessed(subject.SubjectID)
			if outcome.Source == enrichment.SourceCache {
				stats.cacheHits++
			} else {
				stats.providerCalls++
			}
			stats.costCents += outcome.CostCents
			return nil
		}

		class := string(errors.GetType(err))
		stats.errorClasses[class]++
		state.LastErrorClass = class

		switch {
		case errors.IsType(err, errors.ErrTypeProviderAuth):
			// credentials are run-fatal; every further call would fail too
			return err

		case errors.IsType(err, errors.ErrTypeInvalidInput):
			// malformed subject can never succeed; skip it, keep the run going
			r.logger.Warn("skipping malformed subject",
				logging.Field{Key: "run_id", Value: state.RunID},
				logging.Field{Key: "subject_id", Value: subject.SubjectID},
			)
			state.MarkProcessed(subject.SubjectID)
			return nil

		case errors.IsRetryable(err):
			if state.SubjectAttempts == nil {
				state.SubjectAttempts = make(map[string]int)
			}
			state.SubjectAttempts[subject.SubjectID]++
			attempts := state.SubjectAttempts[subject.SubjectID]

			state.RetryBudgetRemaining--
			if state.RetryBudgetRemaining <= 0 {
				return errors.InternalError(fmt.Sprintf("run %s retry budget exhausted", state.RunID), err)
			}

			if attempts >= r.config.SubjectRetries {
				// give up on this subject, leave it unprocessed for a later run
				r.logger.Warn("subject retry cap reached",
					logging.Field{Key: "run_id", Value: state.RunID},
					logging.Field{Key: "subject_id", Value: subject.SubjectID},
					logging.Field{Key: "attempts", Value: attempts},
				)
				return nil
			}

			if err := r.saveState(ctx, state); err != nil {
				return err
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.config.RetryDelay.DelayForAttempt(attempts)):
			}

		default:
			return err
		}
	}
}

// Stop signals the active runner for runID to pause after the in-flight
// subject. Returns false when no runner is active for the id.
func (r *Runner) Stop(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cancel, ok := r.stops[runID]
	if !ok {
		return false
	}
	cancel()
	return true
}

// IsActive reports whether a runner is currently executing runID.
func (r *Runner) IsActive(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[runID]
}

func (r *Runner) saveState(ctx context.Context, state *storage.RunState) error {
	state.UpdatedAt = time.Now().UTC()
	// state writes must survive a stop signal, so use a fresh context
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	return r.store.SaveRunState(ctx, state)
}

func (r *Runner) pause(state *storage.RunState) error {
	state.Status = storage.RunStatusPaused
	if err := r.saveState(context.Background(), state); err != nil {
		return err
	}
	r.logger.Info("backfill run paused",
		logging.Field{Key: "run_id", Value: state.RunID},
		logging.Field{Key: "cursor", Value: state.Cursor},
		logging.Field{Key: "processed", Value: len(state.ProcessedIDs)},
	)
	return nil
}

func (r *Runner) fail(state *storage.RunState, cause error, stats *sessionStats) error {
	state.Status = storage.RunStatusFailed
	state.LastErrorClass = string(errors.GetType(cause))
	if err := r.saveState(context.Background(), state); err != nil {
		r.logger.Error("failed to persist failed run state", err,
			logging.Field{Key: "run_id", Value: state.RunID})
	}

	report := r.buildReport(state, stats)
	if err := r.store.SaveRunReport(context.Background(), report); err != nil {
		r.logger.Error("failed to persist run report", err,
			logging.Field{Key: "run_id", Value: state.RunID})
	}

	r.logger.Error("backfill run failed", cause,
		logging.Field{Key: "run_id", Value: state.RunID},
		logging.Field{Key: "error_class", Value: state.LastErrorClass},
	)
	return cause
}

func (r *Runner) complete(ctx context.Context, state *storage.RunState, stats *sessionStats) (*storage.RunReport, error) {
	state.Status = storage.RunStatusCompleted
	if err := r.saveState(ctx, state); err != nil {
		return nil, err
	}

	report := r.buildReport(state, stats)
	if err := r.store.SaveRunReport(ctx, report); err != nil {
		return nil, err
	}

	if r.publisher != nil {
		event := webhooks.NewEvent(webhooks.EventBackfillCompleted, state.RunID, map[string]interface{}{
			"processed_count":  report.ProcessedCount,
			"total_cost_cents": report.TotalCostCents,
			"cache_hit_ratio":  report.CacheHitRatio,
		})
		if err := r.publisher.Publish(ctx, event); err != nil {
			r.logger.Error("failed to publish run event", err,
				logging.Field{Key: "run_id", Value: state.RunID})
		}
	}

	r.logger.Info("backfill run completed",
		logging.Field{Key: "run_id", Value: state.RunID},
		logging.Field{Key: "processed", Value: report.ProcessedCount},
		logging.Field{Key: "cost_cents", Value: report.TotalCostCents},
	)
	return report, nil
}

func (r *Runner) buildReport(state *storage.RunState, stats *sessionStats) *storage.RunReport {
	report := &storage.RunReport{
		RunID:          state.RunID,
		Status:         state.Status,
		ProcessedCount: len(state.ProcessedIDs),
		CacheHits:      stats.cacheHits,
		ProviderCalls:  stats.providerCalls,
		TotalCostCents: stats.costCents,
		ErrorClasses:   stats.errorClasses,
		StartedAt:      state.StartedAt,
		FinishedAt:     time.Now().UTC(),
	}
	if total := stats.cacheHits + stats.providerCalls; total > 0 {
		report.CacheHitRatio = float64(stats.cacheHits) / float64(total)
	}
	return report
}
