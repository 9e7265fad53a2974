package backfill

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"lead-enricher/internal/common/logging"
	"lead-enricher/internal/enrichment"
)

// SubjectSource supplies the subject batch for a scheduled run at tick
// time, so recurring backfills always see the current lead set.
type SubjectSource interface {
	Subjects(ctx context.Context) ([]enrichment.Request, error)
}

// SubjectSourceFunc adapts a function to SubjectSource.
type SubjectSourceFunc func(ctx context.Context) ([]enrichment.Request, error)

// Subjects implements SubjectSource.
func (f SubjectSourceFunc) Subjects(ctx context.Context) ([]enrichment.Request, error) {
	return f(ctx)
}

// Scheduler triggers recurring backfill runs on cron expressions. Each
// tick derives a date-stamped runId, so a tick that fires while the
// previous day's run is still active gets its own run instead of
// fighting over the lock.
type Scheduler struct {
	cron   *cron.Cron
	runner *Runner
	logger logging.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(runner *Runner, logger logging.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		runner: runner,
		logger: logger,
	}
}

// Register adds a recurring backfill under the given cron spec (standard
// 5-field format). name becomes the runId prefix.
func (s *Scheduler) Register(spec, name string, source SubjectSource) (cron.EntryID, error) {
	return s.cron.AddFunc(spec, func() {
		ctx := context.Background()
		runID := fmt.Sprintf("%s-%s", name, time.Now().UTC().Format("20060102"))

		subjects, err := source.Subjects(ctx)
		if err != nil {
			s.logger.Error("scheduled backfill could not load subjects", err,
				logging.Field{Key: "run_id", Value: runID})
			return
		}
		if len(subjects) == 0 {
			s.logger.Debug("scheduled backfill has no subjects",
				logging.Field{Key: "run_id", Value: runID})
			return
		}

		if _, err := s.runner.Run(ctx, runID, subjects); err != nil {
			s.logger.Error("scheduled backfill run failed", err,
				logging.Field{Key: "run_id", Value: runID})
		}
	})
}

// Start begins dispatching registered schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for in-flight jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
