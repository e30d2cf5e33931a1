package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/shortguard/shortguard/internal/logging"
)

// Scheduler runs batch jobs on fixed intervals and cron expressions.
// Every registered slot runs in singleton mode so a long batch never
// overlaps its own next tick.
type Scheduler struct {
	s      *gocron.Scheduler
	logger logging.Logger
}

func NewScheduler(logger logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewStdoutLogger("scheduler")
	}
	return &Scheduler{
		s:      gocron.NewScheduler(time.UTC),
		logger: logger,
	}
}

// EveryHours registers task to run every n hours.
func (sc *Scheduler) EveryHours(n int, name string, task func()) error {
	if n <= 0 {
		return fmt.Errorf("schedule %q: interval must be positive, got %d", name, n)
	}
	_, err := sc.s.Every(n).Hours().SingletonMode().Do(sc.wrap(name, task))
	if err != nil {
		return fmt.Errorf("scheduling %q: %w", name, err)
	}
	return nil
}

// Cron registers task under a standard five-field cron expression.
func (sc *Scheduler) Cron(expr, name string, task func()) error {
	_, err := sc.s.Cron(expr).SingletonMode().Do(sc.wrap(name, task))
	if err != nil {
		return fmt.Errorf("scheduling %q (%s): %w", name, expr, err)
	}
	return nil
}

// RegisterBatches wires the two standing jobs: draining pending URLs every
// intervalHours and, when reclassifyCron is non-empty, drift resampling on
// that cron expression.
func (sc *Scheduler) RegisterBatches(o *Orchestrator, intervalHours int, reclassifyCron string) error {
	err := sc.EveryHours(intervalHours, "classify_pending_batch", func() {
		if _, err := o.ClassifyPendingBatch(context.Background()); err != nil {
			sc.logger.Error("scheduled pending batch failed",
				logging.Field{Key: "error", Value: err.Error()},
			)
		}
	})
	if err != nil {
		return err
	}
	if reclassifyCron == "" {
		return nil
	}
	return sc.Cron(reclassifyCron, "reclassify_sample_batch", func() {
		if _, err := o.ReclassifySampleBatch(context.Background()); err != nil {
			sc.logger.Error("scheduled reclassification failed",
				logging.Field{Key: "error", Value: err.Error()},
			)
		}
	})
}

func (sc *Scheduler) wrap(name string, task func()) func() {
	return func() {
		sc.logger.Info("scheduled job firing", logging.Field{Key: "job", Value: name})
		task()
	}
}

// Start begins executing schedules without blocking.
func (sc *Scheduler) Start() {
	sc.s.StartAsync()
}

// Stop halts scheduling and waits for running jobs to return.
func (sc *Scheduler) Stop() {
	sc.s.Stop()
}
