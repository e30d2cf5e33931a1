// Package batch drives offline (re)classification: draining pending URLs
// through the slow classifier tier on a schedule, resampling settled URLs
// for drift, and tracking on-demand runs as cancellable jobs.
package batch

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shortguard/shortguard/internal/interfaces"
	"github.com/shortguard/shortguard/internal/logging"
	"github.com/shortguard/shortguard/internal/model"
	"github.com/shortguard/shortguard/internal/store"
)

// Config bounds one batch run.
type Config struct {
	// BatchSize is the maximum number of URLs drained per run.
	BatchSize int

	// SoftTimeLimit stops taking new items once exceeded; the current
	// item finishes and the run ends cleanly. Zero disables it.
	SoftTimeLimit time.Duration

	// HardTimeLimit cancels the run's context outright. Must be at least
	// the soft limit. Zero disables it.
	HardTimeLimit time.Duration

	// MaxRetries and RetryDelay govern run-level retry, which applies
	// only when a run fails before processing its first item (for
	// example a missing model artifact). Once item processing begins,
	// failed items wait for the next scheduled run instead.
	MaxRetries int
	RetryDelay time.Duration

	// SamplePercent is the share of settled URLs re-examined by
	// ReclassifySampleBatch, in (0, 100].
	SamplePercent float64
}

// Orchestrator runs batches of classification work against the store. The
// classifier handle is constructed once per process and shared read-only
// across runs.
type Orchestrator struct {
	cfg    Config
	store  *store.Store
	deep   interfaces.Classifier
	logger logging.Logger

	jobs *jobTracker
}

func NewOrchestrator(cfg Config, st *store.Store, deep interfaces.Classifier, logger logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewStdoutLogger("batch")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Orchestrator{
		cfg:    cfg,
		store:  st,
		deep:   deep,
		logger: logger,
		jobs:   newJobTracker(),
	}
}

// ClassifyPendingBatch drains up to BatchSize pending URLs through the slow
// tier. Per-item failures are isolated into the report; the run only errors
// as a whole when it could not start, and such failures are retried with a
// fixed delay up to MaxRetries.
func (o *Orchestrator) ClassifyPendingBatch(ctx context.Context) (*model.BatchReport, error) {
	return o.runWithRetry(ctx, "classify_pending_batch", o.fetchPending)
}

// ReclassifySampleBatch re-runs the slow tier over a sample of already
// settled URLs, oldest scan first, for drift detection. Sample size is
// SamplePercent of the settled population, capped at BatchSize.
func (o *Orchestrator) ReclassifySampleBatch(ctx context.Context) (*model.BatchReport, error) {
	return o.runWithRetry(ctx, "reclassify_sample_batch", o.fetchSample)
}

type fetchFunc func(ctx context.Context) ([]model.Url, error)

func (o *Orchestrator) runWithRetry(ctx context.Context, name string, fetch fetchFunc) (*model.BatchReport, error) {
	attempt := 0
	for {
		report, started, err := o.runOnce(ctx, name, fetch)
		if err == nil || started {
			// Once item processing has begun, failed or unprocessed items
			// wait for the next scheduled run; no in-run retry.
			return report, err
		}
		if attempt >= o.cfg.MaxRetries {
			return nil, err
		}
		attempt++
		o.logger.Warn("batch run failed before processing, retrying",
			logging.Field{Key: "job", Value: name},
			logging.Field{Key: "attempt", Value: attempt},
			logging.Field{Key: "error", Value: err.Error()},
		)
		select {
		case <-time.After(o.cfg.RetryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// runOnce performs a single batch pass. started reports whether any item
// processing began, which decides retry eligibility upstream.
func (o *Orchestrator) runOnce(ctx context.Context, name string, fetch fetchFunc) (report *model.BatchReport, started bool, err error) {
	start := time.Now()
	report = &model.BatchReport{}

	if o.deep == nil {
		return nil, false, fmt.Errorf("%s: no offline classifier configured", name)
	}

	if o.cfg.HardTimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.HardTimeLimit)
		defer cancel()
	}
	var softC <-chan time.Time
	if o.cfg.SoftTimeLimit > 0 {
		softTimer := time.NewTimer(o.cfg.SoftTimeLimit)
		defer softTimer.Stop()
		softC = softTimer.C
	}

	urls, err := fetch(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("%s: fetching batch: %w", name, err)
	}
	o.logger.Info("batch fetched",
		logging.Field{Key: "job", Value: name},
		logging.Field{Key: "count", Value: len(urls)},
	)

	for _, u := range urls {
		if ctx.Err() != nil {
			// Hard limit or caller cancellation. Items already committed
			// stay committed; the rest wait for the next run.
			o.logger.Warn("batch interrupted",
				logging.Field{Key: "job", Value: name},
				logging.Field{Key: "error", Value: ctx.Err().Error()},
			)
			break
		}
		if softC != nil {
			softExpired := false
			select {
			case <-softC:
				softExpired = true
			default:
			}
			if softExpired {
				o.logger.Warn("batch soft time limit reached, stopping early",
					logging.Field{Key: "job", Value: name},
					logging.Field{Key: "processed", Value: report.TotalProcessed},
				)
				break
			}
		}

		started = true
		o.processItem(ctx, u, report)
	}

	report.ProcessingTimeMS = float64(time.Since(start)) / float64(time.Millisecond)
	o.logger.Info("batch completed",
		logging.Field{Key: "job", Value: name},
		logging.Field{Key: "total_processed", Value: report.TotalProcessed},
		logging.Field{Key: "safe_count", Value: report.SafeCount},
		logging.Field{Key: "malicious_count", Value: report.MaliciousCount},
		logging.Field{Key: "error_count", Value: report.ErrorCount},
		logging.Field{Key: "processing_time_ms", Value: report.ProcessingTimeMS},
		logging.Field{Key: "success_rate", Value: report.SuccessRate()},
	)
	return report, started, nil
}

// processItem runs the read-classify-write sequence for one URL. Any error
// is recorded against the short code and leaves its safety status untouched;
// partial failure never aborts the batch.
func (o *Orchestrator) processItem(ctx context.Context, u model.Url, report *model.BatchReport) {
	report.TotalProcessed++

	result, latencyMS, err := o.classify(ctx, u.LongURL)
	if err != nil {
		o.logger.Warn("url classification failed",
			logging.Field{Key: "short_code", Value: u.ShortCode},
			logging.Field{Key: "error", Value: err.Error()},
		)
		report.AddError(u.ShortCode, err.Error())
		// the failure is history, not a verdict
		failure := model.ClassificationFailure(o.deep.Key(), err.Error(), latencyMS)
		if herr := o.store.AddClassification(ctx, u.ShortCode, failure); herr != nil {
			o.logger.Error("recording failure result",
				logging.Field{Key: "short_code", Value: u.ShortCode},
				logging.Field{Key: "error", Value: herr.Error()},
			)
		}
		return
	}

	applied := model.ClassificationFromClassifier(*result, latencyMS)
	if err := o.store.AddClassification(ctx, u.ShortCode, applied); err != nil {
		report.AddError(u.ShortCode, fmt.Sprintf("storing result: %v", err))
		return
	}
	if _, err := o.store.SetSafetyStatus(ctx, u.ShortCode, result.Status, result.ThreatScore, result.ClassifierID); err != nil {
		report.AddError(u.ShortCode, fmt.Sprintf("applying status: %v", err))
		return
	}

	if result.IsMalicious() {
		if _, err := o.store.Disable(ctx, u.ShortCode); err != nil {
			report.AddError(u.ShortCode, fmt.Sprintf("disabling url: %v", err))
			return
		}
		report.MaliciousCount++
		o.logger.Info("url classified as malicious",
			logging.Field{Key: "short_code", Value: u.ShortCode},
			logging.Field{Key: "threat_score", Value: result.ThreatScore},
			logging.Field{Key: "url_disabled", Value: true},
		)
	} else {
		report.SafeCount++
		o.logger.Debug("url classified",
			logging.Field{Key: "short_code", Value: u.ShortCode},
			logging.Field{Key: "status", Value: string(result.Status)},
			logging.Field{Key: "threat_score", Value: result.ThreatScore},
		)
	}
}

// classify wraps the slow tier call, converting panics into errors so one
// broken input cannot take down the whole batch.
func (o *Orchestrator) classify(ctx context.Context, url string) (result *model.ClassifierResult, latencyMS *float64, err error) {
	start := time.Now()
	defer func() {
		latency := float64(time.Since(start)) / float64(time.Millisecond)
		latencyMS = &latency
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("unexpected classifier panic: %v", r)
		}
	}()
	res, cerr := o.deep.Classify(ctx, url)
	if cerr != nil {
		return nil, nil, cerr
	}
	return &res, nil, nil
}

func (o *Orchestrator) fetchPending(ctx context.Context) ([]model.Url, error) {
	return o.store.GetPendingURLs(ctx, o.cfg.BatchSize, "")
}

// fetchSample sizes the drift sample from the settled population and takes
// the least recently scanned rows of each settled state.
func (o *Orchestrator) fetchSample(ctx context.Context) ([]model.Url, error) {
	pct := o.cfg.SamplePercent
	if pct <= 0 {
		return nil, nil
	}

	settled := []model.SafetyStatus{model.SafetySafe, model.SafetySuspicious, model.SafetyMalicious}
	total := 0
	for _, status := range settled {
		n, err := o.store.CountBySafetyStatus(ctx, status)
		if err != nil {
			return nil, err
		}
		total += n
	}
	if total == 0 {
		return nil, nil
	}

	limit := int(math.Ceil(float64(total) * pct / 100.0))
	if limit > o.cfg.BatchSize {
		limit = o.cfg.BatchSize
	}

	var sample []model.Url
	for _, status := range settled {
		if len(sample) >= limit {
			break
		}
		urls, err := o.store.GetBySafetyStatus(ctx, store.StatusQuery{
			Status:    status,
			Limit:     limit - len(sample),
			SortOrder: "asc",
		})
		if err != nil {
			return nil, err
		}
		sample = append(sample, urls...)
	}
	return sample, nil
}
