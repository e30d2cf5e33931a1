// Package app assembles the application from configuration: storage, the
// classifier tiers, the shortening service and, for worker processes, the
// batch orchestrator and its schedules.
package app

import (
	"fmt"

	"github.com/shortguard/shortguard/internal/auth"
	"github.com/shortguard/shortguard/internal/batch"
	"github.com/shortguard/shortguard/internal/classifier"
	"github.com/shortguard/shortguard/internal/config"
	"github.com/shortguard/shortguard/internal/interfaces"
	"github.com/shortguard/shortguard/internal/logging"
	"github.com/shortguard/shortguard/internal/shortener"
	"github.com/shortguard/shortguard/internal/store"
)

// Application holds the wired components shared by the API server and the
// worker. Orchestrator and Scheduler are nil unless WithWorker ran.
type Application struct {
	Config *config.Config
	Logger logging.Logger

	Store     *store.Store
	Shortener *shortener.Service
	Auth      *auth.Authenticator

	Orchestrator *batch.Orchestrator
	Scheduler    *batch.Scheduler
}

// New wires storage, the request-path classifier tiers and the shortening
// service. The offline tier is attached separately by WithWorker.
func New(cfg *config.Config, logger logging.Logger) (*Application, error) {
	if logger == nil {
		logger = logging.NewStdoutLogger("app")
	}

	st, err := store.Open(cfg.Storage.Path, logger.With(logging.Field{Key: "component", Value: "store"}))
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	fast, err := buildFastTier(cfg.Classifier)
	if err != nil {
		st.Close()
		return nil, err
	}

	var authenticator *auth.Authenticator
	if cfg.Auth.Secret != "" {
		authenticator, err = auth.New(cfg.Auth.Secret, cfg.Auth.TokenTTL)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("configuring auth: %w", err)
		}
	}

	svc := shortener.NewService(st, fast, logger.With(logging.Field{Key: "component", Value: "shortener"}))

	return &Application{
		Config:    cfg,
		Logger:    logger,
		Store:     st,
		Shortener: svc,
		Auth:      authenticator,
	}, nil
}

// buildFastTier composes the request-path classifier from configuration.
// With neither patterns nor a linear model, request-path classification is
// off and every new URL starts pending.
func buildFastTier(cfg config.ClassifierConfig) (interfaces.Classifier, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var tiers []interfaces.Classifier

	if len(cfg.Patterns) > 0 {
		pc, err := classifier.NewPatternClassifier(cfg.Patterns)
		if err != nil {
			return nil, fmt.Errorf("building pattern classifier: %w", err)
		}
		tiers = append(tiers, pc)
	}
	if cfg.LinearModelPath != "" {
		lc, err := classifier.NewLinearClassifier(cfg.LinearModelPath, cfg.Threshold)
		if err != nil {
			return nil, fmt.Errorf("building linear classifier: %w", err)
		}
		tiers = append(tiers, lc)
	}

	switch len(tiers) {
	case 0:
		return nil, nil
	case 1:
		return tiers[0], nil
	default:
		return classifier.NewTiered(tiers...), nil
	}
}

// WithWorker attaches the offline classification pipeline: the deep
// classifier, the batch orchestrator and its standing schedules. Missing
// model artifacts are a hard error since the worker is useless without them.
func (a *Application) WithWorker() error {
	wc := a.Config.Worker
	deep, err := classifier.NewDeepClassifier(wc.DeepModelPath, wc.TokenizerPath)
	if err != nil {
		return fmt.Errorf("loading offline classifier: %w", err)
	}

	a.Orchestrator = batch.NewOrchestrator(batch.Config{
		BatchSize:     wc.BatchSize,
		SoftTimeLimit: wc.SoftTimeLimit,
		HardTimeLimit: wc.HardTimeLimit,
		MaxRetries:    wc.MaxRetries,
		RetryDelay:    wc.RetryDelay,
		SamplePercent: wc.SamplePercent,
	}, a.Store, deep, a.Logger.With(logging.Field{Key: "component", Value: "batch"}))

	a.Scheduler = batch.NewScheduler(a.Logger.With(logging.Field{Key: "component", Value: "scheduler"}))
	if err := a.Scheduler.RegisterBatches(a.Orchestrator, wc.IntervalHours, wc.ReclassifyCron); err != nil {
		return err
	}
	return nil
}

// Close releases resources in reverse dependency order. Safe to call more
// than once.
func (a *Application) Close() {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
		a.Scheduler = nil
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Warn("closing store", logging.Field{Key: "error", Value: err.Error()})
		}
		a.Store = nil
	}
}
