// Command worker runs the offline classification pipeline: the scheduled
// drain of pending URLs and, when configured, periodic drift resampling.
// It refuses to start without the offline model artifacts.
//
// Usage: worker [-config config.yaml] [-once] [-reclassify]
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/shortguard/shortguard/internal/app"
	"github.com/shortguard/shortguard/internal/config"
	"github.com/shortguard/shortguard/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration")
	once := flag.Bool("once", false, "run a single pending batch and exit")
	reclassify := flag.Bool("reclassify", false, "with -once, run the drift resample batch instead")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	logger := logging.NewStdoutLogger("worker")

	a, err := app.New(cfg, logger)
	if err != nil {
		log.Fatalf("initializing application: %v", err)
	}
	defer a.Close()

	if err := a.WithWorker(); err != nil {
		log.Fatalf("initializing offline pipeline: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *once {
		run := a.Orchestrator.ClassifyPendingBatch
		if *reclassify {
			run = a.Orchestrator.ReclassifySampleBatch
		}
		report, err := run(ctx)
		if err != nil {
			log.Fatalf("batch run: %v", err)
		}
		logger.Info("batch report",
			logging.Field{Key: "total_processed", Value: report.TotalProcessed},
			logging.Field{Key: "safe_count", Value: report.SafeCount},
			logging.Field{Key: "malicious_count", Value: report.MaliciousCount},
			logging.Field{Key: "error_count", Value: report.ErrorCount},
			logging.Field{Key: "success_rate", Value: report.SuccessRate()},
		)
		return
	}

	a.Scheduler.Start()
	logger.Info("worker running",
		logging.Field{Key: "interval_hours", Value: cfg.Worker.IntervalHours},
		logging.Field{Key: "reclassify_cron", Value: cfg.Worker.ReclassifyCron},
	)

	<-ctx.Done()
	logger.Info("shutting down")
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if env := os.Getenv("SHORTGUARD_CONFIG"); env != "" {
			path = env
		}
	}
	if path == "" {
		cfg := config.Default()
		return &cfg, cfg.Validate()
	}
	return config.Load(path)
}
