// Command apiserver runs the HTTP API: shortening, redirects and the
// management surface. When offline model artifacts are configured the job
// endpoints run batches on demand too; the standing schedules belong to the
// worker command.
//
// Usage: apiserver [-config config.yaml] [-mint-token OWNER]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shortguard/shortguard/internal/app"
	"github.com/shortguard/shortguard/internal/config"
	"github.com/shortguard/shortguard/internal/logging"
	"github.com/shortguard/shortguard/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration")
	mintToken := flag.String("mint-token", "", "print a bearer token for the given owner id and exit")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	logger := logging.NewStdoutLogger("apiserver")

	a, err := app.New(cfg, logger)
	if err != nil {
		log.Fatalf("initializing application: %v", err)
	}
	defer a.Close()

	if *mintToken != "" {
		if a.Auth == nil {
			log.Fatal("cannot mint a token: auth.secret is not configured")
		}
		token, err := a.Auth.GenerateToken(*mintToken)
		if err != nil {
			log.Fatalf("minting token: %v", err)
		}
		fmt.Println(token)
		return
	}

	if cfg.Worker.DeepModelPath != "" {
		if err := a.WithWorker(); err != nil {
			log.Fatalf("attaching offline pipeline: %v", err)
		}
	}

	srv := server.NewServer(a)
	httpSrv := srv.HTTPServer()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("listening", logging.Field{Key: "addr", Value: cfg.Server.Addr})
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", logging.Field{Key: "error", Value: err.Error()})
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", logging.Field{Key: "error", Value: err.Error()})
	}
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
