package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"mailmirror/config"
	"mailmirror/internal/bootstrap"
	"mailmirror/pkg/logger"

	"github.com/joho/godotenv"
)

const (
	shutdownTimeout = 30 * time.Second // Maximum time to wait for graceful shutdown
)

func main() {
	// Load .env file if exists (for local development)
	envErr := godotenv.Load()

	mode := flag.String("mode", "all", "Run mode: api, worker, all")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	logger.Init(logger.Config{
		Level:   logger.ParseLevel(cfg.LogLevel),
		Service: "mailmirror",
		Pretty:  cfg.IsDevelopment(),
	})
	if envErr != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, cleanup, err := bootstrap.NewDependencies(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize dependencies: %v", err)
	}
	defer cleanup()

	switch *mode {
	case "api":
		if deps.Redis == nil {
			logger.Fatal("api mode requires REDIS_URL so sync jobs reach the workers")
		}
		runAPI(ctx, cfg, deps, nil)
	case "worker":
		if deps.Redis == nil {
			logger.Fatal("worker mode requires REDIS_URL")
		}
		w := bootstrap.NewWorker(cfg, deps)
		if err := w.Start(ctx); err != nil {
			logger.Fatal("Failed to start worker: %v", err)
		}
		<-ctx.Done()
		stopWorker(w)
	case "all":
		w := bootstrap.NewWorker(cfg, deps)
		if err := w.Start(ctx); err != nil {
			logger.Fatal("Failed to start worker: %v", err)
		}
		runAPI(ctx, cfg, deps, w)
	default:
		logger.Fatal("Unknown mode: %s", *mode)
	}
}

// runAPI serves until ctx is cancelled, then shuts the server down and stops
// w when given.
func runAPI(ctx context.Context, cfg *config.Config, deps *bootstrap.Dependencies, w *bootstrap.Worker) {
	app := bootstrap.NewAPI(cfg, deps)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info("Starting API server on %s", addr)
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("API server error: %v", err)
		}
	case <-ctx.Done():
		logger.Info("Shutting down API server (timeout: %v)...", shutdownTimeout)
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Error("Error shutting down: %v", err)
		} else {
			logger.Info("API server shut down gracefully")
		}
	}

	if w != nil {
		stopWorker(w)
	}
}

func stopWorker(w *bootstrap.Worker) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	w.Stop(ctx)
}
