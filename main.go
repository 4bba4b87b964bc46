package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"digest_server/config"
	"digest_server/internal/bootstrap"
	"digest_server/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
)

const (
	shutdownTimeout = 30 * time.Second // Maximum time to wait for graceful shutdown
)

func main() {
	// Initialize logger early
	logLevel := logger.LevelInfo
	if env := os.Getenv("ENV"); env == "" || env == "development" {
		logLevel = logger.LevelDebug
	}
	logger.Init(logger.Config{
		Level:   logLevel,
		Service: "digest",
	})

	// Load .env file if exists (for local development)
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	mode := flag.String("mode", "all", "Run mode: api, worker, all, once")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	switch *mode {
	case "api":
		runAPI(cfg)
	case "worker":
		runWorker(cfg)
	case "all":
		runServer(cfg)
	case "once":
		runOnce(cfg)
	default:
		logger.Fatal("Unknown mode: %s", *mode)
	}
}

func runAPI(cfg *config.Config) {
	app, cleanup, err := bootstrap.NewAPI(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize API: %v", err)
	}
	defer cleanup()

	go shutdownAPIOnSignal(app)

	addr := ":" + cfg.Port
	logger.Info("Starting API server on %s", addr)
	if err := app.Listen(addr); err != nil {
		logger.Fatal("Failed to start server: %v", err)
	}
}

func runWorker(cfg *config.Config) {
	worker, cleanup, err := bootstrap.NewWorker(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize worker: %v", err)
	}
	defer cleanup()

	go stopWorkerOnSignal(worker)

	logger.Info("Starting worker...")
	worker.Start()
}

// runServer runs the API and the worker in one process on one dependency set.
func runServer(cfg *config.Config) {
	app, worker, cleanup, err := bootstrap.NewServer(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize server: %v", err)
	}
	defer cleanup()

	go func() {
		logger.Info("Starting worker...")
		worker.Start()
	}()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down (timeout: %v)...", shutdownTimeout)

		done := make(chan struct{})
		go func() {
			app.Shutdown()
			worker.Stop()
			close(done)
		}()

		select {
		case <-done:
			logger.Info("Shut down gracefully")
		case <-time.After(shutdownTimeout):
			logger.Warn("Shutdown timed out, forcing exit")
			os.Exit(1)
		}
	}()

	addr := ":" + cfg.Port
	logger.Info("Starting API server on %s", addr)
	if err := app.Listen(addr); err != nil {
		logger.Fatal("Failed to start server: %v", err)
	}
}

// runOnce performs a single full digest pass and exits. Intended for cron-style
// deployments and smoke tests.
func runOnce(cfg *config.Config) {
	deps, cleanup, err := bootstrap.NewDependencies(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize dependencies: %v", err)
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	summary, err := deps.DigestService.RunOnce(ctx, time.Now())
	if err != nil {
		logger.Fatal("Digest pass failed: %v", err)
	}

	logger.Info("Digest pass finished: evaluated=%d eligible=%d delivered=%d skipped=%d failed=%d",
		summary.Evaluated, summary.Eligible, summary.Delivered, summary.Skipped, summary.Failed)
}

func shutdownAPIOnSignal(app *fiber.App) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down API server (timeout: %v)...", shutdownTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- app.Shutdown()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("Error shutting down: %v", err)
		} else {
			logger.Info("API server shut down gracefully")
		}
	case <-ctx.Done():
		logger.Warn("API shutdown timed out, forcing exit")
	}
}

func stopWorkerOnSignal(worker *bootstrap.Worker) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down worker (timeout: %v)...", shutdownTimeout)

	done := make(chan struct{})
	go func() {
		worker.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Worker shut down gracefully")
	case <-time.After(shutdownTimeout):
		logger.Warn("Worker shutdown timed out, forcing exit")
		os.Exit(1)
	}
}
