package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-notify/pkg/api"
	"github.com/zoff-tech/go-notify/pkg/backoff"
	"github.com/zoff-tech/go-notify/pkg/broker"
	"github.com/zoff-tech/go-notify/pkg/capture"
	"github.com/zoff-tech/go-notify/pkg/config"
	"github.com/zoff-tech/go-notify/pkg/delivery"
	"github.com/zoff-tech/go-notify/pkg/processor"
	"github.com/zoff-tech/go-notify/pkg/queue"
	"github.com/zoff-tech/go-notify/pkg/store"
	"github.com/zoff-tech/go-notify/pkg/telemetry"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	// Load configuration from file or environment
	cfg, err := config.LoadFromFile("./cmd/notify-sidecar")
	if err != nil {
		log.Fatal("Error loading configuration: ", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatal("Failed to initialize logger: ", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(cfg.Observability, logger)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer shutdownTelemetry()

	jobs, err := store.NewJobStore(ctx, cfg.Store)
	if err != nil {
		logger.Fatal("Failed to initialize job store", zap.String("type", cfg.Store.Type), zap.Error(err))
	}
	defer jobs.Close()

	// The email client is built even in capture mode so bad credentials
	// surface at startup.
	client, err := delivery.NewEmailClient(&cfg.Delivery)
	if err != nil {
		logger.Fatal("Failed to initialize delivery client", zap.Error(err))
	}
	var sender delivery.Sender = client
	var captures *capture.Harness
	if cfg.Capture.Enabled {
		captures = capture.New(cfg.Capture.Capacity)
		sender = captures
		logger.Warn("capture mode enabled, notifications are not sent", zap.Int("capacity", cfg.Capture.Capacity))
	}

	events, err := broker.NewBroker(ctx, &cfg.Events, logger)
	if err != nil {
		logger.Fatal("Failed to initialize broker", zap.String("type", cfg.Events.Type), zap.Error(err))
	}
	defer events.Close()

	scheduler := processor.NewScheduler(jobs, sender, cfg.Scheduler,
		processor.WithBackoff(backoff.NewExponential(cfg.Scheduler.BaseBackoff, cfg.Scheduler.MaxBackoff)),
		processor.WithBroker(events),
		processor.WithLogger(logger.Named("scheduler")),
	)
	q := queue.New(jobs, scheduler,
		queue.WithBroker(events),
		queue.WithLogger(logger.Named("queue")),
		queue.WithDefaultMaxAttempts(cfg.Scheduler.MaxAttempts),
	)
	q.Start(ctx)

	var server *api.Server
	if cfg.API.Enabled {
		server = api.NewServer(cfg.API.Addr, q, captures, logger.Named("api"))
		go func() {
			if err := server.Start(); err != nil {
				logger.Error("admin API stopped", zap.Error(err))
				stop()
			}
		}()
	}

	logger.Info("notify sidecar running",
		zap.String("store", cfg.Store.Type),
		zap.String("events", cfg.Events.Type),
		zap.Bool("capture", cfg.Capture.Enabled))

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shut down admin API", zap.Error(err))
		}
	}
	if err := q.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to drain in-flight notifications", zap.Error(err))
	}
}

func newLogger(cfg config.LogSettings) (*zap.Logger, error) {
	if cfg.Development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
