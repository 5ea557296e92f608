// Subscription expiry scheduler.
//
// Runs the subscription expiry sweep on SWEEP_SCHEDULE. Replicas coordinate
// through a Redis lock so only one of them sweeps at a time.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fitstack/subscription-payments/config"
	"github.com/fitstack/subscription-payments/internal/app"
	"github.com/fitstack/subscription-payments/internal/pkg/telemetry"
)

func main() {
	cfg := config.Load()
	logger := telemetry.InitLogger(cfg.Server.Debug)

	if err := cfg.Validate(); err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	components, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("dependency setup failed", "error", err)
		os.Exit(1)
	}
	defer components.Close()

	// Seconds-precision schedule, e.g. "0 0 2 * * *" for 02:00 every day.
	scheduler := cron.New(cron.WithSeconds())

	_, err = scheduler.AddFunc(cfg.Sweep.Schedule, func() {
		jobCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		_, _ = app.RunSweep(jobCtx, components.Locker, components.StateMachine, logger)
	})
	if err != nil {
		logger.Error("invalid sweep schedule", "schedule", cfg.Sweep.Schedule, "error", err)
		os.Exit(1)
	}

	scheduler.Start()
	logger.Info("cron jobs started", "subscription_expiry", cfg.Sweep.Schedule)

	<-ctx.Done()
	logger.Info("stopping cron jobs")

	// Wait for a running sweep to finish.
	<-scheduler.Stop().Done()
	logger.Info("cron stopped")
}
