// Subscription Payments Service
//
// This is the main entry point for the payment processing service.
// It wires up all dependencies and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fitstack/subscription-payments/config"
	"github.com/fitstack/subscription-payments/internal/adapters/kafka"
	"github.com/fitstack/subscription-payments/internal/app"
	"github.com/fitstack/subscription-payments/internal/core/ports"
	"github.com/fitstack/subscription-payments/internal/core/service"
	"github.com/fitstack/subscription-payments/internal/core/worker"
	"github.com/fitstack/subscription-payments/internal/handlers"
	"github.com/fitstack/subscription-payments/internal/pkg/telemetry"
)

func main() {
	// Load configuration
	cfg := config.Load()
	logger := telemetry.InitLogger(cfg.Server.Debug)
	logger.Info("starting subscription payments service",
		"port", cfg.Server.Port, "store", cfg.Backend.Store, "kafka", cfg.KafkaEnabled())

	// Validate required configuration
	if err := cfg.Validate(); err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(1)
	}
	if cfg.Security.ServiceAPIKey == "" {
		logger.Warn("SERVICE_API_KEY not set; /payment/create is unauthenticated")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.SetupTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		logger.Error("tracer setup failed", "error", err)
		os.Exit(1)
	}

	// Wire up dependencies (manual dependency injection)
	components, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("dependency setup failed", "error", err)
		os.Exit(1)
	}
	defer components.Close()

	// Reconciliation: Kafka when brokers are configured, otherwise the in-process pool.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	var (
		queue       ports.TaskQueue
		stopWorkers func()
	)
	kafkaClient := kafka.NewClient(cfg.Kafka.Brokers)
	if kafkaClient.Enabled() {
		publisher := kafka.NewPublisher(kafkaClient.NewWriter(cfg.Kafka.Topic))
		readers := make([]kafka.MessageReader, cfg.Worker.Count)
		for i := range readers {
			readers[i] = kafkaClient.NewReader(cfg.Kafka.Topic, cfg.Kafka.GroupID)
		}
		consumer := kafka.NewConsumer(components.Reconciler, readers...)
		done := make(chan struct{})
		go func() {
			consumer.Run(workerCtx)
			close(done)
		}()
		queue = publisher
		stopWorkers = func() {
			cancelWorkers()
			<-done
			if err := publisher.Close(); err != nil {
				logger.Warn("kafka writer close failed", "error", err)
			}
		}
	} else {
		pool := worker.NewPool(components.Reconciler, cfg.Worker.Count, cfg.Worker.QueueSize)
		pool.Start(workerCtx)
		queue = pool
		stopWorkers = func() {
			pool.Stop()
			cancelWorkers()
		}
	}

	// Service Layer
	paymentService := service.NewPaymentService(
		components.Gateway,      // implements ports.PaymentGateway
		components.Verifier,     // implements ports.CallbackVerifier
		queue,                   // implements ports.TaskQueue
		components.Store,        // implements ports.BillingStore
		components.StateMachine, // implements service.Completer
		service.Options{
			FrontendURL: cfg.Server.FrontendURL,
			Debug:       cfg.Server.Debug,
			Metrics:     components.Metrics,
			DeadLetters: components.DeadLetters,
		},
	)

	// API Layer
	handler := handlers.NewPaymentHandler(paymentService, cfg.Security.CallbackTimeout)
	router := handlers.SetupRouter(handler, handlers.RouterOptions{
		GinMode:       cfg.Server.GinMode,
		ServiceAPIKey: cfg.Security.ServiceAPIKey,
		Metrics:       components.Metrics,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	stopWorkers()
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown failed", "error", err)
	}
	slog.Info("shutdown complete")
}
