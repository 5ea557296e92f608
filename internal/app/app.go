// Package app wires the adapters shared by the service binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/fitstack/subscription-payments/config"
	"github.com/fitstack/subscription-payments/internal/adapters/django"
	"github.com/fitstack/subscription-payments/internal/adapters/ecpay"
	"github.com/fitstack/subscription-payments/internal/adapters/memory"
	"github.com/fitstack/subscription-payments/internal/adapters/postgres"
	"github.com/fitstack/subscription-payments/internal/adapters/redis"
	"github.com/fitstack/subscription-payments/internal/core/billing"
	"github.com/fitstack/subscription-payments/internal/core/ports"
	"github.com/fitstack/subscription-payments/internal/core/signature"
	"github.com/fitstack/subscription-payments/internal/core/worker"
	"github.com/fitstack/subscription-payments/internal/pkg/metrics"
)

// Components holds the long-lived dependencies built from a Config.
type Components struct {
	Config       *config.Config
	Redis        *goredis.Client
	Mapper       *redis.IdempotencyMapper
	Locker       *redis.Locker
	Signer       *signature.Engine
	Gateway      *ecpay.Client
	Verifier     *ecpay.CallbackVerifier
	Store        ports.BillingStore
	Notifier     ports.Notifier
	StateMachine *billing.StateMachine
	DeadLetters  ports.DeadLetterStore
	Reconciler   *worker.Reconciler
	Metrics      *metrics.Metrics

	closers []func()
}

// Build creates every component. Call Close when done.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Components, error) {
	c := &Components{Config: cfg, Metrics: metrics.New()}

	// Infrastructure Layer
	c.Redis = redis.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	c.closers = append(c.closers, func() { _ = c.Redis.Close() })
	c.Mapper = redis.NewIdempotencyMapper(redis.NewCache(c.Redis, cfg.Redis.KeyPrefix))
	c.Locker = redis.NewLocker(c.Redis, cfg.Sweep.LockExpiry)

	alg, err := signature.ParseAlgorithm(cfg.Gateway.EncryptType)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("gateway config: %w", err)
	}
	c.Signer = signature.New(cfg.Gateway.HashKey, cfg.Gateway.HashIV, signature.WithAlgorithm(alg))
	c.Gateway = ecpay.NewClient(ecpay.Config{
		MerchantID:     cfg.Gateway.MerchantID,
		PaymentURL:     cfg.Gateway.PaymentURL,
		QueryURL:       cfg.Gateway.QueryURL,
		ReturnURL:      cfg.Gateway.CallbackURL,
		OrderResultURL: cfg.Gateway.ResultURL,
		ClientBackURL:  cfg.Gateway.ClientBackURL,
		MappingTTL:     cfg.Gateway.MappingTTL,
	}, c.Signer, c.Mapper)
	c.Verifier = ecpay.NewCallbackVerifier(c.Signer, c.Mapper, cfg.Security.ReplayWindow)

	switch cfg.Backend.Store {
	case "memory":
		logger.Warn("using in-memory billing store; state is lost on restart")
		c.Store = memory.NewStore()
		c.Notifier = memory.NewNotifier()
	default:
		backend := django.NewClient(cfg.Backend.BaseURL, cfg.Backend.APIKey)
		c.Store = backend
		c.Notifier = backend
	}

	if cfg.Database.URL != "" {
		pool, err := postgres.NewPool(ctx, cfg.Database.URL)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.closers = append(c.closers, pool.Close)
		dl := postgres.NewDeadLetters(pool)
		if err := dl.EnsureSchema(ctx); err != nil {
			c.Close()
			return nil, fmt.Errorf("dead letter schema: %w", err)
		}
		c.DeadLetters = dl
	} else {
		logger.Warn("DATABASE_URL not set; dead letters are kept in memory")
		c.DeadLetters = memory.NewDeadLetters()
	}

	// Core Layer
	numbers, err := billing.NewSnowflakeNumbers(cfg.Server.NodeID)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.StateMachine = billing.NewStateMachine(c.Store, c.Notifier, numbers, billing.WithLogger(logger))
	c.Reconciler = worker.NewReconciler(c.StateMachine, c.DeadLetters, worker.Config{
		MaxRetries: cfg.Worker.MaxRetries,
		Backoff:    worker.ExponentialBackoff(cfg.Worker.BackoffBase),
		Metrics:    c.Metrics,
		Logger:     logger,
	})

	return c, nil
}

// Close releases connections in reverse order of creation.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
