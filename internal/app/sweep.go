package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fitstack/subscription-payments/internal/core/domain"
	"github.com/fitstack/subscription-payments/internal/core/ports"
)

// SweepLockName guards the expiry sweep across replicas.
const SweepLockName = "sweep:subscriptions:expire"

// Expirer moves lapsed active subscriptions to expired.
type Expirer interface {
	ExpireSubscriptions(ctx context.Context) (int, error)
}

// RunSweep runs one expiry sweep under the sweep lock. A lock held by another
// replica is not an error: the sweep is skipped and 0 is returned.
func RunSweep(ctx context.Context, locker ports.Locker, expirer Expirer, logger *slog.Logger) (int, error) {
	start := time.Now()
	var count int
	err := locker.WithLock(ctx, SweepLockName, func(ctx context.Context) error {
		n, err := expirer.ExpireSubscriptions(ctx)
		count = n
		return err
	})
	if errors.Is(err, domain.ErrLockHeld) {
		logger.InfoContext(ctx, "expiry sweep skipped, lock held elsewhere")
		return 0, nil
	}
	if err != nil {
		logger.ErrorContext(ctx, "expiry sweep finished with errors", "expired", count, "error", err)
		return count, err
	}
	logger.InfoContext(ctx, "expiry sweep finished", "expired", count, "duration", time.Since(start))
	return count, nil
}
