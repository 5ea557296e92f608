package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"github.com/fitstack/subscription-payments/internal/core/domain"
)

// Locker implements ports.Locker with a redsync mutex. A lock is tried once;
// if another process holds it the job is skipped.
type Locker struct {
	rs     *redsync.Redsync
	expiry time.Duration
}

// NewLocker creates a Locker on client.
func NewLocker(client *redis.Client, expiry time.Duration) *Locker {
	return &Locker{
		rs:     redsync.New(goredis.NewPool(client)),
		expiry: expiry,
	}
}

func (l *Locker) WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	mutex := l.rs.NewMutex(name,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(1),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrLockHeld, name, err)
	}
	defer func() {
		if _, err := mutex.UnlockContext(context.WithoutCancel(ctx)); err != nil {
			slog.WarnContext(ctx, "failed to release lock", "lock", name, "error", err)
		}
	}()
	return fn(ctx)
}
