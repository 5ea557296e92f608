// Package worker applies verified payments to orders off the request path,
// retrying transient failures and dead-lettering what cannot be applied.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fitstack/subscription-payments/internal/core/billing"
	"github.com/fitstack/subscription-payments/internal/core/domain"
	"github.com/fitstack/subscription-payments/internal/core/ports"
	"github.com/fitstack/subscription-payments/internal/pkg/metrics"
)

// Completer applies a successful payment. *billing.StateMachine implements it.
type Completer interface {
	CompleteOrder(ctx context.Context, req billing.CompletionRequest) (*billing.CompletionResult, error)
}

// Processor handles one reconciliation task.
type Processor interface {
	Process(ctx context.Context, task domain.ReconcileTask) error
}

// Backoff returns the wait before retry number n (0-based).
type Backoff func(retry int) time.Duration

// ExponentialBackoff waits base^retry seconds: 1s, 2s, 4s... for base 2.
func ExponentialBackoff(base int) Backoff {
	return func(retry int) time.Duration {
		d := time.Second
		for i := 0; i < retry; i++ {
			d *= time.Duration(base)
		}
		return d
	}
}

// Reconciler runs CompleteOrder for a task with an explicit retry loop.
type Reconciler struct {
	completer   Completer
	deadLetters ports.DeadLetterStore
	maxRetries  int
	backoff     Backoff
	sleep       func(ctx context.Context, d time.Duration) error
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	logger      *slog.Logger
}

// Config tunes a Reconciler.
type Config struct {
	MaxRetries int
	Backoff    Backoff
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// NewReconciler creates a reconciler. A nil Backoff means base-2 exponential
// backoff. MaxRetries 0 runs each task once with no retries.
func NewReconciler(completer Completer, deadLetters ports.DeadLetterStore, cfg Config) *Reconciler {
	if cfg.Backoff == nil {
		cfg.Backoff = ExponentialBackoff(2)
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Reconciler{
		completer:   completer,
		deadLetters: deadLetters,
		maxRetries:  cfg.MaxRetries,
		backoff:     cfg.Backoff,
		sleep:       sleepContext,
		metrics:     cfg.Metrics,
		tracer:      otel.Tracer("github.com/fitstack/subscription-payments/internal/core/worker"),
		logger:      cfg.Logger,
	}
}

// Process applies task. It returns nil when the payment was applied or the
// order can no longer take it (an invalid transition is reported, not
// retried). Transient failures are retried up to maxRetries times; after
// that, or on any permanent failure, the task is dead-lettered and an error
// wrapping ErrRetriesExhausted is returned.
func (r *Reconciler) Process(ctx context.Context, task domain.ReconcileTask) error {
	ctx, span := r.tracer.Start(ctx, "reconcile.process", trace.WithAttributes(
		attribute.String("order.number", task.OrderNumber),
		attribute.String("payment.attempt_id", task.AttemptID),
		attribute.String("task.source", task.Source),
	))
	defer span.End()

	logger := r.logger.With("task_id", task.ID, "order_number", task.OrderNumber, "attempt_id", task.AttemptID)
	req := billing.CompletionRequest{
		OrderNumber:   task.OrderNumber,
		PaymentMethod: task.PaymentMethod,
		PaymentID:     task.PaymentID,
		PaymentData:   task.PaymentData,
		PaidAt:        task.PaidAt,
	}

	var (
		lastErr  error
		attempts int
	)
	for retry := 0; retry <= r.maxRetries; retry++ {
		if retry > 0 {
			wait := r.backoff(retry - 1)
			r.metrics.RetryScheduled()
			logger.WarnContext(ctx, "retrying reconciliation", "retry", retry, "wait", wait, "error", lastErr)
			if err := r.sleep(ctx, wait); err != nil {
				span.SetStatus(codes.Error, "cancelled")
				return err
			}
		}
		attempts++

		res, err := r.completer.CompleteOrder(ctx, req)
		if err == nil {
			outcome := "duplicate"
			if res.Completed {
				outcome = "completed"
			}
			r.metrics.ReconcileOutcome(outcome)
			span.SetAttributes(attribute.String("reconcile.outcome", outcome), attribute.Int("reconcile.attempts", attempts))
			logger.InfoContext(ctx, "reconciliation applied", "outcome", outcome, "attempts", attempts)
			return nil
		}

		if errors.Is(err, domain.ErrInvalidTransition) {
			r.metrics.ReconcileOutcome("rejected")
			span.SetAttributes(attribute.String("reconcile.outcome", "rejected"))
			logger.WarnContext(ctx, "payment not applicable to order", "error", err)
			return nil
		}

		lastErr = err
		if ctx.Err() != nil {
			span.SetStatus(codes.Error, "cancelled")
			return ctx.Err()
		}
		if !errors.Is(err, domain.ErrUpstreamUnavailable) {
			break
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "dead-lettered")
	return r.deadLetter(ctx, logger, task, attempts, lastErr)
}

func (r *Reconciler) deadLetter(ctx context.Context, logger *slog.Logger, task domain.ReconcileTask, attempts int, cause error) error {
	r.metrics.ReconcileOutcome("dead_lettered")
	r.metrics.DeadLettered()

	payload, err := json.Marshal(task)
	if err != nil {
		payload = []byte(fmt.Sprintf(`{"order_number":%q,"attempt_id":%q}`, task.OrderNumber, task.AttemptID))
	}
	dl := domain.DeadLetter{
		ID:          uuid.New().String(),
		TaskID:      task.ID,
		OrderNumber: task.OrderNumber,
		AttemptID:   task.AttemptID,
		Payload:     payload,
		Attempts:    attempts,
		LastError:   cause.Error(),
		CreatedAt:   time.Now().UTC(),
	}

	// The task is already lost to the caller, so the write must outlive ctx.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := r.deadLetters.Save(saveCtx, dl); err != nil {
		logger.ErrorContext(ctx, "failed to store dead letter", "payload", string(payload), "error", err)
		return errors.Join(fmt.Errorf("%w: %w", domain.ErrRetriesExhausted, cause), err)
	}

	logger.ErrorContext(ctx, "reconciliation abandoned", "dead_letter_id", dl.ID, "attempts", attempts, "error", cause)
	return fmt.Errorf("%w after %d attempts: %w", domain.ErrRetriesExhausted, attempts, cause)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
