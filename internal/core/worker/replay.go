package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fitstack/subscription-payments/internal/core/domain"
	"github.com/fitstack/subscription-payments/internal/core/ports"
)

// Replay feeds a dead-lettered task back through proc and marks the record
// resolved once it has been applied. A replay that fails again leaves the
// record pending; the Reconciler writes a fresh dead letter for it.
func Replay(ctx context.Context, deadLetters ports.DeadLetterStore, proc Processor, id string) (*domain.ReconcileTask, error) {
	dl, err := deadLetters.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if dl.ResolvedAt != nil {
		return nil, domain.NewServiceError(domain.ErrValidation, "dead letter "+id+" already resolved", "ALREADY_RESOLVED")
	}

	var task domain.ReconcileTask
	if err := json.Unmarshal(dl.Payload, &task); err != nil {
		return nil, fmt.Errorf("decode dead letter %s: %w", id, err)
	}
	if task.OrderNumber == "" {
		task.OrderNumber = dl.OrderNumber
	}
	task.Source = domain.SourceReplay

	if err := proc.Process(ctx, task); err != nil {
		return &task, fmt.Errorf("replay dead letter %s: %w", id, err)
	}
	if err := deadLetters.MarkResolved(ctx, id); err != nil {
		return &task, fmt.Errorf("resolve dead letter %s: %w", id, err)
	}
	return &task, nil
}
