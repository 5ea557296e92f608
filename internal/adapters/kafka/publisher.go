package kafka

import (
	"context"
	"fmt"

	"github.com/fitstack/subscription-payments/internal/core/domain"
)

// Publisher implements ports.TaskQueue on a Kafka topic. Tasks are keyed by
// order number so every task of one order lands on the same partition.
type Publisher struct {
	writer MessageWriter
}

func NewPublisher(writer MessageWriter) *Publisher {
	return &Publisher{writer: writer}
}

func (p *Publisher) Enqueue(ctx context.Context, task domain.ReconcileTask) error {
	if err := PublishJSON(ctx, p.writer, task.OrderNumber, task); err != nil {
		return fmt.Errorf("publish reconcile task %s: %w", task.ID, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
