package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/fitstack/subscription-payments/internal/core/domain"
)

// MessageReader is the subset of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Processor handles one reconciliation task.
type Processor interface {
	Process(ctx context.Context, task domain.ReconcileTask) error
}

// Consumer feeds tasks from one or more group readers into a Processor.
// A message is committed once processing has finished, including when the
// task was dead-lettered; only a cancelled run leaves it for redelivery.
type Consumer struct {
	readers []MessageReader
	proc    Processor
	logger  *slog.Logger
}

func NewConsumer(proc Processor, readers ...MessageReader) *Consumer {
	return &Consumer{readers: readers, proc: proc, logger: slog.Default()}
}

// Run blocks until ctx is cancelled, then closes the readers.
func (c *Consumer) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i, r := range c.readers {
		wg.Add(1)
		go func(id int, r MessageReader) {
			defer wg.Done()
			c.consume(ctx, id, r)
		}(i, r)
	}
	wg.Wait()

	for _, r := range c.readers {
		if err := r.Close(); err != nil {
			c.logger.Warn("kafka reader close failed", "error", err)
		}
	}
}

func (c *Consumer) consume(ctx context.Context, id int, r MessageReader) {
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.ErrorContext(ctx, "kafka fetch failed", "reader", id, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}

		if !c.handle(ctx, id, msg) {
			return
		}
		if err := r.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.ErrorContext(ctx, "kafka commit failed", "reader", id, "offset", msg.Offset, "error", err)
		}
	}
}

// handle reports false when the message must not be committed.
func (c *Consumer) handle(ctx context.Context, id int, msg kafka.Message) bool {
	var task domain.ReconcileTask
	if err := json.Unmarshal(msg.Value, &task); err != nil {
		c.logger.ErrorContext(ctx, "undecodable reconcile task dropped", "reader", id, "offset", msg.Offset, "error", err)
		return true
	}
	if task.OrderNumber == "" {
		c.logger.WarnContext(ctx, "reconcile task without order number dropped", "reader", id, "offset", msg.Offset)
		return true
	}

	err := c.proc.Process(ctx, task)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if err != nil {
		c.logger.ErrorContext(ctx, "reconcile task failed", "reader", id, "order_number", task.OrderNumber, "error", err)
	}
	return true
}
