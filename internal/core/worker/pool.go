package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/fitstack/subscription-payments/internal/core/domain"
)

// ErrPoolClosed is returned by Enqueue after Stop.
var ErrPoolClosed = errors.New("worker pool closed")

// Pool is an in-process TaskQueue: a buffered channel drained by a fixed
// number of goroutines. Tasks for different orders run in parallel.
type Pool struct {
	proc    Processor
	workers int
	tasks   chan domain.ReconcileTask

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool creates a pool. Call Start before Enqueue.
func NewPool(proc Processor, workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Pool{
		proc:    proc,
		workers: workers,
		tasks:   make(chan domain.ReconcileTask, queueSize),
	}
}

// Start launches the workers. They stop when ctx is cancelled or Stop drains the queue.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case task, ok := <-p.tasks:
					if !ok {
						return
					}
					if err := p.proc.Process(ctx, task); err != nil {
						slog.ErrorContext(ctx, "reconcile task failed", "worker", id, "order_number", task.OrderNumber, "error", err)
					}
				}
			}
		}(i)
	}
}

// Enqueue hands task to the workers, waiting for queue space until ctx ends.
func (p *Pool) Enqueue(ctx context.Context, task domain.ReconcileTask) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop refuses new tasks, lets the workers finish the queue and waits for them.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
