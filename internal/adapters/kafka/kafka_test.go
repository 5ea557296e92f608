package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/fitstack/subscription-payments/internal/core/domain"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	msgs      chan kafka.Message
	mu        sync.Mutex
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case m := <-r.msgs:
		return m, nil
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

type recordingProcessor struct {
	mu    sync.Mutex
	seen  []string
	err   error
	calls chan struct{}
}

func (p *recordingProcessor) Process(_ context.Context, task domain.ReconcileTask) error {
	p.mu.Lock()
	p.seen = append(p.seen, task.OrderNumber)
	p.mu.Unlock()
	p.calls <- struct{}{}
	return p.err
}

func TestNewClient(t *testing.T) {
	t.Parallel()

	c := NewClient(" kafka-1:9092, ,kafka-2:9092 ")
	if len(c.Brokers) != 2 || c.Brokers[0] != "kafka-1:9092" || !c.Enabled() {
		t.Errorf("brokers = %v", c.Brokers)
	}
	if NewClient("").Enabled() {
		t.Error("empty broker list should be disabled")
	}
}

func TestPublisherKeysByOrderNumber(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	p := NewPublisher(w)
	task := domain.ReconcileTask{ID: "t1", OrderNumber: "ORD20240501000001", AttemptID: "ORD20240501000ABC123"}
	if err := p.Enqueue(context.Background(), task); err != nil {
		t.Fatal(err)
	}

	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "ORD20240501000001" {
		t.Fatalf("messages = %+v", w.msgs)
	}
	var got domain.ReconcileTask
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil || got.AttemptID != task.AttemptID {
		t.Errorf("value = %s (%v)", w.msgs[0].Value, err)
	}

	w.err = errors.New("broker down")
	if err := p.Enqueue(context.Background(), task); err == nil {
		t.Error("expected publish error")
	}
}

func TestConsumerProcessesAndCommits(t *testing.T) {
	t.Parallel()

	value, _ := json.Marshal(domain.ReconcileTask{ID: "t1", OrderNumber: "ORD1"})
	r := &fakeReader{msgs: make(chan kafka.Message, 3)}
	r.msgs <- kafka.Message{Offset: 1, Value: []byte("not json")}
	r.msgs <- kafka.Message{Offset: 2, Value: value}

	proc := &recordingProcessor{calls: make(chan struct{}, 2), err: domain.ErrRetriesExhausted}
	c := NewConsumer(proc, r)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	select {
	case <-proc.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("task not processed")
	}
	// The commit follows Process; wait for it before stopping.
	deadline := time.Now().Add(2 * time.Second)
	for {
		r.mu.Lock()
		n := len(r.committed)
		r.mu.Unlock()
		if n == 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.committed) != 2 || !r.closed {
		t.Errorf("committed = %v closed = %v", r.committed, r.closed)
	}
	if len(proc.seen) != 1 || proc.seen[0] != "ORD1" {
		t.Errorf("processed = %v", proc.seen)
	}
}

func TestConsumerLeavesCancelledTaskUncommitted(t *testing.T) {
	t.Parallel()

	value, _ := json.Marshal(domain.ReconcileTask{ID: "t1", OrderNumber: "ORD1"})
	r := &fakeReader{msgs: make(chan kafka.Message, 1)}
	r.msgs <- kafka.Message{Offset: 7, Value: value}

	proc := &recordingProcessor{calls: make(chan struct{}, 1), err: context.Canceled}
	c := NewConsumer(proc, r)

	done := make(chan struct{})
	go func() {
		c.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop after a cancelled task")
	}
	if len(r.committed) != 0 {
		t.Errorf("committed = %v", r.committed)
	}
}
