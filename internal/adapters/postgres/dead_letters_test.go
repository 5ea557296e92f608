package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fitstack/subscription-payments/internal/core/domain"
)

// Runs against a real database only when TEST_DATABASE_URL is set.
func TestDeadLettersRoundTrip(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := NewPool(ctx, url)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	store := NewDeadLetters(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}

	dl := domain.DeadLetter{
		ID:          uuid.New().String(),
		TaskID:      "task-1",
		OrderNumber: "ORD20240501000001",
		AttemptID:   "ORD20240501000ABC123",
		Payload:     []byte(`{"order_number":"ORD20240501000001"}`),
		Attempts:    4,
		LastError:   "backend returned 503",
		CreatedAt:   time.Now().UTC(),
	}
	if err := store.Save(ctx, dl); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, dl.ID)
	if err != nil || got.Attempts != 4 || got.ResolvedAt != nil {
		t.Fatalf("Get() = %+v, %v", got, err)
	}

	if err := store.MarkResolved(ctx, dl.ID); err != nil {
		t.Fatal(err)
	}
	pending, err := store.ListPending(ctx, 1000)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range pending {
		if p.ID == dl.ID {
			t.Error("resolved record still pending")
		}
	}

	if _, err := store.Get(ctx, uuid.New().String()); !errors.Is(err, domain.ErrDeadLetterNotFound) {
		t.Errorf("missing record error = %v", err)
	}
}
