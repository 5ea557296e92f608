package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fitstack/subscription-payments/internal/core/domain"
)

// DeadLetters implements ports.DeadLetterStore in memory.
type DeadLetters struct {
	mu      sync.Mutex
	records map[string]*domain.DeadLetter
}

// NewDeadLetters creates an empty store.
func NewDeadLetters() *DeadLetters {
	return &DeadLetters{records: make(map[string]*domain.DeadLetter)}
}

func (d *DeadLetters) Save(_ context.Context, dl domain.DeadLetter) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := dl
	c.Payload = append([]byte(nil), dl.Payload...)
	d.records[dl.ID] = &c
	return nil
}

func (d *DeadLetters) Get(_ context.Context, id string) (*domain.DeadLetter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dl, ok := d.records[id]
	if !ok {
		return nil, domain.ErrDeadLetterNotFound
	}
	c := *dl
	return &c, nil
}

func (d *DeadLetters) ListPending(_ context.Context, limit int) ([]domain.DeadLetter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []domain.DeadLetter
	for _, dl := range d.records {
		if dl.ResolvedAt == nil {
			out = append(out, *dl)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (d *DeadLetters) MarkResolved(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	dl, ok := d.records[id]
	if !ok {
		return domain.ErrDeadLetterNotFound
	}
	now := time.Now().UTC()
	dl.ResolvedAt = &now
	return nil
}
