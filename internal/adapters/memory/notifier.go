package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/fitstack/subscription-payments/internal/core/domain"
)

// Notifier logs notifications and keeps them for inspection.
type Notifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

// NewNotifier creates an empty Notifier.
func NewNotifier() *Notifier {
	return &Notifier{}
}

func (n *Notifier) Notify(ctx context.Context, note domain.Notification) error {
	n.mu.Lock()
	n.sent = append(n.sent, note)
	n.mu.Unlock()
	slog.InfoContext(ctx, "notification recorded", "template", note.Template, "user_id", note.UserID)
	return nil
}

// Sent returns a copy of every notification so far.
func (n *Notifier) Sent() []domain.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Notification(nil), n.sent...)
}
