// Package ports defines the interfaces (ports) for the payment service.
// These are contracts that adapters must implement.
package ports

import (
	"context"
	"time"

	"github.com/fitstack/subscription-payments/internal/core/domain"
)

// PaymentGateway builds gateway requests. It never moves order status.
type PaymentGateway interface {
	// CreatePayment registers a new attempt and returns the signed auto-submit form.
	CreatePayment(ctx context.Context, order domain.PaymentOrder) (*domain.PaymentForm, error)

	// QueryPayment asks the gateway for the trade status of an attempt id.
	QueryPayment(ctx context.Context, attemptID string) (map[string]string, error)
}

// CallbackVerifier authenticates gateway callbacks.
type CallbackVerifier interface {
	Verify(ctx context.Context, fields domain.CallbackRecord) (*domain.VerifiedCallback, error)
}

// IdempotencyMapper maps gateway attempt ids back to logical order numbers.
type IdempotencyMapper interface {
	// Put stores the mapping. It must succeed before the attempt is handed out.
	Put(ctx context.Context, attemptID, orderNumber string, ttl time.Duration) error

	// Resolve returns the mapped order number, or the attempt id itself with
	// found=false when no mapping exists.
	Resolve(ctx context.Context, attemptID string) (orderNumber string, found bool)
}

// OrderStore reads orders and applies guarded status changes.
type OrderStore interface {
	GetOrderByNumber(ctx context.Context, orderNumber string) (*domain.Order, error)

	// UpdateOrder applies update only if the current status is one of from.
	// It returns the order as stored after the call and whether it applied.
	UpdateOrder(ctx context.Context, id string, from []domain.OrderStatus, update domain.OrderUpdate) (*domain.Order, bool, error)

	// DeleteOrder removes a cancelled order. Other statuses yield ErrInvalidTransition.
	DeleteOrder(ctx context.Context, id string) error
}

// InvoiceStore creates and reads invoices.
type InvoiceStore interface {
	// CreateInvoice inserts inv unless the order already has one, in which case
	// the existing invoice is returned with created=false.
	CreateInvoice(ctx context.Context, inv domain.Invoice) (*domain.Invoice, bool, error)

	GetInvoiceByOrder(ctx context.Context, orderID string) (*domain.Invoice, error)
}

// SubscriptionStore reads subscriptions and applies guarded status changes.
type SubscriptionStore interface {
	GetSubscription(ctx context.Context, id string) (*domain.Subscription, error)

	UpdateSubscription(ctx context.Context, id string, from []domain.SubscriptionStatus, update domain.SubscriptionUpdate) (*domain.Subscription, bool, error)

	// ListExpiredSubscriptions returns active subscriptions whose end date is before now.
	ListExpiredSubscriptions(ctx context.Context, now time.Time) ([]domain.Subscription, error)
}

// BillingStore is the full domain backend surface used by the state machine.
type BillingStore interface {
	OrderStore
	InvoiceStore
	SubscriptionStore
}

// Notifier hands notifications to the sender owned by the backend.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// TaskQueue accepts reconciliation tasks for asynchronous processing.
type TaskQueue interface {
	Enqueue(ctx context.Context, task domain.ReconcileTask) error
}

// DeadLetterStore keeps tasks the worker abandoned.
type DeadLetterStore interface {
	Save(ctx context.Context, dl domain.DeadLetter) error
	Get(ctx context.Context, id string) (*domain.DeadLetter, error)
	ListPending(ctx context.Context, limit int) ([]domain.DeadLetter, error)
	MarkResolved(ctx context.Context, id string) error
}

// Locker runs fn while holding a named distributed lock.
type Locker interface {
	WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error
}
