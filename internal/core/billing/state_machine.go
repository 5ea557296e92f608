package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"

	"github.com/fitstack/subscription-payments/internal/core/domain"
	"github.com/fitstack/subscription-payments/internal/core/ports"
)

// defaultPeriod is used to re-anchor a subscription that has no usable period.
const defaultPeriod = 30 * 24 * time.Hour

// InvoiceNumbers issues unique invoice numbers.
type InvoiceNumbers interface {
	Next() string
}

// SnowflakeNumbers issues "INV" + base36 snowflake ids (at most 16 chars).
type SnowflakeNumbers struct {
	node *snowflake.Node
}

// NewSnowflakeNumbers creates a generator for the given node id (0-1023).
func NewSnowflakeNumbers(nodeID int64) (*SnowflakeNumbers, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &SnowflakeNumbers{node: node}, nil
}

func (s *SnowflakeNumbers) Next() string {
	return "INV" + strings.ToUpper(s.node.Generate().Base36())
}

// CompletionRequest carries a successful payment to apply to an order.
type CompletionRequest struct {
	OrderNumber   string
	PaymentMethod string
	PaymentID     string
	PaymentData   map[string]any
	PaidAt        *time.Time
}

// CompletionResult reports what CompleteOrder changed.
type CompletionResult struct {
	Order        *domain.Order
	Invoice      *domain.Invoice
	Subscription *domain.Subscription

	// Completed is true only for the call that moved the order to completed.
	Completed      bool
	InvoiceCreated bool
	Activated      bool
}

// StateMachine applies lifecycle transitions through a BillingStore.
// Every write is a guarded compare-and-set in the store.
type StateMachine struct {
	store    ports.BillingStore
	notifier ports.Notifier
	numbers  InvoiceNumbers
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a StateMachine.
type Option func(*StateMachine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *StateMachine) { m.now = now }
}

// WithLogger overrides slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(m *StateMachine) { m.logger = l }
}

// NewStateMachine creates a state machine. notifier may be nil.
func NewStateMachine(store ports.BillingStore, notifier ports.Notifier, numbers InvoiceNumbers, opts ...Option) *StateMachine {
	m := &StateMachine{
		store:    store,
		notifier: notifier,
		numbers:  numbers,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CompleteOrder applies a successful payment: pending -> processing -> completed,
// then makes sure the invoice exists and the linked subscription is active.
//
// Replays are safe. An already completed order only re-runs the invoice and
// subscription steps, which are themselves create-if-absent and guarded.
func (m *StateMachine) CompleteOrder(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	// Step 1: Load the order
	order, err := m.store.GetOrderByNumber(ctx, req.OrderNumber)
	if err != nil {
		return nil, err
	}

	result := &CompletionResult{}

	// Step 2: Walk the order forward. A lost race leaves the current row in
	// order and the loop picks up from wherever it is now.
	for step := 0; order.Status != domain.OrderCompleted; step++ {
		if step > 3 {
			return nil, invalidOrderTransition(order.OrderNumber, order.Status, domain.OrderCompleted)
		}

		var update domain.OrderUpdate
		switch order.Status {
		case domain.OrderPending:
			update = domain.OrderUpdate{Status: domain.OrderProcessing}
		case domain.OrderProcessing:
			paidAt := m.now()
			if req.PaidAt != nil {
				paidAt = *req.PaidAt
			}
			update = domain.OrderUpdate{
				Status:        domain.OrderCompleted,
				PaymentMethod: req.PaymentMethod,
				PaymentID:     req.PaymentID,
				PaymentData:   req.PaymentData,
				PaidAt:        &paidAt,
			}
		default:
			return nil, invalidOrderTransition(order.OrderNumber, order.Status, domain.OrderCompleted)
		}

		current, applied, err := m.store.UpdateOrder(ctx, order.ID, []domain.OrderStatus{order.Status}, update)
		if err != nil {
			return nil, err
		}
		if applied && update.Status == domain.OrderCompleted {
			result.Completed = true
		}
		order = current
	}
	result.Order = order

	if !result.Completed {
		m.logger.InfoContext(ctx, "order already completed, replaying cascade", "order_number", order.OrderNumber)
	}

	// Step 3: Invoice (create-if-absent)
	inv, created, err := m.ensureInvoice(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("invoice for order %s: %w", order.OrderNumber, err)
	}
	result.Invoice = inv
	result.InvoiceCreated = created

	// Step 4: Subscription activation
	sub, activated, err := m.ensureSubscriptionActive(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("subscription for order %s: %w", order.OrderNumber, err)
	}
	result.Subscription = sub
	result.Activated = activated

	// Step 5: Confirmation, once per invoice
	if created {
		m.notify(ctx, domain.Notification{
			Template:       domain.TemplatePaymentConfirmation,
			UserID:         order.UserID,
			OrderID:        order.ID,
			SubscriptionID: order.SubscriptionID,
			Context: map[string]any{
				"order_number":   order.OrderNumber,
				"invoice_number": inv.InvoiceNumber,
				"amount":         inv.TotalAmount.StringFixed(2),
				"currency":       inv.Currency,
			},
		})
	}

	m.logger.InfoContext(ctx, "order completion applied",
		"order_number", order.OrderNumber,
		"completed", result.Completed,
		"invoice_created", result.InvoiceCreated,
		"subscription_activated", result.Activated,
	)
	return result, nil
}

// ensureInvoice issues the order's invoice. Only paid orders are invoiced.
func (m *StateMachine) ensureInvoice(ctx context.Context, order *domain.Order) (*domain.Invoice, bool, error) {
	if order.PaidAt == nil {
		m.logger.WarnContext(ctx, "completed order has no paid_at, skipping invoice", "order_number", order.OrderNumber)
		return nil, false, nil
	}

	tax, total := domain.CalculateTax(order.Amount)
	currency := order.Currency
	if currency == "" {
		currency = domain.DefaultCurrency
	}

	inv := domain.Invoice{
		ID:            uuid.New().String(),
		InvoiceNumber: m.numbers.Next(),
		OrderID:       order.ID,
		UserID:        order.UserID,
		Amount:        order.Amount,
		TaxAmount:     tax,
		TotalAmount:   total,
		Currency:      currency,
		IssuedAt:      m.now(),
		PaidAt:        order.PaidAt,
		Metadata: map[string]any{
			"order_number":   order.OrderNumber,
			"payment_method": order.PaymentMethod,
			"payment_id":     order.PaymentID,
		},
	}
	return m.store.CreateInvoice(ctx, inv)
}

// ensureSubscriptionActive activates the order's subscription. Activation
// needs a paid order; a subscription in any state other than pending or
// trial is left alone.
func (m *StateMachine) ensureSubscriptionActive(ctx context.Context, order *domain.Order) (*domain.Subscription, bool, error) {
	if order.SubscriptionID == "" {
		return nil, false, nil
	}
	if order.PaidAt == nil {
		m.logger.WarnContext(ctx, "completed order has no paid_at, skipping activation", "order_number", order.OrderNumber)
		return nil, false, nil
	}

	sub, err := m.store.GetSubscription(ctx, order.SubscriptionID)
	if err != nil {
		return nil, false, err
	}

	switch sub.Status {
	case domain.SubscriptionPending, domain.SubscriptionTrial:
	case domain.SubscriptionActive:
		return sub, false, nil
	default:
		m.logger.WarnContext(ctx, "subscription not activatable",
			"subscription_id", sub.ID, "status", sub.Status, "order_number", order.OrderNumber)
		return sub, false, nil
	}

	update := domain.SubscriptionUpdate{Status: domain.SubscriptionActive}
	now := m.now()
	if now.Before(sub.StartDate) || now.After(sub.EndDate) {
		period := sub.EndDate.Sub(sub.StartDate)
		if period <= 0 {
			period = defaultPeriod
		}
		start, end := now, now.Add(period)
		update.StartDate, update.EndDate = &start, &end
	}

	current, applied, err := m.store.UpdateSubscription(ctx, sub.ID,
		[]domain.SubscriptionStatus{domain.SubscriptionPending, domain.SubscriptionTrial}, update)
	if err != nil {
		return nil, false, err
	}
	return current, applied, nil
}

// FailOrder marks an order failed: pending -> processing -> failed.
func (m *StateMachine) FailOrder(ctx context.Context, orderNumber, reason string) (*domain.Order, error) {
	order, err := m.store.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}

	for step := 0; order.Status != domain.OrderFailed; step++ {
		if step > 3 {
			return nil, invalidOrderTransition(order.OrderNumber, order.Status, domain.OrderFailed)
		}

		var update domain.OrderUpdate
		switch order.Status {
		case domain.OrderPending:
			update = domain.OrderUpdate{Status: domain.OrderProcessing}
		case domain.OrderProcessing:
			update = domain.OrderUpdate{
				Status:      domain.OrderFailed,
				PaymentData: map[string]any{"failure_reason": reason},
			}
		default:
			return nil, invalidOrderTransition(order.OrderNumber, order.Status, domain.OrderFailed)
		}

		order, _, err = m.store.UpdateOrder(ctx, order.ID, []domain.OrderStatus{order.Status}, update)
		if err != nil {
			return nil, err
		}
	}
	return order, nil
}

// CancelOrder is the user-initiated cancel of a pending or processing order.
func (m *StateMachine) CancelOrder(ctx context.Context, orderNumber string) (*domain.Order, error) {
	return m.moveOrder(ctx, orderNumber, domain.OrderCancelled)
}

// RefundOrder marks a completed order refunded. Admin only.
func (m *StateMachine) RefundOrder(ctx context.Context, orderNumber string) (*domain.Order, error) {
	return m.moveOrder(ctx, orderNumber, domain.OrderRefunded)
}

// moveOrder applies a single guarded step to "to". Repeating a step that
// already happened is a no-op.
func (m *StateMachine) moveOrder(ctx context.Context, orderNumber string, to domain.OrderStatus) (*domain.Order, error) {
	order, err := m.store.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if order.Status == to {
		return order, nil
	}
	if !CanTransitionOrder(order.Status, to) {
		return nil, invalidOrderTransition(order.OrderNumber, order.Status, to)
	}

	current, applied, err := m.store.UpdateOrder(ctx, order.ID, orderSourcesFor(to), domain.OrderUpdate{Status: to})
	if err != nil {
		return nil, err
	}
	if !applied && current.Status != to {
		return nil, invalidOrderTransition(order.OrderNumber, current.Status, to)
	}

	m.logger.InfoContext(ctx, "order status changed", "order_number", orderNumber, "from", order.Status, "to", to)
	return current, nil
}

// DeleteOrder removes an order. Only cancelled orders can be deleted.
func (m *StateMachine) DeleteOrder(ctx context.Context, orderNumber string) error {
	order, err := m.store.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		return err
	}
	if order.Status != domain.OrderCancelled {
		return domain.NewServiceError(domain.ErrInvalidTransition,
			fmt.Sprintf("order %s is %s, only cancelled orders can be deleted", orderNumber, order.Status),
			"INVALID_TRANSITION")
	}
	return m.store.DeleteOrder(ctx, order.ID)
}

// CancelSubscription cancels a subscription from any status and records when.
func (m *StateMachine) CancelSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	sub, err := m.store.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == domain.SubscriptionCancelled {
		return sub, nil
	}

	cancelledAt := m.now()
	current, applied, err := m.store.UpdateSubscription(ctx, id,
		subscriptionSourcesFor(domain.SubscriptionCancelled),
		domain.SubscriptionUpdate{Status: domain.SubscriptionCancelled, CancelledAt: &cancelledAt})
	if err != nil {
		return nil, err
	}
	if !applied && current.Status != domain.SubscriptionCancelled {
		return nil, invalidSubscriptionTransition(id, current.Status, domain.SubscriptionCancelled)
	}
	return current, nil
}

// ExpireSubscriptions moves every active subscription past its end date to
// expired and returns how many this call changed.
func (m *StateMachine) ExpireSubscriptions(ctx context.Context) (int, error) {
	now := m.now()
	subs, err := m.store.ListExpiredSubscriptions(ctx, now)
	if err != nil {
		return 0, err
	}

	var (
		count int
		errs  []error
	)
	for _, sub := range subs {
		if !sub.EndDate.Before(now) {
			continue
		}
		current, applied, err := m.store.UpdateSubscription(ctx, sub.ID,
			[]domain.SubscriptionStatus{domain.SubscriptionActive},
			domain.SubscriptionUpdate{Status: domain.SubscriptionExpired})
		if err != nil {
			errs = append(errs, fmt.Errorf("expire subscription %s: %w", sub.ID, err))
			continue
		}
		if !applied {
			continue
		}
		count++
		m.notify(ctx, domain.Notification{
			Template:       domain.TemplateSubscriptionExpired,
			UserID:         current.UserID,
			SubscriptionID: current.ID,
			Context: map[string]any{
				"plan_id":  current.PlanID,
				"end_date": current.EndDate.Format(time.RFC3339),
			},
		})
	}

	m.logger.InfoContext(ctx, "subscription expiry sweep finished", "candidates", len(subs), "expired", count)
	return count, errors.Join(errs...)
}

// notify never fails the caller; delivery is the sender's concern.
func (m *StateMachine) notify(ctx context.Context, n domain.Notification) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(ctx, n); err != nil {
		m.logger.WarnContext(ctx, "notification failed", "template", n.Template, "error", err)
	}
}
