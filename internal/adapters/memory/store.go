// Package memory provides in-process implementations of the billing ports.
// They back BILLING_STORE=memory for local development and the tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/fitstack/subscription-payments/internal/core/domain"
)

// Store implements ports.BillingStore. A single mutex makes every guarded
// update atomic.
type Store struct {
	mu       sync.Mutex
	orders   map[string]*domain.Order
	byNumber map[string]string
	invoices map[string]*domain.Invoice
	subs     map[string]*domain.Subscription
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		orders:   make(map[string]*domain.Order),
		byNumber: make(map[string]string),
		invoices: make(map[string]*domain.Invoice),
		subs:     make(map[string]*domain.Subscription),
	}
}

// PutOrder inserts or replaces an order.
func (s *Store) PutOrder(o domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = cloneOrder(&o)
	s.byNumber[o.OrderNumber] = o.ID
}

// PutSubscription inserts or replaces a subscription.
func (s *Store) PutSubscription(sub domain.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := sub
	s.subs[sub.ID] = &c
}

func (s *Store) GetOrderByNumber(_ context.Context, orderNumber string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byNumber[orderNumber]
	if !ok {
		return nil, domain.NewServiceError(domain.ErrOrderNotFound, "order "+orderNumber, "ORDER_NOT_FOUND")
	}
	return cloneOrder(s.orders[id]), nil
}

func (s *Store) UpdateOrder(_ context.Context, id string, from []domain.OrderStatus, update domain.OrderUpdate) (*domain.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, false, domain.NewServiceError(domain.ErrOrderNotFound, "order "+id, "ORDER_NOT_FOUND")
	}
	if !slices.Contains(from, o.Status) {
		return cloneOrder(o), false, nil
	}

	o.Status = update.Status
	if update.PaymentMethod != "" {
		o.PaymentMethod = update.PaymentMethod
	}
	if update.PaymentID != "" {
		o.PaymentID = update.PaymentID
	}
	if update.PaidAt != nil {
		t := *update.PaidAt
		o.PaidAt = &t
	}
	if len(update.PaymentData) > 0 {
		if o.PaymentData == nil {
			o.PaymentData = make(map[string]any, len(update.PaymentData))
		}
		for k, v := range update.PaymentData {
			o.PaymentData[k] = v
		}
	}
	return cloneOrder(o), true, nil
}

func (s *Store) DeleteOrder(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.NewServiceError(domain.ErrOrderNotFound, "order "+id, "ORDER_NOT_FOUND")
	}
	if o.Status != domain.OrderCancelled {
		return domain.NewServiceError(domain.ErrInvalidTransition,
			fmt.Sprintf("order %s is %s", o.OrderNumber, o.Status), "INVALID_TRANSITION")
	}
	delete(s.orders, id)
	delete(s.byNumber, o.OrderNumber)
	return nil
}

func (s *Store) CreateInvoice(_ context.Context, inv domain.Invoice) (*domain.Invoice, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.invoices[inv.OrderID]; ok {
		c := *existing
		return &c, false, nil
	}
	stored := inv
	s.invoices[inv.OrderID] = &stored
	if o, ok := s.orders[inv.OrderID]; ok {
		o.InvoiceID = inv.ID
	}
	c := stored
	return &c, true, nil
}

func (s *Store) GetInvoiceByOrder(_ context.Context, orderID string) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[orderID]
	if !ok {
		return nil, domain.NewServiceError(domain.ErrInvoiceNotFound, "order "+orderID, "INVOICE_NOT_FOUND")
	}
	c := *inv
	return &c, nil
}

// InvoiceCount returns how many invoices exist.
func (s *Store) InvoiceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.invoices)
}

func (s *Store) GetSubscription(_ context.Context, id string) (*domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return nil, domain.NewServiceError(domain.ErrSubscriptionNotFound, "subscription "+id, "SUBSCRIPTION_NOT_FOUND")
	}
	c := *sub
	return &c, nil
}

func (s *Store) UpdateSubscription(_ context.Context, id string, from []domain.SubscriptionStatus, update domain.SubscriptionUpdate) (*domain.Subscription, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return nil, false, domain.NewServiceError(domain.ErrSubscriptionNotFound, "subscription "+id, "SUBSCRIPTION_NOT_FOUND")
	}
	if !slices.Contains(from, sub.Status) {
		c := *sub
		return &c, false, nil
	}

	sub.Status = update.Status
	if update.StartDate != nil {
		sub.StartDate = *update.StartDate
	}
	if update.EndDate != nil {
		sub.EndDate = *update.EndDate
	}
	if update.CancelledAt != nil {
		t := *update.CancelledAt
		sub.CancelledAt = &t
	}
	c := *sub
	return &c, true, nil
}

func (s *Store) ListExpiredSubscriptions(_ context.Context, now time.Time) ([]domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Subscription
	for _, sub := range s.subs {
		if sub.Status == domain.SubscriptionActive && sub.EndDate.Before(now) {
			out = append(out, *sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func cloneOrder(o *domain.Order) *domain.Order {
	c := *o
	if o.PaymentData != nil {
		c.PaymentData = make(map[string]any, len(o.PaymentData))
		for k, v := range o.PaymentData {
			c.PaymentData[k] = v
		}
	}
	if o.PaidAt != nil {
		t := *o.PaidAt
		c.PaidAt = &t
	}
	return &c
}
