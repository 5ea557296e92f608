// Package domain contains the core business entities for the payment service.
// This is the innermost layer - no adapters, no transport.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an Order.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderCompleted  OrderStatus = "completed"
	OrderFailed     OrderStatus = "failed"
	OrderCancelled  OrderStatus = "cancelled"
	OrderRefunded   OrderStatus = "refunded"
)

// SubscriptionStatus is the lifecycle state of a Subscription.
type SubscriptionStatus string

const (
	SubscriptionPending   SubscriptionStatus = "pending"
	SubscriptionTrial     SubscriptionStatus = "trial"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// DefaultCurrency is used when the backend omits one.
const DefaultCurrency = "TWD"

// Order is a purchase of a plan. The backend assigns OrderNumber once; this
// service only moves its status and records payment metadata.
type Order struct {
	ID             string          `json:"id"`
	OrderNumber    string          `json:"order_number"`
	UserID         string          `json:"user_id"`
	PlanID         string          `json:"plan_id"`
	SubscriptionID string          `json:"subscription_id,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Status         OrderStatus     `json:"status"`
	PaymentMethod  string          `json:"payment_method,omitempty"`
	PaymentID      string          `json:"payment_id,omitempty"`
	PaymentData    map[string]any  `json:"payment_data,omitempty"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	InvoiceID      string          `json:"invoice_id,omitempty"`
}

// OrderUpdate is applied by a guarded order transition. Empty fields are left
// untouched by the store.
type OrderUpdate struct {
	Status        OrderStatus    `json:"to"`
	PaymentMethod string         `json:"payment_method,omitempty"`
	PaymentID     string         `json:"payment_id,omitempty"`
	PaymentData   map[string]any `json:"payment_data,omitempty"`
	PaidAt        *time.Time     `json:"paid_at,omitempty"`
}

// Subscription grants access to a plan for a period.
type Subscription struct {
	ID           string             `json:"id"`
	UserID       string             `json:"user_id"`
	PlanID       string             `json:"plan_id"`
	Status       SubscriptionStatus `json:"status"`
	StartDate    time.Time          `json:"start_date"`
	EndDate      time.Time          `json:"end_date"`
	AutoRenew    bool               `json:"auto_renew"`
	TrialEndDate *time.Time         `json:"trial_end_date,omitempty"`
	CancelledAt  *time.Time         `json:"cancelled_at,omitempty"`
}

// IsActive reports whether the subscription is active and now lies within its period.
func (s Subscription) IsActive(now time.Time) bool {
	return s.Status == SubscriptionActive && !now.Before(s.StartDate) && !now.After(s.EndDate)
}

// SubscriptionUpdate is applied by a guarded subscription transition.
type SubscriptionUpdate struct {
	Status      SubscriptionStatus `json:"to"`
	StartDate   *time.Time         `json:"start_date,omitempty"`
	EndDate     *time.Time         `json:"end_date,omitempty"`
	CancelledAt *time.Time         `json:"cancelled_at,omitempty"`
}

// Invoice is issued exactly once per completed order and not edited afterwards.
type Invoice struct {
	ID            string          `json:"id"`
	InvoiceNumber string          `json:"invoice_number"`
	OrderID       string          `json:"order_id"`
	UserID        string          `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Currency      string          `json:"currency"`
	IssuedAt      time.Time       `json:"issued_at"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
}

// Notification is handed to the backend's notification sender.
type Notification struct {
	Template       string         `json:"template"`
	UserID         string         `json:"user_id,omitempty"`
	OrderID        string         `json:"order_id,omitempty"`
	SubscriptionID string         `json:"subscription_id,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
}

// Notification templates.
const (
	TemplatePaymentConfirmation = "payment_confirmation"
	TemplateSubscriptionExpired = "subscription_expired"
)
