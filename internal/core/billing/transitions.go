// Package billing holds the order, subscription and invoice lifecycle rules
// and the cascade a successful payment triggers.
package billing

import (
	"fmt"

	"github.com/fitstack/subscription-payments/internal/core/domain"
)

var orderTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderPending:    {domain.OrderProcessing, domain.OrderCancelled},
	domain.OrderProcessing: {domain.OrderCompleted, domain.OrderFailed, domain.OrderCancelled},
	domain.OrderCompleted:  {domain.OrderRefunded},
}

var subscriptionTransitions = map[domain.SubscriptionStatus][]domain.SubscriptionStatus{
	domain.SubscriptionPending: {domain.SubscriptionActive, domain.SubscriptionCancelled},
	domain.SubscriptionTrial:   {domain.SubscriptionActive, domain.SubscriptionCancelled},
	domain.SubscriptionActive:  {domain.SubscriptionExpired, domain.SubscriptionCancelled},
	domain.SubscriptionExpired: {domain.SubscriptionCancelled},
}

// CanTransitionOrder reports whether an order may move from one status to another.
func CanTransitionOrder(from, to domain.OrderStatus) bool {
	for _, s := range orderTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanTransitionSubscription reports whether a subscription may move from one status to another.
func CanTransitionSubscription(from, to domain.SubscriptionStatus) bool {
	for _, s := range subscriptionTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// orderSourcesFor lists every status that may move to "to".
func orderSourcesFor(to domain.OrderStatus) []domain.OrderStatus {
	var from []domain.OrderStatus
	for _, s := range []domain.OrderStatus{
		domain.OrderPending, domain.OrderProcessing, domain.OrderCompleted,
		domain.OrderFailed, domain.OrderCancelled, domain.OrderRefunded,
	} {
		if CanTransitionOrder(s, to) {
			from = append(from, s)
		}
	}
	return from
}

func subscriptionSourcesFor(to domain.SubscriptionStatus) []domain.SubscriptionStatus {
	var from []domain.SubscriptionStatus
	for _, s := range []domain.SubscriptionStatus{
		domain.SubscriptionPending, domain.SubscriptionTrial, domain.SubscriptionActive,
		domain.SubscriptionExpired, domain.SubscriptionCancelled,
	} {
		if CanTransitionSubscription(s, to) {
			from = append(from, s)
		}
	}
	return from
}

func invalidOrderTransition(number string, from, to domain.OrderStatus) error {
	return domain.NewServiceError(domain.ErrInvalidTransition,
		fmt.Sprintf("order %s: %s -> %s", number, from, to), "INVALID_TRANSITION")
}

func invalidSubscriptionTransition(id string, from, to domain.SubscriptionStatus) error {
	return domain.NewServiceError(domain.ErrInvalidTransition,
		fmt.Sprintf("subscription %s: %s -> %s", id, from, to), "INVALID_TRANSITION")
}
