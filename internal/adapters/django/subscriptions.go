package django

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/fitstack/subscription-payments/internal/core/domain"
)

type subscriptionTransitionRequest struct {
	From []domain.SubscriptionStatus `json:"from"`
	domain.SubscriptionUpdate
}

type subscriptionList struct {
	Results []domain.Subscription `json:"results"`
}

// GetSubscription fetches a subscription.
// GET /api/internal/subscriptions/:id/
func (c *Client) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	var sub domain.Subscription
	status, err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/api/internal/subscriptions/%s/", url.PathEscape(id)), nil, &sub)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		return &sub, nil
	case http.StatusNotFound:
		return nil, domain.NewServiceError(domain.ErrSubscriptionNotFound, "subscription "+id, "SUBSCRIPTION_NOT_FOUND")
	default:
		return nil, unexpectedStatus("get subscription", status)
	}
}

// UpdateSubscription applies a guarded transition.
// POST /api/internal/subscriptions/:id/transition/
func (c *Client) UpdateSubscription(ctx context.Context, id string, from []domain.SubscriptionStatus, update domain.SubscriptionUpdate) (*domain.Subscription, bool, error) {
	var resp transitionResponse[domain.Subscription]
	status, err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("/api/internal/subscriptions/%s/transition/", url.PathEscape(id)),
		subscriptionTransitionRequest{From: from, SubscriptionUpdate: update}, &resp)
	if err != nil {
		return nil, false, err
	}
	switch status {
	case http.StatusOK:
		return &resp.Current, true, nil
	case http.StatusConflict:
		return &resp.Current, false, nil
	case http.StatusNotFound:
		return nil, false, domain.NewServiceError(domain.ErrSubscriptionNotFound, "subscription "+id, "SUBSCRIPTION_NOT_FOUND")
	default:
		return nil, false, unexpectedStatus("update subscription", status)
	}
}

// ListExpiredSubscriptions lists active subscriptions that ended before now.
// GET /api/internal/subscriptions/?status=active&end_date__lt=:now
func (c *Client) ListExpiredSubscriptions(ctx context.Context, now time.Time) ([]domain.Subscription, error) {
	q := url.Values{}
	q.Set("status", string(domain.SubscriptionActive))
	q.Set("end_date__lt", now.UTC().Format(time.RFC3339))

	var list subscriptionList
	status, err := c.do(ctx, http.MethodGet, "/api/internal/subscriptions/?"+q.Encode(), nil, &list)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, unexpectedStatus("list subscriptions", status)
	}
	return list.Results, nil
}
