package django

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/fitstack/subscription-payments/internal/core/domain"
)

// transitionResponse is returned by the guarded transition endpoints with
// 200 (applied) or 409 (guard did not match).
type transitionResponse[T any] struct {
	Applied bool `json:"applied"`
	Current T    `json:"current"`
}

type orderTransitionRequest struct {
	From []domain.OrderStatus `json:"from"`
	domain.OrderUpdate
}

// GetOrderByNumber fetches an order.
// GET /api/internal/orders/by-number/:number/
func (c *Client) GetOrderByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	var order domain.Order
	status, err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/api/internal/orders/by-number/%s/", url.PathEscape(orderNumber)), nil, &order)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		return &order, nil
	case http.StatusNotFound:
		return nil, domain.NewServiceError(domain.ErrOrderNotFound, "order "+orderNumber, "ORDER_NOT_FOUND")
	default:
		return nil, unexpectedStatus("get order", status)
	}
}

// UpdateOrder applies a guarded transition.
// POST /api/internal/orders/:id/transition/
func (c *Client) UpdateOrder(ctx context.Context, id string, from []domain.OrderStatus, update domain.OrderUpdate) (*domain.Order, bool, error) {
	var resp transitionResponse[domain.Order]
	status, err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("/api/internal/orders/%s/transition/", url.PathEscape(id)),
		orderTransitionRequest{From: from, OrderUpdate: update}, &resp)
	if err != nil {
		return nil, false, err
	}
	switch status {
	case http.StatusOK:
		return &resp.Current, true, nil
	case http.StatusConflict:
		return &resp.Current, false, nil
	case http.StatusNotFound:
		return nil, false, domain.NewServiceError(domain.ErrOrderNotFound, "order "+id, "ORDER_NOT_FOUND")
	default:
		return nil, false, unexpectedStatus("update order", status)
	}
}

// DeleteOrder removes a cancelled order.
// DELETE /api/internal/orders/:id/
func (c *Client) DeleteOrder(ctx context.Context, id string) error {
	status, err := c.do(ctx, http.MethodDelete,
		fmt.Sprintf("/api/internal/orders/%s/", url.PathEscape(id)), nil, nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return domain.NewServiceError(domain.ErrOrderNotFound, "order "+id, "ORDER_NOT_FOUND")
	case http.StatusConflict:
		return domain.NewServiceError(domain.ErrInvalidTransition, "order "+id+" is not cancelled", "INVALID_TRANSITION")
	default:
		return unexpectedStatus("delete order", status)
	}
}
