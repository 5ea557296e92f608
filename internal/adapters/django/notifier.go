package django

import (
	"context"
	"net/http"

	"github.com/fitstack/subscription-payments/internal/core/domain"
)

// Notify hands a notification to the backend's sender.
// POST /api/internal/notifications/
func (c *Client) Notify(ctx context.Context, n domain.Notification) error {
	status, err := c.do(ctx, http.MethodPost, "/api/internal/notifications/", n, nil)
	if err != nil {
		return err
	}
	if status/100 != 2 {
		return unexpectedStatus("notify", status)
	}
	return nil
}
