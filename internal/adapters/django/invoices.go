package django

import (
	"context"
	"net/http"
	"net/url"

	"github.com/fitstack/subscription-payments/internal/core/domain"
)

type invoiceList struct {
	Results []domain.Invoice `json:"results"`
}

// CreateInvoice inserts an invoice. The backend enforces one invoice per
// order and answers 409 with the existing invoice.
// POST /api/internal/invoices/
func (c *Client) CreateInvoice(ctx context.Context, inv domain.Invoice) (*domain.Invoice, bool, error) {
	var stored domain.Invoice
	status, err := c.do(ctx, http.MethodPost, "/api/internal/invoices/", inv, &stored)
	if err != nil {
		return nil, false, err
	}
	switch status {
	case http.StatusCreated, http.StatusOK:
		return &stored, true, nil
	case http.StatusConflict:
		return &stored, false, nil
	default:
		return nil, false, unexpectedStatus("create invoice", status)
	}
}

// GetInvoiceByOrder returns the invoice of an order.
// GET /api/invoices/?order=:id
func (c *Client) GetInvoiceByOrder(ctx context.Context, orderID string) (*domain.Invoice, error) {
	var list invoiceList
	status, err := c.do(ctx, http.MethodGet, "/api/invoices/?order="+url.QueryEscape(orderID), nil, &list)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		if status == http.StatusNotFound {
			return nil, domain.NewServiceError(domain.ErrInvoiceNotFound, "order "+orderID, "INVOICE_NOT_FOUND")
		}
		return nil, unexpectedStatus("get invoice", status)
	}
	if len(list.Results) == 0 {
		return nil, domain.NewServiceError(domain.ErrInvoiceNotFound, "order "+orderID, "INVOICE_NOT_FOUND")
	}
	return &list.Results[0], nil
}
