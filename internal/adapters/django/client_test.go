package django

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fitstack/subscription-payments/internal/core/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "internal-key")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestGetOrderByNumber(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Internal-API-Key") != "internal-key" {
			t.Errorf("missing api key header")
		}
		switch r.URL.Path {
		case "/api/internal/orders/by-number/ORD1/":
			writeJSON(w, http.StatusOK, map[string]any{
				"id": "o1", "order_number": "ORD1", "status": "pending", "amount": "29.99",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	order, err := c.GetOrderByNumber(context.Background(), "ORD1")
	if err != nil {
		t.Fatal(err)
	}
	if order.Status != domain.OrderPending || !order.Amount.Equal(decimal.RequireFromString("29.99")) {
		t.Errorf("order = %+v", order)
	}

	if _, err := c.GetOrderByNumber(context.Background(), "ORD2"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("missing order error = %v", err)
	}
}

func TestUpdateOrderGuard(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			From []domain.OrderStatus `json:"from"`
			To   domain.OrderStatus   `json:"to"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body.To != domain.OrderProcessing || len(body.From) != 1 || body.From[0] != domain.OrderPending {
			t.Errorf("request body = %+v", body)
		}
		if r.URL.Path == "/api/internal/orders/o1/transition/" {
			writeJSON(w, http.StatusOK, map[string]any{"applied": true, "current": map[string]any{"id": "o1", "status": "processing"}})
			return
		}
		writeJSON(w, http.StatusConflict, map[string]any{"applied": false, "current": map[string]any{"id": "o2", "status": "completed"}})
	})

	from := []domain.OrderStatus{domain.OrderPending}
	update := domain.OrderUpdate{Status: domain.OrderProcessing}

	order, applied, err := c.UpdateOrder(context.Background(), "o1", from, update)
	if err != nil || !applied || order.Status != domain.OrderProcessing {
		t.Errorf("applied update = %+v, %v, %v", order, applied, err)
	}

	order, applied, err = c.UpdateOrder(context.Background(), "o2", from, update)
	if err != nil || applied || order.Status != domain.OrderCompleted {
		t.Errorf("conflicting update = %+v, %v, %v", order, applied, err)
	}
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   error
	}{
		{http.StatusServiceUnavailable, domain.ErrUpstreamUnavailable},
		{http.StatusInternalServerError, domain.ErrUpstreamUnavailable},
		{http.StatusTooManyRequests, domain.ErrUpstreamUnavailable},
		{http.StatusUnauthorized, domain.ErrBackendAuth},
		{http.StatusForbidden, domain.ErrBackendAuth},
		{http.StatusBadRequest, domain.ErrBackendRejected},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			_, _, err := c.CreateInvoice(context.Background(), domain.Invoice{OrderID: "o1"})
			if !errors.Is(err, tt.want) {
				t.Errorf("status %d: error = %v, want %v", tt.status, err, tt.want)
			}
		})
	}
}

func TestUnreachableBackendIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, "")
	if _, err := c.GetSubscription(context.Background(), "s1"); !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("error = %v, want ErrUpstreamUnavailable", err)
	}
}

func TestCreateInvoiceConflictReturnsExisting(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]any{"id": "existing", "order_id": "o1", "invoice_number": "INV1"})
	})

	inv, created, err := c.CreateInvoice(context.Background(), domain.Invoice{ID: "new", OrderID: "o1"})
	if err != nil || created || inv.ID != "existing" {
		t.Errorf("CreateInvoice() = %+v, %v, %v", inv, created, err)
	}
}

func TestGetInvoiceByOrder(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/invoices/" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("order") == "o1" {
			writeJSON(w, http.StatusOK, map[string]any{"results": []map[string]any{{"id": "i1", "order_id": "o1", "total_amount": "31.49"}}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": []any{}})
	})

	inv, err := c.GetInvoiceByOrder(context.Background(), "o1")
	if err != nil || inv.ID != "i1" || inv.TotalAmount.StringFixed(2) != "31.49" {
		t.Errorf("GetInvoiceByOrder(o1) = %+v, %v", inv, err)
	}
	if _, err := c.GetInvoiceByOrder(context.Background(), "o2"); !errors.Is(err, domain.ErrInvoiceNotFound) {
		t.Errorf("GetInvoiceByOrder(o2) error = %v", err)
	}
}

func TestListExpiredSubscriptions(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("status") != "active" || q.Get("end_date__lt") != "2024-05-01T12:00:00Z" {
			t.Errorf("query = %v", q)
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": []map[string]any{
			{"id": "s1", "status": "active", "end_date": "2024-04-30T12:00:00Z", "start_date": "2024-03-31T12:00:00Z"},
		}})
	})

	subs, err := c.ListExpiredSubscriptions(context.Background(), now)
	if err != nil || len(subs) != 1 || subs[0].ID != "s1" {
		t.Errorf("ListExpiredSubscriptions() = %+v, %v", subs, err)
	}
}

func TestNotify(t *testing.T) {
	t.Parallel()

	var got domain.Notification
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	})

	err := c.Notify(context.Background(), domain.Notification{Template: domain.TemplatePaymentConfirmation, OrderID: "o1"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Template != domain.TemplatePaymentConfirmation || got.OrderID != "o1" {
		t.Errorf("backend received %+v", got)
	}
}
