package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fitstack/subscription-payments/internal/core/billing"
	"github.com/fitstack/subscription-payments/internal/core/domain"
	"github.com/fitstack/subscription-payments/internal/core/service"
	"github.com/fitstack/subscription-payments/internal/pkg/metrics"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// mockService is a hand-written PaymentService.
type mockService struct {
	CreatePaymentFunc       func(ctx context.Context, req domain.CreatePaymentRequest) (*domain.CreatePaymentResponse, error)
	HandleCallbackFunc      func(ctx context.Context, fields domain.CallbackRecord) string
	GetInvoiceFunc          func(ctx context.Context, orderID string) (*domain.Invoice, error)
	CompleteTestPaymentFunc func(ctx context.Context, orderNumber string) (*billing.CompletionResult, error)
	debug                   bool
}

func (m *mockService) CreatePayment(ctx context.Context, req domain.CreatePaymentRequest) (*domain.CreatePaymentResponse, error) {
	return m.CreatePaymentFunc(ctx, req)
}

func (m *mockService) HandleCallback(ctx context.Context, fields domain.CallbackRecord) string {
	return m.HandleCallbackFunc(ctx, fields)
}

func (m *mockService) ResultRedirectURL(fields map[string]string) string {
	return "https://app.example.com?RtnCode=" + fields["RtnCode"] + "&page=payment_result"
}

func (m *mockService) ReturnURL() string { return "https://app.example.com/payment/result" }

func (m *mockService) GetInvoice(ctx context.Context, orderID string) (*domain.Invoice, error) {
	return m.GetInvoiceFunc(ctx, orderID)
}

func (m *mockService) CompleteTestPayment(ctx context.Context, orderNumber string) (*billing.CompletionResult, error) {
	return m.CompleteTestPaymentFunc(ctx, orderNumber)
}

func (m *mockService) DebugEnabled() bool { return m.debug }

func newRouter(svc *mockService, apiKey string) *gin.Engine {
	return SetupRouter(NewPaymentHandler(svc, time.Second), RouterOptions{ServiceAPIKey: apiKey, Metrics: metrics.New()})
}

func TestCreatePaymentHandler(t *testing.T) {
	t.Parallel()

	svc := &mockService{CreatePaymentFunc: func(_ context.Context, req domain.CreatePaymentRequest) (*domain.CreatePaymentResponse, error) {
		if req.Method == "Cash" {
			return &domain.CreatePaymentResponse{Success: false, Error: "unsupported", ErrorCode: "VALIDATION_ERROR"}, nil
		}
		if req.OrderNumber == "BOOM" {
			return nil, domain.NewServiceError(domain.ErrMappingWrite, "redis down", "MAPPING_ERROR")
		}
		return &domain.CreatePaymentResponse{Success: true, PaymentURL: "https://gw/pay", FormFields: map[string]string{"MerchantTradeNo": "X"}}, nil
	}}
	router := newRouter(svc, "secret")

	tests := []struct {
		name   string
		body   string
		auth   string
		status int
	}{
		{"ok", `{"order_number":"ORD1","amount":299,"item_name":"Plan"}`, "Bearer secret", http.StatusOK},
		{"missing auth", `{"order_number":"ORD1","amount":299,"item_name":"Plan"}`, "", http.StatusUnauthorized},
		{"wrong token", `{"order_number":"ORD1","amount":299,"item_name":"Plan"}`, "Bearer nope", http.StatusUnauthorized},
		{"binding failure", `{"order_number":"ORD1","amount":0,"item_name":"Plan"}`, "Bearer secret", http.StatusBadRequest},
		{"order number too long", `{"order_number":"ORD123456789012345678","amount":1,"item_name":"Plan"}`, "Bearer secret", http.StatusBadRequest},
		{"service validation", `{"order_number":"ORD1","amount":1,"item_name":"Plan","method":"Cash"}`, "Bearer secret", http.StatusBadRequest},
		{"internal error", `{"order_number":"BOOM","amount":1,"item_name":"Plan"}`, "Bearer secret", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodPost, "/payment/create", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.status, w.Body.String())
			}
			if tt.status == http.StatusInternalServerError && strings.Contains(w.Body.String(), "redis") {
				t.Errorf("internal error leaked: %s", w.Body.String())
			}
		})
	}
}

func TestCallbackHandler(t *testing.T) {
	t.Parallel()

	var got domain.CallbackRecord
	svc := &mockService{HandleCallbackFunc: func(ctx context.Context, fields domain.CallbackRecord) string {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("callback context has no deadline")
		}
		got = fields
		return service.AckOK
	}}
	router := newRouter(svc, "secret")

	form := url.Values{"MerchantTradeNo": {"ORD20240501000ABC123"}, "RtnCode": {"1"}, "CheckMacValue": {"ABC"}}
	req := httptest.NewRequest(http.MethodPost, "/payment/callback", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK || w.Body.String() != "1|OK" {
		t.Fatalf("response = %d %q", w.Code, w.Body.String())
	}
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain") {
		t.Errorf("content type = %s", w.Header().Get("Content-Type"))
	}
	if got["MerchantTradeNo"] != "ORD20240501000ABC123" || got["CheckMacValue"] != "ABC" {
		t.Errorf("fields = %v", got)
	}
}

func TestCallbackFailureStillReturns200(t *testing.T) {
	t.Parallel()

	svc := &mockService{HandleCallbackFunc: func(context.Context, domain.CallbackRecord) string {
		return service.AckVerificationFailed
	}}
	router := newRouter(svc, "")

	req := httptest.NewRequest(http.MethodPost, "/payment/callback", strings.NewReader("RtnCode=1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK || w.Body.String() != "0|Verification failed" {
		t.Fatalf("response = %d %q", w.Code, w.Body.String())
	}
}

func TestRedirectHandlers(t *testing.T) {
	t.Parallel()

	router := newRouter(&mockService{}, "secret")

	req := httptest.NewRequest(http.MethodPost, "/payment/result-redirect", strings.NewReader("RtnCode=1&MerchantTradeNo=X"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusFound || !strings.Contains(w.Header().Get("Location"), "RtnCode=1") {
		t.Errorf("result-redirect = %d %s", w.Code, w.Header().Get("Location"))
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payment/return", nil))
	if w.Code != http.StatusFound || w.Header().Get("Location") != "https://app.example.com/payment/result" {
		t.Errorf("return = %d %s", w.Code, w.Header().Get("Location"))
	}
}

func TestGetInvoiceHandler(t *testing.T) {
	t.Parallel()

	svc := &mockService{GetInvoiceFunc: func(_ context.Context, orderID string) (*domain.Invoice, error) {
		if orderID == "order-1" {
			return &domain.Invoice{ID: "inv-1", OrderID: orderID, InvoiceNumber: "INV1"}, nil
		}
		return nil, domain.NewServiceError(domain.ErrInvoiceNotFound, "order "+orderID, "INVOICE_NOT_FOUND")
	}}
	router := newRouter(svc, "")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payment/invoice/order-1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Invoice domain.Invoice `json:"invoice"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body.Invoice.InvoiceNumber != "INV1" {
		t.Errorf("body = %s (%v)", w.Body.String(), err)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payment/invoice/order-2", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("missing invoice status = %d", w.Code)
	}
}

func TestTestPaymentHandler(t *testing.T) {
	t.Parallel()

	complete := func(_ context.Context, orderNumber string) (*billing.CompletionResult, error) {
		if orderNumber == "MISSING" {
			return nil, domain.NewServiceError(domain.ErrOrderNotFound, "order MISSING", "ORDER_NOT_FOUND")
		}
		return &billing.CompletionResult{
			Order:          &domain.Order{OrderNumber: orderNumber, Status: domain.OrderCompleted},
			Invoice:        &domain.Invoice{InvoiceNumber: "INV1"},
			Completed:      true,
			InvoiceCreated: true,
		}, nil
	}

	tests := []struct {
		name   string
		debug  bool
		body   string
		status int
	}{
		{"disabled", false, `{"order_number":"ORD1"}`, http.StatusForbidden},
		{"enabled", true, `{"order_number":"ORD1"}`, http.StatusOK},
		{"missing order", true, `{"order_number":"MISSING"}`, http.StatusNotFound},
		{"bad body", true, `{}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			router := newRouter(&mockService{debug: tt.debug, CompleteTestPaymentFunc: complete}, "")
			req := httptest.NewRequest(http.MethodPost, "/payment/test", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.status, w.Body.String())
			}
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()

	router := newRouter(&mockService{}, "")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || w.Header().Get("X-Request-ID") == "" {
		t.Errorf("health = %d, request id %q", w.Code, w.Header().Get("X-Request-ID"))
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `payments_http_requests_total{handler="/health",status="200"} 1`) {
		t.Errorf("metrics = %d\n%s", w.Code, w.Body.String())
	}
}
