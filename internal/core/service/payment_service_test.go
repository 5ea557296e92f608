package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fitstack/subscription-payments/internal/adapters/memory"
	"github.com/fitstack/subscription-payments/internal/core/billing"
	"github.com/fitstack/subscription-payments/internal/core/domain"
)

type mockGateway struct {
	CreatePaymentFunc func(ctx context.Context, order domain.PaymentOrder) (*domain.PaymentForm, error)
	QueryPaymentFunc  func(ctx context.Context, attemptID string) (map[string]string, error)
}

func (m *mockGateway) CreatePayment(ctx context.Context, order domain.PaymentOrder) (*domain.PaymentForm, error) {
	return m.CreatePaymentFunc(ctx, order)
}

func (m *mockGateway) QueryPayment(ctx context.Context, attemptID string) (map[string]string, error) {
	return m.QueryPaymentFunc(ctx, attemptID)
}

type mockVerifier struct {
	VerifyFunc func(ctx context.Context, fields domain.CallbackRecord) (*domain.VerifiedCallback, error)
}

func (m *mockVerifier) Verify(ctx context.Context, fields domain.CallbackRecord) (*domain.VerifiedCallback, error) {
	return m.VerifyFunc(ctx, fields)
}

type mockQueue struct {
	mu    sync.Mutex
	tasks []domain.ReconcileTask
	err   error
}

func (m *mockQueue) Enqueue(_ context.Context, task domain.ReconcileTask) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, task)
	return nil
}

type seqNumbers struct{ n int }

func (s *seqNumbers) Next() string {
	s.n++
	return "INV" + decimal.NewFromInt(int64(s.n)).String()
}

func newService(gw *mockGateway, v *mockVerifier, q *mockQueue, debug bool) (*PaymentService, *memory.Store) {
	store := memory.NewStore()
	store.PutOrder(domain.Order{
		ID: "order-1", OrderNumber: "ORD20240501000001", UserID: "u1",
		Amount: decimal.RequireFromString("29.99"), Status: domain.OrderPending,
	})
	sm := billing.NewStateMachine(store, nil, &seqNumbers{})
	svc := NewPaymentService(gw, v, q, store, sm, Options{FrontendURL: "https://app.example.com", Debug: debug})
	return svc, store
}

func TestCreatePayment(t *testing.T) {
	t.Parallel()

	var got domain.PaymentOrder
	gw := &mockGateway{CreatePaymentFunc: func(_ context.Context, order domain.PaymentOrder) (*domain.PaymentForm, error) {
		got = order
		return &domain.PaymentForm{
			ActionURL: "https://payment-stage.ecpay.com.tw/Cashier/AioCheckOut/V5",
			AttemptID: "ORD20240501000ABC123",
			Fields:    map[string]string{"MerchantTradeNo": "ORD20240501000ABC123", "CheckMacValue": "X"},
		}, nil
	}}
	svc, _ := newService(gw, nil, nil, false)

	resp, err := svc.CreatePayment(context.Background(), domain.CreatePaymentRequest{
		OrderNumber: "ORD20240501000001", Amount: 299, ItemName: "Monthly plan", Method: "Credit",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.PaymentURL == "" || resp.FormFields["MerchantTradeNo"] != "ORD20240501000ABC123" {
		t.Errorf("response = %+v", resp)
	}
	if got.OrderNumber != "ORD20240501000001" || got.Amount != 299 {
		t.Errorf("gateway received %+v", got)
	}
}

func TestCreatePaymentValidation(t *testing.T) {
	t.Parallel()

	gw := &mockGateway{CreatePaymentFunc: func(context.Context, domain.PaymentOrder) (*domain.PaymentForm, error) {
		t.Error("gateway called for invalid request")
		return nil, nil
	}}
	svc, _ := newService(gw, nil, nil, false)

	for _, req := range []domain.CreatePaymentRequest{
		{OrderNumber: "", Amount: 1, ItemName: "x"},
		{OrderNumber: "ORD1", Amount: -5, ItemName: "x"},
		{OrderNumber: "ORD1", Amount: 1, ItemName: "x", Method: "Cash"},
	} {
		resp, err := svc.CreatePayment(context.Background(), req)
		if err != nil || resp.Success || resp.ErrorCode != "VALIDATION_ERROR" {
			t.Errorf("CreatePayment(%+v) = %+v, %v", req, resp, err)
		}
	}
}

func TestCreatePaymentGatewayError(t *testing.T) {
	t.Parallel()

	gw := &mockGateway{CreatePaymentFunc: func(context.Context, domain.PaymentOrder) (*domain.PaymentForm, error) {
		return nil, domain.NewServiceError(domain.ErrMappingWrite, "redis down", "MAPPING_ERROR")
	}}
	svc, _ := newService(gw, nil, nil, false)

	_, err := svc.CreatePayment(context.Background(), domain.CreatePaymentRequest{OrderNumber: "ORD1", Amount: 1, ItemName: "x"})
	if !errors.Is(err, domain.ErrMappingWrite) {
		t.Fatalf("error = %v", err)
	}
}

func TestHandleCallback(t *testing.T) {
	t.Parallel()

	paidAt := time.Date(2024, 5, 1, 4, 10, 0, 0, time.UTC)
	success := &domain.VerifiedCallback{
		AttemptID: "ORD20240501000ABC123", OrderNumber: "ORD20240501000001", Resolved: true,
		ReturnCode: 1, PaymentType: "Credit_CreditCard", TradeNo: "2405011210001", PaymentDate: &paidAt,
		Fields: domain.CallbackRecord{"TradeNo": "2405011210001"},
	}

	tests := []struct {
		name      string
		verify    func() (*domain.VerifiedCallback, error)
		queueErr  error
		want      string
		wantTasks int
	}{
		{
			name:      "success enqueues",
			verify:    func() (*domain.VerifiedCallback, error) { return success, nil },
			want:      AckOK,
			wantTasks: 1,
		},
		{
			name: "signature mismatch",
			verify: func() (*domain.VerifiedCallback, error) {
				return nil, domain.NewServiceError(domain.ErrSignatureMismatch, "", "SIGNATURE_MISMATCH")
			},
			want: AckVerificationFailed,
		},
		{
			name: "stale",
			verify: func() (*domain.VerifiedCallback, error) {
				return nil, domain.NewServiceError(domain.ErrStaleCallback, "", "STALE_CALLBACK")
			},
			want: AckStale,
		},
		{
			name: "unsuccessful payment",
			verify: func() (*domain.VerifiedCallback, error) {
				cb := *success
				cb.ReturnCode = 10100058
				return &cb, nil
			},
			want: AckPaymentFailed,
		},
		{
			name:     "queue failure asks for redelivery",
			verify:   func() (*domain.VerifiedCallback, error) { return success, nil },
			queueErr: errors.New("queue full"),
			want:     AckError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := &mockVerifier{VerifyFunc: func(context.Context, domain.CallbackRecord) (*domain.VerifiedCallback, error) {
				return tt.verify()
			}}
			q := &mockQueue{err: tt.queueErr}
			svc, store := newService(nil, v, q, false)

			if got := svc.HandleCallback(context.Background(), domain.CallbackRecord{"MerchantTradeNo": "ORD20240501000ABC123"}); got != tt.want {
				t.Errorf("ack = %q, want %q", got, tt.want)
			}
			if len(q.tasks) != tt.wantTasks {
				t.Fatalf("tasks = %d, want %d", len(q.tasks), tt.wantTasks)
			}
			if tt.wantTasks == 1 {
				task := q.tasks[0]
				if task.OrderNumber != "ORD20240501000001" || task.PaymentID != "2405011210001" || task.PaidAt == nil {
					t.Errorf("task = %+v", task)
				}
			}

			order, _ := store.GetOrderByNumber(context.Background(), "ORD20240501000001")
			if order.Status != domain.OrderPending {
				t.Errorf("callback handling changed order status to %s", order.Status)
			}
		})
	}
}

func TestHandleCallbackHoldsLatePayment(t *testing.T) {
	t.Parallel()

	paidAt := time.Date(2024, 4, 20, 4, 10, 0, 0, time.UTC)
	late := &domain.VerifiedCallback{
		AttemptID: "ORD20240420000ABC123", OrderNumber: "ORD20240420000001", Resolved: true,
		ReturnCode: 1, PaymentType: "Credit_CreditCard", TradeNo: "2404201210001", PaymentDate: &paidAt,
	}
	stale := domain.NewServiceError(domain.ErrStaleCallback, "PaymentDate 2024/04/20 12:10:00", "STALE_CALLBACK")

	tests := []struct {
		name        string
		returnCode  int
		wantLetters int
	}{
		{name: "successful payment is recorded", returnCode: 1, wantLetters: 1},
		{name: "failed payment is not recorded", returnCode: 10100058, wantLetters: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cb := *late
			cb.ReturnCode = tt.returnCode
			v := &mockVerifier{VerifyFunc: func(context.Context, domain.CallbackRecord) (*domain.VerifiedCallback, error) {
				return &cb, stale
			}}
			q := &mockQueue{}
			dl := memory.NewDeadLetters()
			store := memory.NewStore()
			svc := NewPaymentService(nil, v, q, store, billing.NewStateMachine(store, nil, &seqNumbers{}),
				Options{DeadLetters: dl})

			if got := svc.HandleCallback(context.Background(), domain.CallbackRecord{}); got != AckStale {
				t.Errorf("ack = %q, want %q", got, AckStale)
			}
			if len(q.tasks) != 0 {
				t.Errorf("stale callback was enqueued: %+v", q.tasks)
			}

			pending, _ := dl.ListPending(context.Background(), 10)
			if len(pending) != tt.wantLetters {
				t.Fatalf("dead letters = %d, want %d", len(pending), tt.wantLetters)
			}
			if tt.wantLetters == 0 {
				return
			}
			got := pending[0]
			if got.AttemptID != "ORD20240420000ABC123" || got.OrderNumber != "ORD20240420000001" || got.Attempts != 0 {
				t.Errorf("dead letter = %+v", got)
			}
			var task domain.ReconcileTask
			if err := json.Unmarshal(got.Payload, &task); err != nil {
				t.Fatal(err)
			}
			if task.Source != domain.SourceStaleCallback || task.PaymentID != "2404201210001" || task.PaidAt == nil {
				t.Errorf("payload task = %+v", task)
			}
		})
	}
}

func TestResultRedirectURL(t *testing.T) {
	t.Parallel()

	svc, _ := newService(nil, nil, nil, false)
	got := svc.ResultRedirectURL(map[string]string{
		"RtnCode": "1", "MerchantTradeNo": "ORD20240501000ABC123", "RtnMsg": "Succeeded", "TradeNo": "2405011210001",
	})

	u, err := url.Parse(got)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(got, "https://app.example.com?") {
		t.Errorf("url = %s", got)
	}
	q := u.Query()
	if q.Get("RtnCode") != "1" || q.Get("page") != "payment_result" || q.Get("TradeNo") != "2405011210001" {
		t.Errorf("query = %v", q)
	}
}

func TestCompleteTestPayment(t *testing.T) {
	t.Parallel()

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()
		svc, _ := newService(nil, nil, nil, false)
		if _, err := svc.CompleteTestPayment(context.Background(), "ORD20240501000001"); err == nil {
			t.Fatal("expected error when debug is off")
		}
	})

	t.Run("enabled", func(t *testing.T) {
		t.Parallel()
		svc, store := newService(nil, nil, nil, true)
		res, err := svc.CompleteTestPayment(context.Background(), "ORD20240501000001")
		if err != nil {
			t.Fatal(err)
		}
		if !res.Completed || !res.InvoiceCreated {
			t.Errorf("result = %+v", res)
		}
		order, _ := store.GetOrderByNumber(context.Background(), "ORD20240501000001")
		if order.PaymentData["test"] != true {
			t.Errorf("payment data = %v", order.PaymentData)
		}
	})

	t.Run("unknown order", func(t *testing.T) {
		t.Parallel()
		svc, _ := newService(nil, nil, nil, true)
		if _, err := svc.CompleteTestPayment(context.Background(), "NOPE"); !errors.Is(err, domain.ErrOrderNotFound) {
			t.Fatalf("error = %v", err)
		}
	})
}

func TestGetInvoice(t *testing.T) {
	t.Parallel()

	svc, _ := newService(nil, nil, nil, true)
	if _, err := svc.GetInvoice(context.Background(), "order-1"); !errors.Is(err, domain.ErrInvoiceNotFound) {
		t.Fatalf("before payment: %v", err)
	}
	if _, err := svc.CompleteTestPayment(context.Background(), "ORD20240501000001"); err != nil {
		t.Fatal(err)
	}
	inv, err := svc.GetInvoice(context.Background(), "order-1")
	if err != nil || inv.TotalAmount.StringFixed(2) != "31.49" {
		t.Errorf("GetInvoice() = %+v, %v", inv, err)
	}
}
