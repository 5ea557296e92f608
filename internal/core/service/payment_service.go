// Package service implements the core business logic.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/fitstack/subscription-payments/internal/core/billing"
	"github.com/fitstack/subscription-payments/internal/core/domain"
	"github.com/fitstack/subscription-payments/internal/core/ports"
	"github.com/fitstack/subscription-payments/internal/pkg/metrics"
)

// Callback acknowledgements. The gateway retries anything but AckOK.
const (
	AckOK                 = "1|OK"
	AckVerificationFailed = "0|Verification failed"
	AckStale              = "0|Stale callback"
	AckPaymentFailed      = "0|Payment failed"
	AckError              = "0|Error"
)

// Completer applies a successful payment to its order.
type Completer interface {
	CompleteOrder(ctx context.Context, req billing.CompletionRequest) (*billing.CompletionResult, error)
}

// Options holds the non-port settings of the service.
type Options struct {
	// FrontendURL receives the browser after a payment.
	FrontendURL string
	// Debug enables CompleteTestPayment.
	Debug   bool
	Metrics *metrics.Metrics
	// DeadLetters holds late successful callbacks for operator replay.
	DeadLetters ports.DeadLetterStore
}

// PaymentService orchestrates payment operations.
type PaymentService struct {
	gateway   ports.PaymentGateway
	verifier  ports.CallbackVerifier
	queue     ports.TaskQueue
	orders    ports.OrderStore
	invoices  ports.InvoiceStore
	completer Completer
	opts      Options
	now       func() time.Time
}

// NewPaymentService creates a new payment service.
func NewPaymentService(
	gateway ports.PaymentGateway,
	verifier ports.CallbackVerifier,
	queue ports.TaskQueue,
	store ports.BillingStore,
	completer Completer,
	opts Options,
) *PaymentService {
	return &PaymentService{
		gateway:   gateway,
		verifier:  verifier,
		queue:     queue,
		orders:    store,
		invoices:  store,
		completer: completer,
		opts:      opts,
		now:       time.Now,
	}
}

// CreatePayment builds the signed form for a new payment attempt.
// Validation failures are returned as an unsuccessful response, not an error.
func (s *PaymentService) CreatePayment(ctx context.Context, req domain.CreatePaymentRequest) (*domain.CreatePaymentResponse, error) {
	if req.OrderNumber == "" || req.Amount <= 0 || req.ItemName == "" {
		return &domain.CreatePaymentResponse{
			Success:   false,
			Error:     "order_number, amount and item_name are required",
			ErrorCode: "VALIDATION_ERROR",
		}, nil
	}
	if req.Method != "" && !domain.ValidPaymentMethod(req.Method) {
		return &domain.CreatePaymentResponse{
			Success:   false,
			Error:     "unsupported payment method: " + req.Method,
			ErrorCode: "VALIDATION_ERROR",
		}, nil
	}

	form, err := s.gateway.CreatePayment(ctx, domain.PaymentOrder{
		OrderNumber: req.OrderNumber,
		Amount:      req.Amount,
		ItemName:    req.ItemName,
		Description: req.Description,
		Method:      req.Method,
	})
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return &domain.CreatePaymentResponse{
				Success:   false,
				Error:     err.Error(),
				ErrorCode: "VALIDATION_ERROR",
			}, nil
		}
		return nil, fmt.Errorf("create payment for order %s: %w", req.OrderNumber, err)
	}

	slog.InfoContext(ctx, "payment attempt created",
		"order_number", req.OrderNumber, "attempt_id", form.AttemptID, "amount", req.Amount)

	return &domain.CreatePaymentResponse{
		Success:    true,
		PaymentURL: form.ActionURL,
		FormFields: form.Fields,
		Message:    "Redirecting to payment page",
	}, nil
}

// HandleCallback verifies a gateway callback and enqueues the reconciliation
// of a successful payment. It returns the acknowledgement body.
func (s *PaymentService) HandleCallback(ctx context.Context, fields domain.CallbackRecord) string {
	// Step 1: Authenticate
	cb, err := s.verifier.Verify(ctx, fields)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSignatureMismatch):
			slog.WarnContext(ctx, "callback signature mismatch", "merchant_trade_no", fields["MerchantTradeNo"])
			s.opts.Metrics.CallbackOutcome("signature_mismatch")
			return AckVerificationFailed
		case errors.Is(err, domain.ErrStaleCallback):
			s.opts.Metrics.CallbackOutcome("stale")
			if cb != nil && cb.Succeeded() {
				s.holdStaleCallback(ctx, cb, err)
			} else {
				slog.WarnContext(ctx, "callback outside replay window", "merchant_trade_no", fields["MerchantTradeNo"], "error", err)
			}
			return AckStale
		default:
			slog.ErrorContext(ctx, "callback verification error", "error", err)
			s.opts.Metrics.CallbackOutcome("error")
			return AckError
		}
	}

	// Step 2: Only successful payments move the order
	if !cb.Succeeded() {
		slog.InfoContext(ctx, "gateway reported unsuccessful payment",
			"order_number", cb.OrderNumber, "attempt_id", cb.AttemptID, "rtn_code", cb.ReturnCode, "rtn_msg", cb.ReturnMessage)
		s.opts.Metrics.CallbackOutcome("payment_failed")
		return AckPaymentFailed
	}

	// Step 3: Hand off to the worker
	task := s.taskFor(cb, domain.SourceCallback)
	if err := s.queue.Enqueue(ctx, task); err != nil {
		slog.ErrorContext(ctx, "failed to enqueue reconciliation", "order_number", cb.OrderNumber, "error", err)
		s.opts.Metrics.CallbackOutcome("enqueue_failed")
		return AckError
	}

	slog.InfoContext(ctx, "callback accepted",
		"order_number", cb.OrderNumber, "attempt_id", cb.AttemptID, "resolved", cb.Resolved, "trade_no", cb.TradeNo)
	s.opts.Metrics.CallbackOutcome("ok")
	return AckOK
}

func (s *PaymentService) taskFor(cb *domain.VerifiedCallback, source string) domain.ReconcileTask {
	return domain.ReconcileTask{
		ID:            uuid.New().String(),
		OrderNumber:   cb.OrderNumber,
		AttemptID:     cb.AttemptID,
		PaymentMethod: cb.PaymentType,
		PaymentID:     cb.TradeNo,
		PaymentData:   cb.PaymentData(),
		PaidAt:        cb.PaymentDate,
		ReceivedAt:    s.now().UTC(),
		Source:        source,
	}
}

// holdStaleCallback stores a late successful payment as a dead letter so an
// operator can replay it. The gateway is still told the callback is stale.
func (s *PaymentService) holdStaleCallback(ctx context.Context, cb *domain.VerifiedCallback, cause error) {
	logger := slog.With("order_number", cb.OrderNumber, "attempt_id", cb.AttemptID,
		"trade_no", cb.TradeNo, "payment_date", cb.PaymentDate)

	task := s.taskFor(cb, domain.SourceStaleCallback)
	payload, err := json.Marshal(task)
	if err != nil {
		logger.ErrorContext(ctx, "late payment not recorded", "error", err)
		return
	}
	if s.opts.DeadLetters == nil {
		logger.ErrorContext(ctx, "late payment not recorded, no dead letter store", "payload", string(payload), "error", cause)
		return
	}

	dl := domain.DeadLetter{
		ID:          uuid.New().String(),
		TaskID:      task.ID,
		OrderNumber: task.OrderNumber,
		AttemptID:   task.AttemptID,
		Payload:     payload,
		LastError:   cause.Error(),
		CreatedAt:   s.now().UTC(),
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.opts.DeadLetters.Save(saveCtx, dl); err != nil {
		logger.ErrorContext(ctx, "late payment not recorded", "payload", string(payload), "error", err)
		return
	}
	s.opts.Metrics.DeadLettered()
	logger.ErrorContext(ctx, "late payment held for review", "dead_letter_id", dl.ID, "error", cause)
}

// ResultRedirectURL turns the gateway's browser POST into a GET on the frontend.
func (s *PaymentService) ResultRedirectURL(fields map[string]string) string {
	q := url.Values{}
	q.Set("RtnCode", fields["RtnCode"])
	q.Set("MerchantTradeNo", fields["MerchantTradeNo"])
	q.Set("RtnMsg", fields["RtnMsg"])
	q.Set("TradeNo", fields["TradeNo"])
	q.Set("page", "payment_result")
	return s.opts.FrontendURL + "?" + q.Encode()
}

// ReturnURL is where the cashier's "back" link lands the user.
func (s *PaymentService) ReturnURL() string {
	return s.opts.FrontendURL + "/payment/result"
}

// GetInvoice returns the invoice of an order.
func (s *PaymentService) GetInvoice(ctx context.Context, orderID string) (*domain.Invoice, error) {
	if orderID == "" {
		return nil, domain.NewServiceError(domain.ErrValidation, "order id is required", "VALIDATION_ERROR")
	}
	return s.invoices.GetInvoiceByOrder(ctx, orderID)
}

// QueryPayment asks the gateway for the trade record of an attempt id.
func (s *PaymentService) QueryPayment(ctx context.Context, attemptID string) (map[string]string, error) {
	return s.gateway.QueryPayment(ctx, attemptID)
}

// DebugEnabled reports whether the test-payment shortcut is available.
func (s *PaymentService) DebugEnabled() bool {
	return s.opts.Debug
}

// CompleteTestPayment completes an order without the gateway. Debug only.
func (s *PaymentService) CompleteTestPayment(ctx context.Context, orderNumber string) (*billing.CompletionResult, error) {
	if !s.opts.Debug {
		return nil, domain.NewServiceError(domain.ErrValidation, "test payments are disabled", "FORBIDDEN")
	}
	if _, err := s.orders.GetOrderByNumber(ctx, orderNumber); err != nil {
		return nil, err
	}

	paidAt := s.now()
	slog.WarnContext(ctx, "completing order through test payment", "order_number", orderNumber)
	return s.completer.CompleteOrder(ctx, billing.CompletionRequest{
		OrderNumber:   orderNumber,
		PaymentMethod: "test",
		PaymentID:     "TEST-" + orderNumber,
		PaymentData:   map[string]any{"test": true, "source": domain.SourceDebug},
		PaidAt:        &paidAt,
	})
}
