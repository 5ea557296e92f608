// Package handlers contains the HTTP handlers for the payment service.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fitstack/subscription-payments/internal/core/billing"
	"github.com/fitstack/subscription-payments/internal/core/domain"
	"github.com/fitstack/subscription-payments/internal/core/service"
)

// PaymentService is the part of service.PaymentService the handlers use.
type PaymentService interface {
	CreatePayment(ctx context.Context, req domain.CreatePaymentRequest) (*domain.CreatePaymentResponse, error)
	HandleCallback(ctx context.Context, fields domain.CallbackRecord) string
	ResultRedirectURL(fields map[string]string) string
	ReturnURL() string
	GetInvoice(ctx context.Context, orderID string) (*domain.Invoice, error)
	CompleteTestPayment(ctx context.Context, orderNumber string) (*billing.CompletionResult, error)
	DebugEnabled() bool
}

var _ PaymentService = (*service.PaymentService)(nil)

// PaymentHandler handles HTTP requests for payments.
type PaymentHandler struct {
	service         PaymentService
	callbackTimeout time.Duration
}

// NewPaymentHandler creates a new payment handler.
func NewPaymentHandler(svc PaymentService, callbackTimeout time.Duration) *PaymentHandler {
	if callbackTimeout <= 0 {
		callbackTimeout = 5 * time.Second
	}
	return &PaymentHandler{service: svc, callbackTimeout: callbackTimeout}
}

// CreatePayment handles POST /payment/create
// Returns the signed form the browser posts to the gateway.
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	var req domain.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, domain.CreatePaymentResponse{
			Success:   false,
			Error:     "Invalid request: " + err.Error(),
			ErrorCode: "VALIDATION_ERROR",
		})
		return
	}

	response, err := h.service.CreatePayment(c.Request.Context(), req)
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "create payment failed", "order_number", req.OrderNumber, "error", err)
		c.JSON(http.StatusInternalServerError, domain.CreatePaymentResponse{
			Success:   false,
			Error:     "Internal server error",
			ErrorCode: "INTERNAL_ERROR",
		})
		return
	}

	if !response.Success {
		c.JSON(http.StatusBadRequest, response)
		return
	}

	c.JSON(http.StatusOK, response)
}

// HandleCallback handles POST /payment/callback
// The gateway expects HTTP 200 with a plain-text acknowledgement.
func (h *PaymentHandler) HandleCallback(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		slog.WarnContext(c.Request.Context(), "unreadable callback body", "error", err)
		c.String(http.StatusOK, service.AckError)
		return
	}

	fields := make(domain.CallbackRecord, len(c.Request.PostForm))
	for k := range c.Request.PostForm {
		fields[k] = c.Request.PostForm.Get(k)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.callbackTimeout)
	defer cancel()

	c.String(http.StatusOK, h.service.HandleCallback(ctx, fields))
}

// ResultRedirect handles POST /payment/result-redirect
// Turns the gateway's browser POST into a GET on the frontend.
func (h *PaymentHandler) ResultRedirect(c *gin.Context) {
	fields := map[string]string{
		"RtnCode":         c.PostForm("RtnCode"),
		"MerchantTradeNo": c.PostForm("MerchantTradeNo"),
		"RtnMsg":          c.PostForm("RtnMsg"),
		"TradeNo":         c.PostForm("TradeNo"),
	}
	c.Redirect(http.StatusFound, h.service.ResultRedirectURL(fields))
}

// Return handles GET /payment/return
func (h *PaymentHandler) Return(c *gin.Context) {
	c.Redirect(http.StatusFound, h.service.ReturnURL())
}

// GetInvoice handles GET /payment/invoice/:order_id
func (h *PaymentHandler) GetInvoice(c *gin.Context) {
	invoice, err := h.service.GetInvoice(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvoiceNotFound):
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Invoice not found", "code": "INVOICE_NOT_FOUND"})
		case errors.Is(err, domain.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error(), "code": "VALIDATION_ERROR"})
		default:
			slog.ErrorContext(c.Request.Context(), "get invoice failed", "order_id", c.Param("order_id"), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Internal server error", "code": "INTERNAL_ERROR"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "invoice": invoice})
}

type testPaymentRequest struct {
	OrderNumber string `json:"order_number" binding:"required"`
}

// TestPayment handles POST /payment/test
// Completes an order without the gateway. Only available with DEBUG=true.
func (h *PaymentHandler) TestPayment(c *gin.Context) {
	if !h.service.DebugEnabled() {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "Test payments are disabled", "code": "FORBIDDEN"})
		return
	}

	var req testPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request: " + err.Error(), "code": "VALIDATION_ERROR"})
		return
	}

	res, err := h.service.CompleteTestPayment(c.Request.Context(), req.OrderNumber)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, domain.ErrOrderNotFound):
			status = http.StatusNotFound
		case errors.Is(err, domain.ErrInvalidTransition):
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"success": false, "error": err.Error(), "code": domain.ErrorCode(err)})
		return
	}

	body := gin.H{
		"success":         true,
		"order_number":    req.OrderNumber,
		"completed":       res.Completed,
		"invoice_created": res.InvoiceCreated,
		"activated":       res.Activated,
	}
	if res.Order != nil {
		body["status"] = res.Order.Status
	}
	if res.Invoice != nil {
		body["invoice_number"] = res.Invoice.InvoiceNumber
	}
	c.JSON(http.StatusOK, body)
}

// Health handles GET /health
func (h *PaymentHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "subscription-payments",
		"version": "1.0.0",
	})
}
