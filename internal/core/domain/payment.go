package domain

import (
	"strconv"
	"time"
)

// Payment methods accepted by the gateway's ChoosePayment field.
const (
	MethodCredit  = "Credit"
	MethodATM     = "ATM"
	MethodCVS     = "CVS"
	MethodBarcode = "BARCODE"
	MethodWebATM  = "WebATM"
	MethodAll     = "ALL"
)

// ValidPaymentMethod reports whether m can be sent as ChoosePayment.
func ValidPaymentMethod(m string) bool {
	switch m {
	case MethodCredit, MethodATM, MethodCVS, MethodBarcode, MethodWebATM, MethodAll:
		return true
	}
	return false
}

// CreatePaymentRequest is the body of POST /payment/create.
type CreatePaymentRequest struct {
	OrderNumber string `json:"order_number" binding:"required,max=20"`
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	ItemName    string `json:"item_name" binding:"required"`
	Description string `json:"description"`
	Method      string `json:"method"`
}

// CreatePaymentResponse carries the auto-submit form for the browser.
type CreatePaymentResponse struct {
	Success    bool              `json:"success"`
	PaymentURL string            `json:"payment_url,omitempty"`
	FormFields map[string]string `json:"form_fields,omitempty"`
	Message    string            `json:"message,omitempty"`
	Error      string            `json:"error,omitempty"`
	ErrorCode  string            `json:"error_code,omitempty"`
}

// PaymentOrder is what the gateway client needs to start one payment attempt.
type PaymentOrder struct {
	OrderNumber string
	Amount      int64
	ItemName    string
	Description string
	Method      string
}

// PaymentForm is the signed parameter set the browser posts to ActionURL.
type PaymentForm struct {
	ActionURL string
	AttemptID string
	Fields    map[string]string
}

// CallbackRecord holds the raw form fields posted by the gateway.
type CallbackRecord map[string]string

// VerifiedCallback is a callback whose signature checked out.
type VerifiedCallback struct {
	AttemptID   string
	OrderNumber string
	// Resolved is false when no mapping existed and the attempt id was used as the order number.
	Resolved      bool
	ReturnCode    int
	ReturnMessage string
	PaymentType   string
	TradeNo       string
	TradeAmount   string
	PaymentDate   *time.Time
	Fields        CallbackRecord
}

// Succeeded reports whether the gateway marked the payment successful.
func (v *VerifiedCallback) Succeeded() bool {
	return v.ReturnCode == 1
}

// PaymentData converts the callback into order payment metadata.
func (v *VerifiedCallback) PaymentData() map[string]any {
	data := make(map[string]any, len(v.Fields))
	for k, val := range v.Fields {
		if k == "CheckMacValue" {
			continue
		}
		data[k] = val
	}
	data["attempt_id"] = v.AttemptID
	data["rtn_code"] = strconv.Itoa(v.ReturnCode)
	return data
}

// Task sources.
const (
	SourceCallback = "callback"
	SourceDebug    = "debug"
	SourceReplay   = "replay"
	// SourceStaleCallback marks a late successful callback held for an operator.
	SourceStaleCallback = "stale_callback"
)

// ReconcileTask asks the worker to apply a successful payment to its order.
type ReconcileTask struct {
	ID            string         `json:"id"`
	OrderNumber   string         `json:"order_number"`
	AttemptID     string         `json:"attempt_id"`
	PaymentMethod string         `json:"payment_method,omitempty"`
	PaymentID     string         `json:"payment_id,omitempty"`
	PaymentData   map[string]any `json:"payment_data,omitempty"`
	PaidAt        *time.Time     `json:"paid_at,omitempty"`
	ReceivedAt    time.Time      `json:"received_at"`
	Source        string         `json:"source"`
}

// DeadLetter records a reconciliation the worker gave up on.
type DeadLetter struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"task_id"`
	OrderNumber string     `json:"order_number"`
	AttemptID   string     `json:"attempt_id"`
	Payload     []byte     `json:"payload"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"last_error"`
	CreatedAt   time.Time  `json:"created_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}
