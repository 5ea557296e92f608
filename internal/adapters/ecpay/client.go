// Package ecpay implements the payment gateway ports for the ECPay
// all-in-one cashier: signed checkout forms, trade queries and callback
// verification.
package ecpay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fitstack/subscription-payments/internal/core/domain"
	"github.com/fitstack/subscription-payments/internal/core/ports"
	"github.com/fitstack/subscription-payments/internal/core/signature"
)

// DateLayout is the gateway's timestamp format.
const DateLayout = "2006/01/02 15:04:05"

// Location is the gateway's time zone (UTC+8, no DST).
var Location = time.FixedZone("Asia/Taipei", 8*60*60)

const maxTextLen = 200

// Config holds the merchant settings used to build requests.
type Config struct {
	MerchantID     string
	PaymentURL     string
	QueryURL       string
	ReturnURL      string
	OrderResultURL string
	ClientBackURL  string
	MappingTTL     time.Duration
}

// Client implements ports.PaymentGateway.
type Client struct {
	cfg        Config
	signer     *signature.Engine
	mapper     ports.IdempotencyMapper
	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates a new gateway client.
func NewClient(cfg Config, signer *signature.Engine, mapper ports.IdempotencyMapper) *Client {
	if cfg.MappingTTL <= 0 {
		cfg.MappingTTL = 24 * time.Hour
	}
	return &Client{
		cfg:    cfg,
		signer: signer,
		mapper: mapper,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		now: time.Now,
	}
}

// CreatePayment registers a new attempt id and returns the signed form the
// browser posts to the cashier. The mapping is stored before the form is
// returned so the callback can always be resolved.
func (c *Client) CreatePayment(ctx context.Context, order domain.PaymentOrder) (*domain.PaymentForm, error) {
	if order.OrderNumber == "" || order.Amount <= 0 || order.ItemName == "" {
		return nil, domain.NewServiceError(domain.ErrValidation,
			"order_number, amount and item_name are required", "VALIDATION_ERROR")
	}

	method := order.Method
	if method == "" {
		method = domain.MethodCredit
	}
	if !domain.ValidPaymentMethod(method) {
		return nil, domain.NewServiceError(domain.ErrValidation,
			"unsupported payment method "+method, "VALIDATION_ERROR")
	}
	desc := order.Description
	if desc == "" {
		desc = "Payment"
	}

	now := c.now()
	attemptID := NewAttemptID(order.OrderNumber, now)

	if err := c.mapper.Put(ctx, attemptID, order.OrderNumber, c.cfg.MappingTTL); err != nil {
		return nil, domain.NewServiceError(domain.ErrMappingWrite, err.Error(), "MAPPING_ERROR")
	}

	fields := map[string]string{
		"MerchantID":        c.cfg.MerchantID,
		"MerchantTradeNo":   attemptID,
		"MerchantTradeDate": now.In(Location).Format(DateLayout),
		"PaymentType":       "aio",
		"TotalAmount":       strconv.FormatInt(order.Amount, 10),
		"TradeDesc":         clip(desc),
		"ItemName":          clip(order.ItemName),
		"ReturnURL":         c.cfg.ReturnURL,
		"ChoosePayment":     method,
		"EncryptType":       strconv.Itoa(int(c.signer.Algorithm())),
	}
	if c.cfg.OrderResultURL != "" {
		fields["OrderResultURL"] = c.cfg.OrderResultURL
	}
	if c.cfg.ClientBackURL != "" {
		fields["ClientBackURL"] = c.cfg.ClientBackURL
	}
	fields[signature.FieldName] = c.signer.Sign(fields, c.signer.Algorithm())

	return &domain.PaymentForm{
		ActionURL: c.cfg.PaymentURL,
		AttemptID: attemptID,
		Fields:    fields,
	}, nil
}

// QueryPayment asks the gateway for the trade record of an attempt id.
// POST QueryTradeInfo/V5
func (c *Client) QueryPayment(ctx context.Context, attemptID string) (map[string]string, error) {
	if attemptID == "" {
		return nil, domain.NewServiceError(domain.ErrValidation, "attempt id is required", "VALIDATION_ERROR")
	}

	fields := map[string]string{
		"MerchantID":      c.cfg.MerchantID,
		"MerchantTradeNo": attemptID,
		"TimeStamp":       strconv.FormatInt(c.now().Unix(), 10),
	}
	fields[signature.FieldName] = c.signer.Sign(fields, c.signer.Algorithm())

	form := url.Values{}
	for k, v := range fields {
		form.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.QueryURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, domain.NewServiceError(domain.ErrGatewayQuery, "failed to create request", "REQUEST_ERROR")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewServiceError(domain.ErrUpstreamUnavailable, "gateway query: "+err.Error(), "HTTP_ERROR")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewServiceError(domain.ErrUpstreamUnavailable, "gateway query: "+err.Error(), "HTTP_ERROR")
	}
	if resp.StatusCode >= 500 {
		return nil, domain.NewServiceError(domain.ErrUpstreamUnavailable,
			fmt.Sprintf("gateway returned status %d", resp.StatusCode), "GATEWAY_ERROR")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewServiceError(domain.ErrGatewayQuery,
			fmt.Sprintf("gateway returned status %d", resp.StatusCode), "GATEWAY_ERROR")
	}

	result := ParseQueryResponse(string(body))
	if _, signed := result[signature.FieldName]; signed && !c.signer.Verify(result) {
		return nil, domain.NewServiceError(domain.ErrSignatureMismatch, "query response", "SIGNATURE_MISMATCH")
	}
	return result, nil
}

// ParseQueryResponse decodes a "k=v&k=v" body. Pairs without "=" are skipped.
func ParseQueryResponse(body string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(strings.TrimSpace(body), "&") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			continue
		}
		if decoded, err := url.QueryUnescape(v); err == nil {
			v = decoded
		}
		out[k] = v
	}
	return out
}

// clip limits s to the gateway's 200 character text fields.
func clip(s string) string {
	r := []rune(s)
	if len(r) > maxTextLen {
		return string(r[:maxTextLen])
	}
	return s
}
