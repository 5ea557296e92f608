package ecpay

import (
	"context"
	"strconv"
	"time"

	"github.com/fitstack/subscription-payments/internal/core/domain"
	"github.com/fitstack/subscription-payments/internal/core/ports"
	"github.com/fitstack/subscription-payments/internal/core/signature"
)

// maxClockSkew bounds how far in the future a PaymentDate may be.
const maxClockSkew = 5 * time.Minute

// CallbackVerifier implements ports.CallbackVerifier.
type CallbackVerifier struct {
	signer *signature.Engine
	mapper ports.IdempotencyMapper
	window time.Duration
	now    func() time.Time
}

// NewCallbackVerifier creates a verifier. A zero window disables the
// PaymentDate age check.
func NewCallbackVerifier(signer *signature.Engine, mapper ports.IdempotencyMapper, window time.Duration) *CallbackVerifier {
	return &CallbackVerifier{
		signer: signer,
		mapper: mapper,
		window: window,
		now:    time.Now,
	}
}

// Verify checks CheckMacValue, the replay window and resolves the attempt id
// to its order number. It does no durable writes.
//
// A correctly signed callback outside the replay window returns the parsed
// callback together with an ErrStaleCallback error.
func (v *CallbackVerifier) Verify(ctx context.Context, fields domain.CallbackRecord) (*domain.VerifiedCallback, error) {
	if !v.signer.Verify(fields) {
		return nil, domain.NewServiceError(domain.ErrSignatureMismatch, "", "SIGNATURE_MISMATCH")
	}

	attemptID := fields["MerchantTradeNo"]
	if attemptID == "" {
		return nil, domain.NewServiceError(domain.ErrValidation, "MerchantTradeNo missing", "VALIDATION_ERROR")
	}

	var (
		paidAt *time.Time
		stale  error
	)
	if raw := fields["PaymentDate"]; raw != "" {
		if t, err := time.ParseInLocation(DateLayout, raw, Location); err == nil {
			if v.window > 0 {
				age := v.now().Sub(t)
				if age > v.window || age < -maxClockSkew {
					stale = domain.NewServiceError(domain.ErrStaleCallback, "PaymentDate "+raw, "STALE_CALLBACK")
				}
			}
			paidAt = &t
		}
	}

	rtnCode, err := strconv.Atoi(fields["RtnCode"])
	if err != nil {
		rtnCode = 0
	}

	orderNumber, found := v.mapper.Resolve(ctx, attemptID)

	return &domain.VerifiedCallback{
		AttemptID:     attemptID,
		OrderNumber:   orderNumber,
		Resolved:      found,
		ReturnCode:    rtnCode,
		ReturnMessage: fields["RtnMsg"],
		PaymentType:   fields["PaymentType"],
		TradeNo:       fields["TradeNo"],
		TradeAmount:   fields["TradeAmt"],
		PaymentDate:   paidAt,
		Fields:        fields,
	}, stale
}
