package domain

import "errors"

// Domain errors - represent business rule violations.
var (
	// ErrValidation is returned for malformed requests.
	ErrValidation = errors.New("validation failed")

	// ErrSignatureMismatch is returned when CheckMacValue is missing or wrong.
	ErrSignatureMismatch = errors.New("signature mismatch")

	// ErrStaleCallback is returned when a callback falls outside the replay window.
	ErrStaleCallback = errors.New("callback outside replay window")

	// ErrUnresolvedAttempt means no attempt mapping exists. Never surfaced to callers.
	ErrUnresolvedAttempt = errors.New("attempt id not mapped")

	// ErrUpstreamUnavailable is a transient failure of the backend or gateway.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrInvalidTransition is returned for a disallowed status change.
	ErrInvalidTransition = errors.New("invalid status transition")

	ErrOrderNotFound        = errors.New("order not found")
	ErrInvoiceNotFound      = errors.New("invoice not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrDeadLetterNotFound   = errors.New("dead letter not found")

	// ErrBackendAuth is returned when the backend rejects our API key.
	ErrBackendAuth = errors.New("backend rejected credentials")

	// ErrBackendRejected is returned for any other non-retryable backend reply.
	ErrBackendRejected = errors.New("backend rejected request")

	// ErrGatewayQuery is returned when the gateway's query endpoint fails.
	ErrGatewayQuery = errors.New("gateway query failed")

	// ErrMappingWrite is returned when the attempt mapping cannot be stored.
	ErrMappingWrite = errors.New("failed to store attempt mapping")

	// ErrRetriesExhausted is returned once a task has been dead-lettered.
	ErrRetriesExhausted = errors.New("reconciliation retries exhausted")

	// ErrLockHeld is returned when another process holds a job lock.
	ErrLockHeld = errors.New("lock held by another process")
)

// ServiceError wraps errors with additional context.
type ServiceError struct {
	Err     error
	Message string
	Code    string
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError creates a new ServiceError.
func NewServiceError(err error, message, code string) *ServiceError {
	return &ServiceError{Err: err, Message: message, Code: code}
}

// ErrorCode returns the Code of the outermost ServiceError in err's chain.
func ErrorCode(err error) string {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
