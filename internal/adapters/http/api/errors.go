package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/okian/happenin/internal/adapters/repository"
	"github.com/okian/happenin/internal/domain/analytics"
	"github.com/okian/happenin/internal/domain/retryledger"
	"github.com/okian/happenin/internal/domain/settlement"
	"github.com/okian/happenin/internal/domain/signature"
	"github.com/okian/happenin/internal/domain/ticketing"
	"github.com/okian/happenin/pkg/logger"
	"github.com/okian/happenin/pkg/metrics"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
)

// KindError tags an error with the operation that produced it and a kind
// the HTTP layer maps to a status.
type KindError struct {
	Op   string
	Kind error
	Err  error
}

func (e *KindError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Err.Error()
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (e *KindError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewKind returns an error of kind raised by op.
func NewKind(op string, kind error) error {
	return &KindError{Op: op, Kind: kind}
}

// WrapKind tags err with op and kind.
func WrapKind(op string, kind, err error) error {
	return &KindError{Op: op, Kind: kind, Err: err}
}

// statusFor maps an error to its HTTP status and machine-readable code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, signature.ErrMismatch):
		return http.StatusBadRequest, "invalid_signature"
	case errors.Is(err, signature.ErrMisconfigured):
		return http.StatusInternalServerError, "server_misconfigured"
	case errors.Is(err, retryledger.ErrRetryExhausted):
		return http.StatusBadRequest, "retry_exhausted"
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, signature.ErrMissingInput),
		errors.Is(err, settlement.ErrInvalidConfirmation),
		errors.Is(err, retryledger.ErrInvalidInput),
		errors.Is(err, ticketing.ErrInvalidPayload),
		errors.Is(err, ticketing.ErrInvalidSize):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, settlement.ErrEventNotFound),
		errors.Is(err, analytics.ErrEventNotFound):
		return http.StatusNotFound, "event_not_found"
	case errors.Is(err, settlement.ErrPaymentAlreadyUsed):
		return http.StatusConflict, "payment_already_used"
	case errors.Is(err, retryledger.ErrNotRetryable),
		errors.Is(err, repository.ErrNotFound),
		errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, settlement.ErrNothingRegistered):
		return http.StatusInternalServerError, "registration_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// respondError writes the mapped error body. Causes of unexpected failures
// are logged, not returned to the client.
func respondError(ctx context.Context, w http.ResponseWriter, log logger.Logger, op string, err error) {
	status, code := statusFor(err)
	if code == "internal_error" {
		metrics.RecordErrorByComponent("api", code)
		log.Error(ctx, "request failed", logger.String("op", op), logger.Error(err))
		writeError(w, status, code, errors.New("internal error"))
		return
	}
	if status >= http.StatusInternalServerError {
		log.Error(ctx, "request failed", logger.String("op", op), logger.Error(err))
	}
	writeError(w, status, code, err)
}
