package api

import (
	"net/http"
	"strings"

	"github.com/okian/happenin/internal/domain/model"
	"github.com/okian/happenin/pkg/logger"
)

type reportFailureRequest struct {
	EventID         string `json:"event_id"`
	GatewayOrderRef string `json:"gateway_order_ref"`
}

type retryRequest struct {
	PaymentRecordID string `json:"payment_record_id"`
}

type retryResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Record  model.RetryRecord `json:"record"`
}

type retryListResponse struct {
	Records []model.RetryRecord `json:"records"`
}

// RetryHandler handles the retry ledger routes.
type RetryHandler struct {
	ledger RetryLedger
	auth   Authenticator
	logger logger.Logger
}

// NewRetryHandler creates a new retry handler.
func NewRetryHandler(ledger RetryLedger, auth Authenticator, log logger.Logger) *RetryHandler {
	return &RetryHandler{ledger: ledger, auth: auth, logger: log}
}

// HandleReportFailure handles POST /payments/failed.
func (h *RetryHandler) HandleReportFailure(w http.ResponseWriter, r *http.Request) {
	const op = "api.report_payment_failure"
	ctx := r.Context()

	participant, err := h.auth.Authenticate(r)
	if err != nil {
		respondError(ctx, w, h.logger, op, WrapKind(op, ErrUnauthorized, err))
		return
	}
	var req reportFailureRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		respondError(ctx, w, h.logger, op, err)
		return
	}

	rec, err := h.ledger.RecordFailure(ctx, participant.Email,
		strings.TrimSpace(req.EventID), strings.TrimSpace(req.GatewayOrderRef))
	if err != nil {
		respondError(ctx, w, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// HandleRetry handles POST /payments/retry.
func (h *RetryHandler) HandleRetry(w http.ResponseWriter, r *http.Request) {
	const op = "api.retry_payment"
	ctx := r.Context()

	participant, err := h.auth.Authenticate(r)
	if err != nil {
		respondError(ctx, w, h.logger, op, WrapKind(op, ErrUnauthorized, err))
		return
	}
	var req retryRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		respondError(ctx, w, h.logger, op, err)
		return
	}
	id := strings.TrimSpace(req.PaymentRecordID)
	if id == "" {
		respondError(ctx, w, h.logger, op, NewKind(op, ErrBadRequest))
		return
	}

	rec, err := h.ledger.Retry(ctx, participant.Email, id)
	if err != nil {
		respondError(ctx, w, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, retryResponse{Success: true, Message: "Payment retry initiated", Record: rec})
}

// HandleListFailed handles GET /payments/retry.
func (h *RetryHandler) HandleListFailed(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_failed_payments"
	ctx := r.Context()

	participant, err := h.auth.Authenticate(r)
	if err != nil {
		respondError(ctx, w, h.logger, op, WrapKind(op, ErrUnauthorized, err))
		return
	}
	recs, err := h.ledger.ListFailed(ctx, participant.Email)
	if err != nil {
		respondError(ctx, w, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, retryListResponse{Records: recs})
}
