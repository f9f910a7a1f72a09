package api

import (
	"net/http"
	"strings"

	"github.com/okian/happenin/internal/domain/model"
	"github.com/okian/happenin/internal/domain/settlement"
	"github.com/okian/happenin/pkg/logger"
)

// verifyRequest is the body of POST /payments/verify.
type verifyRequest struct {
	GatewayOrderRef   string `json:"gateway_order_ref"`
	GatewayPaymentRef string `json:"gateway_payment_ref"`
	Signature         string `json:"signature"`
	EventID           string `json:"event_id"`
}

// bulkVerifyRequest is the body of POST /payments/verify-bulk.
type bulkVerifyRequest struct {
	verifyRequest
	TeamSize int            `json:"team_size"`
	Members  []model.Member `json:"members"`
}

func (v verifyRequest) confirmation() model.PaymentConfirmation {
	return model.PaymentConfirmation{
		GatewayOrderRef:   strings.TrimSpace(v.GatewayOrderRef),
		GatewayPaymentRef: strings.TrimSpace(v.GatewayPaymentRef),
		Signature:         strings.TrimSpace(v.Signature),
		EventID:           strings.TrimSpace(v.EventID),
	}
}

// settlementResponse is the success body of both verify routes.
type settlementResponse struct {
	Success       bool     `json:"success"`
	Duplicate     bool     `json:"duplicate"`
	Registrations int      `json:"registrations"`
	Tickets       int      `json:"tickets"`
	Skipped       int      `json:"skipped"`
	Failed        int      `json:"failed"`
	TicketIDs     []string `json:"ticket_ids,omitempty"`
	Message       string   `json:"message"`
}

func newSettlementResponse(res settlement.Result) settlementResponse {
	return settlementResponse{
		Success:       true,
		Duplicate:     res.Duplicate,
		Registrations: res.Registered,
		Tickets:       res.Tickets,
		Skipped:       res.Skipped,
		Failed:        res.Failed,
		TicketIDs:     res.TicketIDs,
		Message:       res.Message(),
	}
}

// PaymentsHandler handles payment confirmation requests.
type PaymentsHandler struct {
	settler Settler
	auth    Authenticator
	logger  logger.Logger
}

// NewPaymentsHandler creates a new payments handler.
func NewPaymentsHandler(settler Settler, auth Authenticator, log logger.Logger) *PaymentsHandler {
	return &PaymentsHandler{settler: settler, auth: auth, logger: log}
}

// HandleVerify handles POST /payments/verify: one seat for the caller.
func (h *PaymentsHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	const op = "api.verify_payment"
	ctx := r.Context()

	participant, err := h.auth.Authenticate(r)
	if err != nil {
		respondError(ctx, w, h.logger, op, WrapKind(op, ErrUnauthorized, err))
		return
	}
	var req verifyRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		respondError(ctx, w, h.logger, op, err)
		return
	}

	res, err := h.settler.ConfirmSingle(ctx, req.confirmation(), participant)
	if err != nil {
		respondError(ctx, w, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, newSettlementResponse(res))
}

// HandleVerifyBulk handles POST /payments/verify-bulk: a team paid by the
// first listed member.
func (h *PaymentsHandler) HandleVerifyBulk(w http.ResponseWriter, r *http.Request) {
	const op = "api.verify_bulk_payment"
	ctx := r.Context()

	if _, err := h.auth.Authenticate(r); err != nil {
		respondError(ctx, w, h.logger, op, WrapKind(op, ErrUnauthorized, err))
		return
	}
	var req bulkVerifyRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		respondError(ctx, w, h.logger, op, err)
		return
	}

	conf := req.confirmation()
	conf.TeamSize = req.TeamSize
	conf.Members = req.Members
	if conf.TeamSize == 0 {
		conf.TeamSize = len(conf.Members)
	}

	res, err := h.settler.Confirm(ctx, conf)
	if err != nil {
		respondError(ctx, w, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, newSettlementResponse(res))
}
