package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/okian/happenin/internal/domain/model"
	"github.com/okian/happenin/internal/domain/ticketing"
	"github.com/okian/happenin/pkg/logger"
)

type scanResponse struct {
	TicketID         string             `json:"ticket_id"`
	RegistrationID   string             `json:"registration_id"`
	EventID          string             `json:"event_id"`
	ParticipantEmail string             `json:"participant_email"`
	ParticipantName  string             `json:"participant_name"`
	TicketStatus     model.TicketStatus `json:"ticket_status"`
	IssuedAt         time.Time          `json:"issued_at"`
}

// TicketsHandler serves ticket QR codes and resolves scans.
type TicketsHandler struct {
	tickets TicketReader
	auth    Authenticator
	logger  logger.Logger
	qrSize  int
}

// NewTicketsHandler creates a new tickets handler.
func NewTicketsHandler(tickets TicketReader, auth Authenticator, log logger.Logger, qrSize int) *TicketsHandler {
	return &TicketsHandler{tickets: tickets, auth: auth, logger: log, qrSize: qrSize}
}

// HandleQR handles GET /tickets/{id}/qr. Only the ticket holder may fetch
// the image.
func (h *TicketsHandler) HandleQR(w http.ResponseWriter, r *http.Request) {
	const op = "api.ticket_qr"
	ctx := r.Context()

	participant, err := h.auth.Authenticate(r)
	if err != nil {
		respondError(ctx, w, h.logger, op, WrapKind(op, ErrUnauthorized, err))
		return
	}

	size := h.qrSize
	if raw := r.URL.Query().Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondError(ctx, w, h.logger, op, WrapKind(op, ErrBadRequest, err))
			return
		}
		size = n
	}

	ticket, err := h.tickets.GetTicket(ctx, r.PathValue("id"))
	if err != nil {
		respondError(ctx, w, h.logger, op, err)
		return
	}
	if ticket.ParticipantEmail != participant.Email {
		respondError(ctx, w, h.logger, op, NewKind(op, ErrForbidden))
		return
	}

	png, err := ticketing.RenderQR(ticket.ScanPayload, size)
	if err != nil {
		respondError(ctx, w, h.logger, op, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// HandleScan handles GET /tickets/scan?payload=. The payload must match the
// one issued with the ticket exactly.
func (h *TicketsHandler) HandleScan(w http.ResponseWriter, r *http.Request) {
	const op = "api.ticket_scan"
	ctx := r.Context()

	raw := strings.TrimSpace(r.URL.Query().Get("payload"))
	payload, err := ticketing.ParseScanPayload(raw)
	if err != nil {
		respondError(ctx, w, h.logger, op, err)
		return
	}

	reg, err := h.tickets.GetRegistration(ctx, payload.RegistrationID)
	if err != nil {
		respondError(ctx, w, h.logger, op, err)
		return
	}
	ticket, err := h.tickets.TicketForRegistration(ctx, reg.ID)
	if err != nil {
		respondError(ctx, w, h.logger, op, err)
		return
	}
	if reg.EventID != payload.EventID || ticket.ScanPayload != raw {
		h.logger.Warn(ctx, "scan payload does not match issued ticket",
			logger.String("registration_id", reg.ID))
		respondError(ctx, w, h.logger, op, NewKind(op, ErrNotFound))
		return
	}

	writeJSON(w, http.StatusOK, scanResponse{
		TicketID:         ticket.ID,
		RegistrationID:   reg.ID,
		EventID:          reg.EventID,
		ParticipantEmail: reg.ParticipantEmail,
		ParticipantName:  reg.ParticipantName,
		TicketStatus:     ticket.Status,
		IssuedAt:         ticket.IssuedAt,
	})
}
