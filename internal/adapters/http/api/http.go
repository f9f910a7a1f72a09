// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/happenin/internal/domain/model"
	"github.com/okian/happenin/internal/domain/settlement"
	"github.com/okian/happenin/internal/domain/types"
	"github.com/okian/happenin/pkg/cache"
	"github.com/okian/happenin/pkg/logger"
)

// Settler settles payment confirmations.
type Settler interface {
	Confirm(ctx context.Context, conf model.PaymentConfirmation) (settlement.Result, error)
	ConfirmSingle(ctx context.Context, conf model.PaymentConfirmation, participant model.Member) (settlement.Result, error)
}

// RetryLedger tracks failed payment attempts.
type RetryLedger interface {
	RecordFailure(ctx context.Context, participant, eventID, orderRef string) (model.RetryRecord, error)
	Retry(ctx context.Context, participant, recordID string) (model.RetryRecord, error)
	ListFailed(ctx context.Context, participant string) ([]model.RetryRecord, error)
}

// AnalyticsReader serves cached per-event aggregates.
type AnalyticsReader interface {
	EventAnalytics(ctx context.Context, eventID string) (types.Analytics, cache.Result, error)
}

// TicketReader reads issued tickets and their registrations.
type TicketReader interface {
	GetTicket(ctx context.Context, id string) (model.Ticket, error)
	GetRegistration(ctx context.Context, id string) (model.Registration, error)
	TicketForRegistration(ctx context.Context, registrationID string) (model.Ticket, error)
}

// Pinger reports whether the durable store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies required by HTTP handlers. Each field is an interface so the
// handler layer stays decoupled from implementations.
type Dependencies struct {
	Settlement Settler
	Retries    RetryLedger
	Analytics  AnalyticsReader
	Tickets    TicketReader
	Store      Pinger
	Stats      StatsProvider
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler    *HealthHandler
	statsHandler     *StatsHandler
	paymentsHandler  *PaymentsHandler
	retryHandler     *RetryHandler
	analyticsHandler *AnalyticsHandler
	ticketsHandler   *TicketsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	cfg := settings{
		auth:   HeaderAuthenticator{},
		qrSize: defaultQRSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logger.Named("api")
	}
	return &Server{
		healthHandler:    NewHealthHandler(deps.Store),
		statsHandler:     NewStatsHandler(deps.Stats),
		paymentsHandler:  NewPaymentsHandler(deps.Settlement, cfg.auth, cfg.logger),
		retryHandler:     NewRetryHandler(deps.Retries, cfg.auth, cfg.logger),
		analyticsHandler: NewAnalyticsHandler(deps.Analytics, cfg.logger),
		ticketsHandler:   NewTicketsHandler(deps.Tickets, cfg.auth, cfg.logger, cfg.qrSize),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleMetrics, "healthz"))
	mux.HandleFunc("GET /health", MetricsMiddleware(s.healthHandler.HandleHealth, "health"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /payments/verify", MetricsMiddleware(s.paymentsHandler.HandleVerify, "payments_verify"))
	mux.HandleFunc("POST /payments/verify-bulk", MetricsMiddleware(s.paymentsHandler.HandleVerifyBulk, "payments_verify_bulk"))
	mux.HandleFunc("POST /payments/failed", MetricsMiddleware(s.retryHandler.HandleReportFailure, "payments_failed"))
	mux.HandleFunc("POST /payments/retry", MetricsMiddleware(s.retryHandler.HandleRetry, "payments_retry"))
	mux.HandleFunc("GET /payments/retry", MetricsMiddleware(s.retryHandler.HandleListFailed, "payments_retry_list"))

	mux.HandleFunc("GET /events/{id}/analytics", MetricsMiddleware(s.analyticsHandler.HandleEventAnalytics, "event_analytics"))

	mux.HandleFunc("GET /tickets/scan", MetricsMiddleware(s.ticketsHandler.HandleScan, "ticket_scan"))
	mux.HandleFunc("GET /tickets/{id}/qr", MetricsMiddleware(s.ticketsHandler.HandleQR, "ticket_qr"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// decodeJSON reads a size-limited JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, op string, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		return WrapKind(op, ErrBadRequest, err)
	}
	return nil
}
