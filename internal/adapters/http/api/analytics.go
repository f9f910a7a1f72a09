package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/okian/happenin/internal/domain/types"
	"github.com/okian/happenin/pkg/logger"
)

type analyticsResponse struct {
	types.Analytics
	Cache string `json:"cache"`
}

// AnalyticsHandler serves event aggregates.
type AnalyticsHandler struct {
	reader AnalyticsReader
	logger logger.Logger
}

// NewAnalyticsHandler creates a new analytics handler.
func NewAnalyticsHandler(reader AnalyticsReader, log logger.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{reader: reader, logger: log}
}

// HandleEventAnalytics handles GET /events/{id}/analytics. A tripped
// breaker still answers 200 with zeroed figures and cache=fallback.
func (h *AnalyticsHandler) HandleEventAnalytics(w http.ResponseWriter, r *http.Request) {
	const op = "api.event_analytics"
	ctx := r.Context()

	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		respondError(ctx, w, h.logger, op, NewKind(op, ErrBadRequest))
		return
	}
	a, res, err := h.reader.EventAnalytics(ctx, id)
	if err != nil {
		if status, _ := statusFor(err); status == http.StatusNotFound {
			respondError(ctx, w, h.logger, op, err)
			return
		}
		// The breaker is still closed; the next call may succeed.
		h.logger.Warn(ctx, "analytics unavailable", logger.String("event_id", id), logger.Error(err))
		writeError(w, http.StatusServiceUnavailable, "analytics_unavailable", errors.New("analytics temporarily unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, analyticsResponse{Analytics: a, Cache: string(res)})
}
