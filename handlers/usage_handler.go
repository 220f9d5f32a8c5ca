package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/infergate/infergate/middleware"
	"github.com/infergate/infergate/services/usage"
	"github.com/infergate/infergate/utils"
)

// UsageSummaryResponse is the aggregate view served by the usage endpoint.
type UsageSummaryResponse struct {
	Since time.Time          `json:"since"`
	Rows  []usage.SummaryRow `json:"rows"`
}

// UsageHandler serves usage aggregates.
type UsageHandler struct {
	usage  *usage.Service
	logger *zap.Logger
}

// NewUsageHandler creates a new UsageHandler.
func NewUsageHandler(usageSvc *usage.Service, logger *zap.Logger) *UsageHandler {
	return &UsageHandler{usage: usageSvc, logger: logger}
}

// HandleSummary handles GET /v1/usage/summary. The window defaults to the
// last 24 hours; ?since accepts an RFC 3339 timestamp or a Go duration
// measured back from now.
func (h *UsageHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			since = t
		} else if d, err := time.ParseDuration(raw); err == nil {
			since = time.Now().Add(-d)
		} else {
			_ = utils.WriteBadRequest(w, "since must be an RFC 3339 timestamp or a duration",
				map[string]interface{}{"since": raw})
			return
		}
	}

	rows, err := h.usage.Summary(r.Context(), since)
	if err != nil {
		h.logger.Error("usage summary query failed",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}
	if rows == nil {
		rows = []usage.SummaryRow{}
	}

	_ = utils.WriteOK(w, UsageSummaryResponse{Since: since.UTC(), Rows: rows})
}
