package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/infergate/infergate/services/snapshot"
	"github.com/infergate/infergate/services/usage"
	"github.com/infergate/infergate/utils"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthHandler answers liveness and readiness probes.
type HealthHandler struct {
	snapshots *snapshot.Store
	usage     *usage.Service
	logger    *zap.Logger
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(snapshots *snapshot.Store, usageSvc *usage.Service, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		snapshots: snapshots,
		usage:     usageSvc,
		logger:    logger,
	}
}

// HandleHealthz handles GET /healthz. Always 200 while the process runs.
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleReadyz handles GET /readyz. Ready means a gateway table is loaded
// and the usage store answers; until then the gateway cannot route.
func (h *HealthHandler) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string)
	ready := true

	if h.snapshots.Current() == nil {
		checks["gateway_table"] = "not loaded"
		ready = false
	} else {
		checks["gateway_table"] = "loaded"
	}

	if err := h.usage.Ping(ctx); err != nil {
		h.logger.Warn("usage store health check failed", zap.Error(err))
		checks["usage_store"] = "unreachable"
		ready = false
	} else {
		checks["usage_store"] = "ok"
	}

	status := "ready"
	httpStatus := http.StatusOK
	if !ready {
		status = "unavailable"
		httpStatus = http.StatusServiceUnavailable
	}

	if err := utils.WriteJSON(w, httpStatus, HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}
