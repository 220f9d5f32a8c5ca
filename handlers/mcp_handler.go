package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/infergate/infergate/internal/observability"
	"github.com/infergate/infergate/middleware"
	"github.com/infergate/infergate/services/audit"
	"github.com/infergate/infergate/services/authz"
	"github.com/infergate/infergate/services/mcpproxy"
	"github.com/infergate/infergate/utils"
)

// keepaliveInterval paces the comment frames on an open MCP event stream.
const keepaliveInterval = 15 * time.Second

// MCPHandler serves the MCP endpoint: POST carries JSON-RPC exchanges over
// streamable HTTP, GET opens the event stream some clients hold after
// initialize, DELETE ends a session.
type MCPHandler struct {
	proxy    *mcpproxy.Service
	auditor  *audit.Logger
	metrics  *observability.Metrics
	maxBody  int64
	logger   *zap.Logger
}

// NewMCPHandler creates a new MCPHandler.
func NewMCPHandler(proxy *mcpproxy.Service, auditor *audit.Logger, metrics *observability.Metrics, maxBody int64, logger *zap.Logger) *MCPHandler {
	return &MCPHandler{
		proxy:   proxy,
		auditor: auditor,
		metrics: metrics,
		maxBody: maxBody,
		logger:  logger,
	}
}

// Handle dispatches on method.
func (h *MCPHandler) Handle(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleRPC(w, r)
	case http.MethodGet:
		h.handleEvents(w, r)
	case http.MethodDelete:
		// The gateway holds no per-session state; teardown is acknowledged
		// and nothing else.
		w.WriteHeader(http.StatusAccepted)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
	}
}

func (h *MCPHandler) handleRPC(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	snap := middleware.GetSnapshotFromContext(ctx)
	route := middleware.GetRouteFromContext(ctx)
	if snap == nil || route == nil {
		h.logger.Error("MCP request reached dispatch without a resolved route",
			zap.String("request_id", requestID))
		_ = utils.WriteInternalServerError(w, "Route not resolved")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.logger.Warn("MCP body over the gateway cap",
				zap.String("request_id", requestID),
				zap.Int64("max_bytes", h.maxBody))
			_ = utils.WriteBadRequest(w, "Request body too large",
				map[string]interface{}{"max_bytes": h.maxBody})
			return
		}
		_ = utils.WriteBadRequest(w, "Failed to read request body", nil)
		return
	}

	claims := middleware.GetClaimsFromContext(ctx)
	input := authz.Input{
		Route:  route.Name,
		Method: r.Method,
		Path:   r.URL.Path,
	}
	if claims != nil {
		input.Claims = claims.Raw
		input.Scopes = claims.Scopes
	}

	resp := h.proxy.Handle(ctx, &mcpproxy.Call{
		Snapshot: snap,
		Route:    route,
		Identity: input,
		Body:     body,
	})

	if resp.Tool != "" {
		h.metrics.RecordToolCall(route.Name, resp.Server, resp.Outcome)
		if resp.Outcome == "denied" {
			d := audit.NewDecision(audit.ActionToolDenied).
				WithRequest(requestID, r.RemoteAddr).
				WithRoute(route.Name, resp.Server, "").
				WithTool(resp.Tool).
				WithStage("authorization", "tool denied by authorization policy").
				WithOutcome(resp.Status, 0)
			if claims != nil {
				d = d.WithIdentity(claims.Issuer, claims.Subject)
			}
			h.auditor.Log(d)
		}
	}

	if resp.Body == nil {
		w.WriteHeader(resp.Status)
		return
	}
	if err := utils.WriteJSON(w, resp.Status, resp.Body); err != nil {
		h.logger.Error("failed to write MCP response",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}

// handleEvents holds open the event stream. The gateway originates no
// server-side events; the stream carries keepalive comments until the client
// hangs up.
func (h *MCPHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		_ = utils.WriteError(w, http.StatusNotImplemented, "Streaming unsupported", nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
