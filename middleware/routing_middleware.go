package middleware

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/infergate/infergate/models"
	"github.com/infergate/infergate/services/snapshot"
	"github.com/infergate/infergate/utils"
)

// RoutingMiddleware resolves every request to a configured route before any
// policy runs.
type RoutingMiddleware struct {
	snapshots *snapshot.Store
	logger    *zap.Logger
}

// NewRoutingMiddleware creates a new RoutingMiddleware
func NewRoutingMiddleware(snapshots *snapshot.Store, logger *zap.Logger) *RoutingMiddleware {
	return &RoutingMiddleware{
		snapshots: snapshots,
		logger:    logger,
	}
}

// ResolveRoute matches the request against the current snapshot's route table
// and pins the snapshot, the matched route and the drawn backend to the
// request context. Requests matching no route stop here with 404.
func (m *RoutingMiddleware) ResolveRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		snap := m.snapshots.Current()
		if snap == nil {
			m.logger.Error("no configuration snapshot loaded",
				zap.String("request_id", requestID))
			_ = utils.WriteInternalServerError(w, "Gateway configuration not loaded")
			return
		}

		route := snap.MatchRoute(r)
		if route == nil {
			m.logger.Warn("no route matches the request",
				zap.String("request_id", requestID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path))
			_ = utils.WriteNotFound(w, "No route matches the request")
			return
		}

		ctx = WithSnapshot(ctx, snap)
		ctx = WithRoute(ctx, route)

		// MCP routes resolve their backend from the tool namespace once the
		// JSON-RPC envelope is parsed; everything else draws one backend here
		// so policy resolution and dispatch agree on the target.
		if route.Protocol != models.ProtocolMCP {
			backend := snap.DrawBackend(route)
			if backend == nil {
				m.logger.Error("route references no resolvable backend",
					zap.String("request_id", requestID),
					zap.String("route", route.Name))
				_ = utils.WriteInternalServerError(w, "Route has no resolvable backend")
				return
			}
			ctx = WithBackend(ctx, backend)
		}

		m.logger.Debug("route resolved",
			zap.String("request_id", requestID),
			zap.String("route", route.Name),
			zap.String("backend", contextBackendName(ctx)),
			zap.String("protocol", string(route.Protocol)))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
