package middleware

import (
	"context"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/infergate/infergate/models"
	"github.com/infergate/infergate/services/providers"
	"github.com/infergate/infergate/services/snapshot"
)

// Context key type to avoid collisions
type contextKey string

const (
	// SnapshotKey is the context key for the configuration snapshot the
	// request is pinned to
	SnapshotKey contextKey = "snapshot"

	// RouteKey is the context key for the matched route
	RouteKey contextKey = "route"

	// BackendKey is the context key for the drawn backend
	BackendKey contextKey = "backend"

	// ClaimsKey is the context key for validated JWT claims
	ClaimsKey contextKey = "claims"

	// ParsedRequestKey is the context key for the adapter-parsed request body
	ParsedRequestKey contextKey = "parsed_request"

	// EstimatedTokensKey is the context key for the estimated prompt token count
	EstimatedTokensKey contextKey = "estimated_tokens"
)

// GetRequestIDFromContext returns the request ID minted by the router's
// RequestID middleware.
func GetRequestIDFromContext(ctx context.Context) string {
	return chimw.GetReqID(ctx)
}

// GetSnapshotFromContext retrieves the pinned configuration snapshot
func GetSnapshotFromContext(ctx context.Context) *snapshot.Snapshot {
	if val := ctx.Value(SnapshotKey); val != nil {
		if snap, ok := val.(*snapshot.Snapshot); ok {
			return snap
		}
	}
	return nil
}

// WithSnapshot pins a configuration snapshot to the context. Every later
// stage reads this snapshot, so a reload landing mid-request never mixes old
// routing with new policy.
func WithSnapshot(ctx context.Context, snap *snapshot.Snapshot) context.Context {
	return context.WithValue(ctx, SnapshotKey, snap)
}

// GetRouteFromContext retrieves the matched route from context
func GetRouteFromContext(ctx context.Context) *models.Route {
	if val := ctx.Value(RouteKey); val != nil {
		if route, ok := val.(*models.Route); ok {
			return route
		}
	}
	return nil
}

// WithRoute adds the matched route to the context
func WithRoute(ctx context.Context, route *models.Route) context.Context {
	return context.WithValue(ctx, RouteKey, route)
}

// GetBackendFromContext retrieves the drawn backend from context. It is nil
// on MCP routes, where the backend is resolved from the tool namespace later.
func GetBackendFromContext(ctx context.Context) *models.Backend {
	if val := ctx.Value(BackendKey); val != nil {
		if backend, ok := val.(*models.Backend); ok {
			return backend
		}
	}
	return nil
}

// WithBackend adds the drawn backend to the context
func WithBackend(ctx context.Context, backend *models.Backend) context.Context {
	return context.WithValue(ctx, BackendKey, backend)
}

// GetClaimsFromContext retrieves validated JWT claims from context. It is nil
// for anonymous requests on routes that allow them.
func GetClaimsFromContext(ctx context.Context) *models.Claims {
	if val := ctx.Value(ClaimsKey); val != nil {
		if claims, ok := val.(*models.Claims); ok {
			return claims
		}
	}
	return nil
}

// WithClaims adds validated JWT claims to the context
func WithClaims(ctx context.Context, claims *models.Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// GetParsedRequestFromContext retrieves the adapter-parsed body from context
func GetParsedRequestFromContext(ctx context.Context) *providers.ParsedRequest {
	if val := ctx.Value(ParsedRequestKey); val != nil {
		if parsed, ok := val.(*providers.ParsedRequest); ok {
			return parsed
		}
	}
	return nil
}

// WithParsedRequest adds the adapter-parsed body to the context
func WithParsedRequest(ctx context.Context, parsed *providers.ParsedRequest) context.Context {
	return context.WithValue(ctx, ParsedRequestKey, parsed)
}

// GetEstimatedTokensFromContext retrieves the estimated prompt token count
// from context, or 0 when no estimate was made.
func GetEstimatedTokensFromContext(ctx context.Context) int {
	if val := ctx.Value(EstimatedTokensKey); val != nil {
		if tokens, ok := val.(int); ok {
			return tokens
		}
	}
	return 0
}

// WithEstimatedTokens adds the estimated prompt token count to the context
func WithEstimatedTokens(ctx context.Context, tokens int) context.Context {
	return context.WithValue(ctx, EstimatedTokensKey, tokens)
}

// contextBackendName returns the drawn backend's name, or empty when no
// backend is pinned yet.
func contextBackendName(ctx context.Context) string {
	if backend := GetBackendFromContext(ctx); backend != nil {
		return backend.Name
	}
	return ""
}
