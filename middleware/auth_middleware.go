package middleware

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/infergate/infergate/jwtauth"
	"github.com/infergate/infergate/services/audit"
	"github.com/infergate/infergate/services/snapshot"
	"github.com/infergate/infergate/utils"
)

// AuthMiddleware validates bearer tokens against the JWT policy resolved for
// the matched route. Validators are shared through the registry so JWKS
// caches survive configuration reloads.
type AuthMiddleware struct {
	validators *jwtauth.Registry
	auditor    *audit.Logger
	logger     *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(validators *jwtauth.Registry, auditor *audit.Logger, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validators: validators,
		auditor:    auditor,
		logger:     logger,
	}
}

// Authenticate enforces the effective JWT policy for the request. Routes
// without a JWT policy pass through untouched. A presented token is always
// validated, even when the policy does not require one; only its absence is
// forgiven on optional-auth routes.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		snap := GetSnapshotFromContext(ctx)
		route := GetRouteFromContext(ctx)
		if snap == nil || route == nil {
			m.logger.Error("route not resolved before authentication",
				zap.String("request_id", requestID))
			_ = utils.WriteInternalServerError(w, "Route not resolved")
			return
		}

		eff := snap.EffectiveFor(route.Name, contextBackendName(ctx))
		if eff.JWT == nil {
			next.ServeHTTP(w, r)
			return
		}

		token := extractBearerToken(r)
		if token == "" {
			if !eff.JWT.Required {
				next.ServeHTTP(w, r)
				return
			}
			m.logger.Warn("missing bearer token",
				zap.String("request_id", requestID),
				zap.String("route", route.Name))
			m.auditor.Log(audit.NewDecision(audit.ActionAuthRejected).
				WithRequest(requestID, r.RemoteAddr).
				WithRoute(route.Name, contextBackendName(ctx), "").
				WithStage("auth", "missing bearer token").
				WithOutcome(http.StatusUnauthorized, 0))
			_ = utils.WriteUnauthorized(w, "Missing bearer token")
			return
		}

		claims, err := m.validators.For(eff.JWT).ValidateToken(ctx, token)
		if err != nil {
			m.logger.Warn("token validation failed",
				zap.String("request_id", requestID),
				zap.String("route", route.Name),
				zap.String("issuer", eff.JWT.Issuer),
				zap.Error(err))
			m.auditor.Log(audit.NewDecision(audit.ActionAuthRejected).
				WithRequest(requestID, r.RemoteAddr).
				WithRoute(route.Name, contextBackendName(ctx), "").
				WithStage("auth", err.Error()).
				WithOutcome(http.StatusUnauthorized, 0))
			_ = utils.WriteUnauthorized(w, "Invalid or expired token")
			return
		}

		ctx = WithClaims(ctx, claims)

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("issuer", claims.Issuer),
			zap.String("subject", claims.Subject))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GatewayAuthMiddleware guards endpoints the gateway serves itself, such as
// usage summaries. Those requests never pass route resolution, so the guard
// reads the gateway-attached JWT policy straight from the live snapshot.
type GatewayAuthMiddleware struct {
	snapshots  *snapshot.Store
	validators *jwtauth.Registry
	auditor    *audit.Logger
	logger     *zap.Logger
}

// NewGatewayAuthMiddleware creates a new GatewayAuthMiddleware
func NewGatewayAuthMiddleware(snapshots *snapshot.Store, validators *jwtauth.Registry, auditor *audit.Logger, logger *zap.Logger) *GatewayAuthMiddleware {
	return &GatewayAuthMiddleware{
		snapshots:  snapshots,
		validators: validators,
		auditor:    auditor,
		logger:     logger,
	}
}

// Protect requires a token from the gateway-level JWT policy's issuer. A
// table without a gateway JWT policy leaves the endpoint open. When a policy
// exists the token is mandatory even if the policy marks auth optional:
// optional auth is a concession to proxied traffic, not to admin reads.
func (m *GatewayAuthMiddleware) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		snap := m.snapshots.Current()
		if snap == nil {
			_ = utils.WriteError(w, http.StatusServiceUnavailable, "Gateway configuration not loaded", nil)
			return
		}

		jwtCfg := snap.GatewayPolicy().JWT
		if jwtCfg == nil {
			next.ServeHTTP(w, r)
			return
		}

		token := extractBearerToken(r)
		if token == "" {
			m.auditor.Log(audit.NewDecision(audit.ActionAuthRejected).
				WithRequest(requestID, r.RemoteAddr).
				WithStage("auth", "missing bearer token").
				WithOutcome(http.StatusUnauthorized, 0))
			_ = utils.WriteUnauthorized(w, "Missing bearer token")
			return
		}

		claims, err := m.validators.For(jwtCfg).ValidateToken(ctx, token)
		if err != nil {
			m.logger.Warn("token validation failed",
				zap.String("request_id", requestID),
				zap.String("path", r.URL.Path),
				zap.Error(err))
			m.auditor.Log(audit.NewDecision(audit.ActionAuthRejected).
				WithRequest(requestID, r.RemoteAddr).
				WithStage("auth", err.Error()).
				WithOutcome(http.StatusUnauthorized, 0))
			_ = utils.WriteUnauthorized(w, "Invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(ctx, claims)))
	})
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
