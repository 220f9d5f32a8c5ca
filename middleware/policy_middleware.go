package middleware

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/infergate/infergate/internal/observability"
	"github.com/infergate/infergate/models"
	"github.com/infergate/infergate/services"
	"github.com/infergate/infergate/services/audit"
	"github.com/infergate/infergate/services/authz"
	"github.com/infergate/infergate/services/guard"
	"github.com/infergate/infergate/services/providers"
	"github.com/infergate/infergate/services/ratelimit"
	"github.com/infergate/infergate/services/usage"
	"github.com/infergate/infergate/utils"
)

// PolicyMiddleware runs the per-request policy stages against the effective
// policy for the matched route and drawn backend: authorization, rate
// limiting, then content inspection. Authentication runs before it in
// AuthMiddleware; each stage short-circuits with its own terminal status.
type PolicyMiddleware struct {
	adapters     *providers.Registry
	limiter      *ratelimit.Limiter
	inspector    *guard.Service
	estimator    *usage.Estimator
	auditor      *audit.Logger
	metrics      *observability.Metrics
	maxBodyBytes int64
	logger       *zap.Logger
}

// NewPolicyMiddleware creates a new PolicyMiddleware
func NewPolicyMiddleware(
	adapters *providers.Registry,
	limiter *ratelimit.Limiter,
	inspector *guard.Service,
	estimator *usage.Estimator,
	auditor *audit.Logger,
	metrics *observability.Metrics,
	maxBodyBytes int64,
	logger *zap.Logger,
) *PolicyMiddleware {
	return &PolicyMiddleware{
		adapters:     adapters,
		limiter:      limiter,
		inspector:    inspector,
		estimator:    estimator,
		auditor:      auditor,
		metrics:      metrics,
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
	}
}

// EnforcePolicy evaluates the policy stages in order. For LLM protocols it
// consumes and re-arms the request body: the handler downstream sees the
// inspected (possibly redacted) bytes, never the original. MCP bodies pass
// through untouched; tool-level authorization happens in the MCP proxy once
// the JSON-RPC envelope names a tool.
func (m *PolicyMiddleware) EnforcePolicy(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		snap := GetSnapshotFromContext(ctx)
		route := GetRouteFromContext(ctx)
		if snap == nil || route == nil {
			m.logger.Error("route not resolved before policy enforcement",
				zap.String("request_id", requestID))
			_ = utils.WriteInternalServerError(w, "Route not resolved")
			return
		}

		backendName := contextBackendName(ctx)
		claims := GetClaimsFromContext(ctx)
		eff := snap.EffectiveFor(route.Name, backendName)
		span := trace.SpanFromContext(ctx)
		span.SetAttributes(attribute.String("gateway.auth.identity", claims.Identity()))

		// Read and parse the body for LLM protocols. MCP envelopes are parsed
		// by the proxy handler instead.
		var parsed *providers.ParsedRequest
		var body []byte
		if route.Protocol != models.ProtocolMCP {
			var err error
			r.Body = http.MaxBytesReader(w, r.Body, m.maxBodyBytes)
			body, err = io.ReadAll(r.Body)
			if err != nil {
				var maxErr *http.MaxBytesError
				if errors.As(err, &maxErr) {
					m.logger.Warn("request body exceeds the gateway limit",
						zap.String("request_id", requestID),
						zap.Int64("max_bytes", m.maxBodyBytes))
					_ = utils.WriteBadRequest(w, "Request body too large", map[string]interface{}{
						"max_bytes": m.maxBodyBytes,
					})
					return
				}
				m.logger.Warn("failed to read request body",
					zap.String("request_id", requestID),
					zap.Error(err))
				_ = utils.WriteBadRequest(w, "Failed to read request body", nil)
				return
			}

			adapter, err := m.adapters.ForProtocol(route.Protocol)
			if err != nil {
				m.logger.Error("no adapter for route protocol",
					zap.String("request_id", requestID),
					zap.String("protocol", string(route.Protocol)))
				_ = utils.WriteInternalServerError(w, "Route protocol not supported")
				return
			}

			parsed, err = adapter.ParseRequest(endpointFor(route, r), body)
			if err != nil {
				m.logger.Warn("request body rejected",
					zap.String("request_id", requestID),
					zap.String("route", route.Name),
					zap.Error(err))
				_ = utils.WriteBadRequest(w, validationMessage(err), services.GetErrorDetails(err))
				return
			}
			if parsed.Model != "" {
				span.SetAttributes(attribute.String("gateway.model", parsed.Model))
			}
		}

		// Authorization stage. A protected target with no authorization rules
		// stays closed; open targets without rules pass.
		model := ""
		if parsed != nil {
			model = parsed.Model
		}
		if eff.Authz != nil {
			input := authz.Input{
				Route:  route.Name,
				Method: r.Method,
				Path:   r.URL.Path,
				Model:  model,
			}
			if claims != nil {
				input.Claims = claims.Raw
				input.Scopes = claims.Scopes
			}
			decision := eff.Authz.Authorize(input)
			if !decision.Allowed {
				reason := decision.Rule
				if reason == "" {
					reason = "no allow rule matched"
				}
				m.logger.Warn("request denied by authorization policy",
					zap.String("request_id", requestID),
					zap.String("route", route.Name),
					zap.String("identity", claims.Identity()),
					zap.String("rule", decision.Rule))
				m.denyAudit(audit.ActionAuthzDenied, r, route, backendName, model, claims, "authorization", reason, http.StatusForbidden)
				_ = utils.WriteForbidden(w, "Request denied by authorization policy")
				return
			}
			span.SetAttributes(attribute.String("gateway.authz.rule", decision.Rule))
		} else if eff.RequiresAuth() {
			m.logger.Warn("protected route has no authorization rules, denying",
				zap.String("request_id", requestID),
				zap.String("route", route.Name),
				zap.String("identity", claims.Identity()))
			m.denyAudit(audit.ActionAuthzDenied, r, route, backendName, model, claims, "authorization", "no authorization rules attached to a protected target", http.StatusForbidden)
			_ = utils.WriteForbidden(w, "Request denied by authorization policy")
			return
		}

		// Rate stage. Token budgets count the estimated prompt cost; the
		// estimate also serves usage accounting when the upstream omits counts.
		promptTokens := 0
		if parsed != nil {
			promptTokens = m.estimator.Estimate(parsed.PromptText())
			ctx = WithEstimatedTokens(ctx, promptTokens)
		}
		if eff.RateLimit != nil {
			res := m.limiter.Allow(ratelimit.Request{
				Policy:       eff.Source["rate_limit"],
				Key:          rateKey(eff.RateLimit, claims, route),
				Config:       eff.RateLimit,
				PromptTokens: promptTokens,
			})
			if res.RequestsRemaining >= 0 {
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.RequestsRemaining))
			}
			if !res.ResetAt.IsZero() {
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
			}
			if !res.Allowed {
				m.metrics.RecordRateLimited(route.Name)
				m.logger.Warn("request rate limited",
					zap.String("request_id", requestID),
					zap.String("route", route.Name),
					zap.String("identity", claims.Identity()),
					zap.String("reason", res.Reason),
					zap.Int("retry_after_seconds", res.RetryAfterSeconds))
				m.denyAudit(audit.ActionRateLimited, r, route, backendName, model, claims, "rate_limit", res.Reason, http.StatusTooManyRequests)
				_ = utils.WriteTooManyRequests(w, res.Reason, res.RetryAfterSeconds, map[string]interface{}{
					"reset_at": res.ResetAt.UTC().Format(time.RFC3339),
				})
				return
			}
			span.SetAttributes(attribute.Int("gateway.ratelimit.requests_remaining", res.RequestsRemaining))
		}

		// Content stage: size cap, injection screening, then redaction. The
		// rewritten segments are spliced back so the upstream only ever sees
		// the redacted text.
		if parsed != nil && eff.Content != nil {
			if eff.Content.MaxPromptBytes > 0 && len(body) > eff.Content.MaxPromptBytes {
				reason := fmt.Sprintf("body of %d bytes exceeds the %d byte limit", len(body), eff.Content.MaxPromptBytes)
				m.logger.Warn("prompt exceeds the configured size limit",
					zap.String("request_id", requestID),
					zap.String("route", route.Name),
					zap.Int("body_bytes", len(body)),
					zap.Int("max_prompt_bytes", eff.Content.MaxPromptBytes))
				m.denyAudit(audit.ActionContentBlocked, r, route, backendName, model, claims, "content", reason, http.StatusBadRequest)
				_ = utils.WriteBadRequest(w, "Prompt exceeds the configured size limit", map[string]interface{}{
					"max_prompt_bytes": eff.Content.MaxPromptBytes,
					"body_bytes":       len(body),
				})
				return
			}

			redactions := 0
			rewritten := false
			for i := range parsed.Segments {
				res, err := m.inspector.Inspect(eff.Content, parsed.Segments[i].Text)
				if err != nil {
					span.SetAttributes(attribute.Bool("gateway.content.injection_blocked", true))
					m.logger.Warn("request blocked by content policy",
						zap.String("request_id", requestID),
						zap.String("route", route.Name),
						zap.Error(err))
					m.denyAudit(audit.ActionContentBlocked, r, route, backendName, model, claims, "content", validationMessage(err), http.StatusUnprocessableEntity)
					_ = utils.WriteUnprocessable(w, validationMessage(err), services.GetErrorDetails(err))
					return
				}
				if res.Redactions() > 0 {
					redactions += res.Redactions()
					parsed.Segments[i].Text = res.Text
					rewritten = true
				}
			}
			if rewritten {
				var err error
				body, err = providers.SpliceSegments(body, parsed.Segments)
				if err != nil {
					m.logger.Error("failed to splice redacted segments",
						zap.String("request_id", requestID),
						zap.Error(err))
					_ = utils.WriteInternalServerError(w, "Content inspection failed")
					return
				}
				m.logger.Info("prompt content redacted",
					zap.String("request_id", requestID),
					zap.String("route", route.Name),
					zap.Int("redactions", redactions))
			}
			span.SetAttributes(attribute.Int("gateway.content.redactions", redactions))
		}

		// Re-arm the body with the inspected bytes for the handler.
		if parsed != nil {
			r.Body = io.NopCloser(bytes.NewReader(body))
			r.ContentLength = int64(len(body))
			ctx = WithParsedRequest(ctx, parsed)
		}

		m.logger.Debug("policy enforcement passed",
			zap.String("request_id", requestID),
			zap.String("route", route.Name),
			zap.Int("prompt_tokens", promptTokens))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// denyAudit records one terminal policy denial on the audit trail.
func (m *PolicyMiddleware) denyAudit(action audit.Action, r *http.Request, route *models.Route, backend, model string, claims *models.Claims, stage, reason string, status int) {
	d := audit.NewDecision(action).
		WithRequest(GetRequestIDFromContext(r.Context()), r.RemoteAddr).
		WithRoute(route.Name, backend, model).
		WithStage(stage, reason).
		WithOutcome(status, 0)
	if claims != nil {
		d = d.WithIdentity(claims.Issuer, claims.Subject)
	}
	m.auditor.Log(d)
}

// endpointFor maps the inbound path to the adapter endpoint. Passthrough
// routes carry the raw path so the dispatcher forwards it unchanged.
func endpointFor(route *models.Route, r *http.Request) providers.Endpoint {
	if route.Protocol == models.ProtocolPassthrough {
		return providers.Endpoint(r.URL.Path)
	}
	if strings.HasSuffix(r.URL.Path, "/embeddings") {
		return providers.EndpointEmbeddings
	}
	return providers.EndpointChatCompletions
}

// rateKey picks the counter dimension for the policy's key kind.
func rateKey(cfg *models.RateLimitConfig, claims *models.Claims, route *models.Route) string {
	switch cfg.KeyKind() {
	case models.RateLimitKeyRoute:
		return route.Name
	case models.RateLimitKeyGlobal:
		return "global"
	default:
		return claims.Identity()
	}
}

// validationMessage surfaces domain error messages to the client; anything
// else gets a generic description.
func validationMessage(err error) string {
	var derr *services.DomainError
	if errors.As(err, &derr) {
		return derr.Message
	}
	return "Invalid request body"
}
