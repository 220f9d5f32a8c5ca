package middleware

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/infergate/infergate/internal/observability"
	"github.com/infergate/infergate/models"
	"github.com/infergate/infergate/services/audit"
	"github.com/infergate/infergate/services/guard"
	"github.com/infergate/infergate/services/providers"
	"github.com/infergate/infergate/services/providers/openai"
	"github.com/infergate/infergate/services/ratelimit"
	"github.com/infergate/infergate/services/snapshot"
	"github.com/infergate/infergate/services/usage"
)

// testGatewayConfig is the routing table the middleware tests share: one
// OpenAI chat route under /v1/ and one MCP route at /mcp.
func testGatewayConfig() *models.GatewayConfig {
	return &models.GatewayConfig{
		Backends: []models.Backend{
			{
				Name:    "openai-primary",
				Kind:    models.BackendKindLLM,
				BaseURL: "https://api.openai.example",
				Model:   "gpt-4o-mini",
			},
			{
				Name:    "tools",
				Kind:    models.BackendKindMCP,
				BaseURL: "https://mcp.example",
			},
		},
		Routes: []models.Route{
			{
				Name:     "chat",
				Match:    models.RouteMatch{PathPrefix: "/v1/"},
				Backends: []models.WeightedBackend{{Name: "openai-primary", Weight: 1}},
				Protocol: models.ProtocolOpenAI,
			},
			{
				Name:     "mcp",
				Match:    models.RouteMatch{PathExact: "/mcp"},
				Backends: []models.WeightedBackend{{Name: "tools", Weight: 1}},
				Protocol: models.ProtocolMCP,
			},
		},
	}
}

// newPolicyStore builds a snapshot store over testGatewayConfig with the
// given policies attached.
func newPolicyStore(t *testing.T, policies ...models.Policy) *snapshot.Store {
	t.Helper()
	cfg := testGatewayConfig()
	cfg.Policies = policies
	st := snapshot.NewStore(zap.NewNop())
	_, err := st.Replace(cfg)
	require.NoError(t, err)
	return st
}

// chainWith mounts the given middlewares behind route resolution, the way
// the router composes them in production.
func chainWith(st *snapshot.Store, next http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	h := next
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return NewRoutingMiddleware(st, zap.NewNop()).ResolveRoute(h)
}

// newTestPolicyMiddleware builds a PolicyMiddleware over real collaborators.
func newTestPolicyMiddleware(maxBodyBytes int64) *PolicyMiddleware {
	adapters := providers.NewRegistry()
	_ = adapters.Register(models.ProtocolOpenAI, openai.New())
	_ = adapters.Register(models.ProtocolPassthrough, providers.NewPassthrough())
	return NewPolicyMiddleware(
		adapters,
		ratelimit.NewLimiter(zap.NewNop()),
		guard.NewService(zap.NewNop()),
		usage.NewEstimator(zap.NewNop()),
		audit.NewLogger(zap.NewNop()),
		observability.NewMetrics(),
		maxBodyBytes,
		zap.NewNop(),
	)
}

// seedClaims injects validated claims the way AuthMiddleware would.
func seedClaims(claims *models.Claims) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func chatBody(content string) string {
	return fmt.Sprintf(`{"model":"gpt-4o","messages":[{"role":"user","content":%q}]}`, content)
}
