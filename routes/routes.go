package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/infergate/infergate/app"
	"github.com/infergate/infergate/middleware"
	"github.com/infergate/infergate/models"
	"github.com/infergate/infergate/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware. Request logging lives in the telemetry middleware so
	// log lines carry the resolved route; no chi Timeout because streaming
	// relays outlive any sane global deadline and backends carry their own.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Last-Event-ID", "Mcp-Session-Id"},
		ExposedHeaders:   []string{"X-Request-ID", "Mcp-Session-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Probes and metrics answer directly, even before a gateway table loads.
	r.Get("/healthz", deps.HealthHandler.HandleHealthz)
	r.Get("/readyz", deps.HealthHandler.HandleReadyz)
	if deps.Config.Observability.MetricsEnabled {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	// Usage summaries are served by the gateway itself, guarded by the
	// gateway-attached JWT policy rather than any route.
	r.Group(func(r chi.Router) {
		r.Use(deps.GatewayAuth.Protect)
		r.Get("/v1/usage/summary", deps.UsageHandler.HandleSummary)
	})

	// Everything else belongs to the gateway table: resolve the route, then
	// run the admission chain and hand off by the route's protocol. Requests
	// no route claims are rejected inside ResolveRoute.
	r.Group(func(r chi.Router) {
		r.Use(deps.RoutingMiddleware.ResolveRoute)
		r.Use(deps.TelemetryMiddleware.Observe)
		r.Use(deps.AuthMiddleware.Authenticate)
		r.Use(deps.PolicyMiddleware.EnforcePolicy)
		r.Handle("/*", protocolDispatch(deps))
	})

	// chi's default 404/405 bodies are plain text; keep the error envelope
	// uniform for requests that never reach the gateway chain.
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		_ = utils.WriteNotFound(w, "No route matches the request")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
	})

	return r
}

// protocolDispatch hands an admitted request to the handler for the matched
// route's protocol. Routes exist only in configuration, so the split happens
// here instead of in static mux patterns.
func protocolDispatch(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		route := middleware.GetRouteFromContext(r.Context())
		if route != nil && route.Protocol == models.ProtocolMCP {
			deps.MCPHandler.Handle(w, r)
			return
		}
		deps.InferenceHandler.HandleCompletion(w, r)
	}
}
