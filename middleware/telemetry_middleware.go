package middleware

import (
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/infergate/infergate/internal/observability"
)

// TelemetryMiddleware opens the request span, emits the per-request metrics
// and writes the structured request log line. It runs after route resolution
// so the span and the metric labels carry route and backend identity; later
// stages attach their outcomes to the same span.
type TelemetryMiddleware struct {
	metrics *observability.Metrics
	tracer  trace.Tracer
	logger  *zap.Logger
}

// NewTelemetryMiddleware creates a new TelemetryMiddleware
func NewTelemetryMiddleware(metrics *observability.Metrics, logger *zap.Logger) *TelemetryMiddleware {
	return &TelemetryMiddleware{
		metrics: metrics,
		tracer:  otel.Tracer(observability.TracerName),
		logger:  logger,
	}
}

// Observe wraps the rest of the chain in one span per request, success or
// failure. Emission is fire-and-forget; a missing exporter degrades to no-op
// spans and the request path never notices.
func (m *TelemetryMiddleware) Observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		routeName := ""
		if route := GetRouteFromContext(ctx); route != nil {
			routeName = route.Name
		}
		backendName := contextBackendName(ctx)

		start := time.Now()
		ctx, span := m.tracer.Start(ctx, "gateway.request",
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
				attribute.String("gateway.route", routeName),
				attribute.String("gateway.backend", backendName),
				attribute.String("gateway.request_id", requestID),
			))
		defer span.End()

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			// Nothing wrote a header; net/http will send 200.
			status = http.StatusOK
		}
		duration := time.Since(start)

		span.SetAttributes(
			attribute.Int("http.status_code", status),
			attribute.Int64("gateway.latency_ms", duration.Milliseconds()),
		)
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}

		m.metrics.RecordRequest(routeName, backendName, strconv.Itoa(status), duration)

		m.logger.Info("request completed",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("route", routeName),
			zap.String("backend", backendName),
			zap.Int("status", status),
			zap.Int64("duration_ms", duration.Milliseconds()),
			zap.Int("bytes", ww.BytesWritten()))
	})
}
