package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// requestDurationBuckets spans the range seen in practice: sub-second for
// cache hits and rejections, tens of seconds for long completions.
var requestDurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Metrics holds the gateway's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	TokensTotal     *prometheus.CounterVec
	RateLimited     *prometheus.CounterVec
	StreamsAborted  *prometheus.CounterVec
	ConfigReloads   *prometheus.CounterVec
	ToolCalls       *prometheus.CounterVec
}

// NewMetrics creates and registers the gateway collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "infergate",
				Name:      "requests_total",
				Help:      "Requests handled, by route, backend, and HTTP status",
			},
			[]string{"route", "backend", "status"},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "infergate",
				Name:      "request_duration_seconds",
				Help:      "End-to-end request duration in seconds",
				Buckets:   requestDurationBuckets,
			},
			[]string{"route", "backend"},
		),

		TokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "infergate",
				Name:      "tokens_total",
				Help:      "Tokens consumed, by route, model, and direction (prompt or completion)",
			},
			[]string{"route", "model", "direction"},
		),

		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "infergate",
				Name:      "rate_limited_total",
				Help:      "Requests rejected by rate limiting, by route",
			},
			[]string{"route"},
		),

		StreamsAborted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "infergate",
				Name:      "streams_aborted_total",
				Help:      "Streaming responses cut short by client disconnect, by route and backend",
			},
			[]string{"route", "backend"},
		),

		ConfigReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "infergate",
				Name:      "config_reloads_total",
				Help:      "Gateway table reload attempts, by outcome",
			},
			[]string{"status"},
		),

		ToolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "infergate",
				Name:      "tool_calls_total",
				Help:      "MCP tool invocations, by route, server, and outcome",
			},
			[]string{"route", "server", "outcome"},
		),
	}

	m.registry.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.TokensTotal,
		m.RateLimited,
		m.StreamsAborted,
		m.ConfigReloads,
		m.ToolCalls,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler exposes the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// RecordRequest counts one finished request and observes its duration.
func (m *Metrics) RecordRequest(route, backend, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(route, backend, status).Inc()
	m.RequestDuration.WithLabelValues(route, backend).Observe(duration.Seconds())
}

// RecordTokens counts prompt and completion token usage.
func (m *Metrics) RecordTokens(route, model string, prompt, completion int) {
	if prompt > 0 {
		m.TokensTotal.WithLabelValues(route, model, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		m.TokensTotal.WithLabelValues(route, model, "completion").Add(float64(completion))
	}
}

// RecordRateLimited counts one rejected request.
func (m *Metrics) RecordRateLimited(route string) {
	m.RateLimited.WithLabelValues(route).Inc()
}

// RecordStreamAborted counts one stream cut short by the client.
func (m *Metrics) RecordStreamAborted(route, backend string) {
	m.StreamsAborted.WithLabelValues(route, backend).Inc()
}

// RecordConfigReload counts one reload attempt.
func (m *Metrics) RecordConfigReload(ok bool) {
	status := "success"
	if !ok {
		status = "error"
	}
	m.ConfigReloads.WithLabelValues(status).Inc()
}

// RecordToolCall counts one MCP tool invocation outcome.
func (m *Metrics) RecordToolCall(route, server, outcome string) {
	m.ToolCalls.WithLabelValues(route, server, outcome).Inc()
}
