// Package observability provides logger construction, Prometheus metrics,
// and OpenTelemetry setup for the gateway.
//
// Request handling emits one span per request. Span and metric export is
// batched and fire-and-forget: telemetry backends being slow or down never
// affects request latency or outcome.
package observability
