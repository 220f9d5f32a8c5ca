package handlers

import (
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/infergate/infergate/internal/observability"
	"github.com/infergate/infergate/middleware"
	"github.com/infergate/infergate/models"
	"github.com/infergate/infergate/services/audit"
	"github.com/infergate/infergate/services/dispatch"
	"github.com/infergate/infergate/services/providers"
	"github.com/infergate/infergate/services/snapshot"
	"github.com/infergate/infergate/services/usage"
	"github.com/infergate/infergate/utils"
)

// InferenceHandler forwards admitted LLM requests to their drawn backend and
// writes the usage, audit, and telemetry trail once the upstream answers.
// The policy pipeline has already parsed and inspected the body by the time
// a request lands here.
type InferenceHandler struct {
	dispatcher *dispatch.Dispatcher
	adapters   *providers.Registry
	usage      *usage.Service
	auditor    *audit.Logger
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewInferenceHandler creates a new InferenceHandler.
func NewInferenceHandler(
	dispatcher *dispatch.Dispatcher,
	adapters *providers.Registry,
	usageSvc *usage.Service,
	auditor *audit.Logger,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *InferenceHandler {
	return &InferenceHandler{
		dispatcher: dispatcher,
		adapters:   adapters,
		usage:      usageSvc,
		auditor:    auditor,
		metrics:    metrics,
		logger:     logger,
	}
}

// HandleCompletion serves every non-MCP route: chat completions, embeddings,
// and passthrough relays. Streaming requests relay chunk-by-chunk; everything
// else is buffered.
func (h *InferenceHandler) HandleCompletion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)
	start := time.Now()

	snap := middleware.GetSnapshotFromContext(ctx)
	route := middleware.GetRouteFromContext(ctx)
	backend := middleware.GetBackendFromContext(ctx)
	parsed := middleware.GetParsedRequestFromContext(ctx)
	if snap == nil || route == nil || backend == nil || parsed == nil {
		h.logger.Error("request reached dispatch without a resolved target",
			zap.String("request_id", requestID))
		_ = utils.WriteInternalServerError(w, "Route not resolved")
		return
	}

	// The policy pipeline re-armed the body from memory; this read cannot
	// touch the network.
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read admitted body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to read request body")
		return
	}

	adapter, err := h.adapters.ForProtocol(route.Protocol)
	if err != nil {
		h.logger.Error("no adapter for route protocol",
			zap.String("request_id", requestID),
			zap.String("route", route.Name),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Route protocol not supported")
		return
	}

	call := &dispatch.Call{
		Backend:  backend,
		Adapter:  adapter,
		Endpoint: parsed.Endpoint,
		Method:   r.Method,
		Body:     body,
		Header:   r.Header,
	}
	if backend.Fallback != "" {
		call.Fallback = snap.Backend(backend.Fallback)
	}

	if parsed.Stream {
		res, err := h.dispatcher.Stream(ctx, w, call)
		if res == nil {
			h.dispatchFailed(w, r, route, backend, parsed, err, time.Since(start))
			return
		}
		if err != nil {
			// The relay was cut short after bytes went out; the response
			// cannot be changed, only recorded.
			h.logger.Error("stream relay interrupted",
				zap.String("request_id", requestID),
				zap.String("route", route.Name),
				zap.String("backend", res.Backend),
				zap.Error(err))
		}
		h.finish(r, snap, route, parsed, res)
		return
	}

	res, err := h.dispatcher.Do(ctx, call)
	if err != nil {
		h.dispatchFailed(w, r, route, backend, parsed, err, time.Since(start))
		return
	}

	dispatch.CopyHeaders(w.Header(), res.Header)
	w.WriteHeader(res.StatusCode)
	if _, err := w.Write(res.Body); err != nil {
		res.Aborted = true
	}
	h.finish(r, snap, route, parsed, res)
}

// dispatchFailed answers a call that produced no upstream response. A dead
// client gets no answer at all, just the aborted record.
func (h *InferenceHandler) dispatchFailed(w http.ResponseWriter, r *http.Request, route *models.Route, backend *models.Backend, parsed *providers.ParsedRequest, err error, elapsed time.Duration) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)
	model := servedModel(backend, parsed.Model)

	if ctx.Err() != nil {
		h.logger.Warn("client disconnected during dispatch",
			zap.String("request_id", requestID),
			zap.String("route", route.Name),
			zap.String("backend", backend.Name))
		h.usage.Record(usage.Record{
			ID:        requestID,
			Route:     route.Name,
			Backend:   backend.Name,
			Model:     model,
			LatencyMs: elapsed.Milliseconds(),
			Aborted:   true,
		})
		return
	}

	status := StatusForError(err)
	h.logger.Error("upstream dispatch failed",
		zap.String("request_id", requestID),
		zap.String("route", route.Name),
		zap.String("backend", backend.Name),
		zap.Int("status", status),
		zap.Error(err))
	HandleServiceError(w, err, h.logger)

	d := audit.NewDecision(audit.ActionRequestCompleted).
		WithRequest(requestID, r.RemoteAddr).
		WithRoute(route.Name, backend.Name, model).
		WithStage("dispatch", err.Error()).
		WithOutcome(status, elapsed.Milliseconds())
	if claims := middleware.GetClaimsFromContext(ctx); claims != nil {
		d = d.WithIdentity(claims.Issuer, claims.Subject)
	}
	h.auditor.Log(d)

	h.usage.Record(usage.Record{
		ID:        requestID,
		Route:     route.Name,
		Backend:   backend.Name,
		Model:     model,
		LatencyMs: elapsed.Milliseconds(),
		Status:    status,
	})
}

// finish writes the post-dispatch trail: usage record, token counters, span
// attributes, and the completion audit entry.
func (h *InferenceHandler) finish(r *http.Request, snap *snapshot.Snapshot, route *models.Route, parsed *providers.ParsedRequest, res *dispatch.Result) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)
	model := servedModel(snap.Backend(res.Backend), parsed.Model)

	prompt := res.Usage.PromptTokens
	completion := res.Usage.CompletionTokens
	estimated := false
	if !res.UsageKnown && res.StatusCode < 300 {
		// The upstream reported nothing; fall back to the local estimate
		// computed during admission.
		prompt = middleware.GetEstimatedTokensFromContext(ctx)
		completion = 0
		estimated = prompt > 0
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.Int("gateway.usage.prompt_tokens", prompt),
		attribute.Int("gateway.usage.completion_tokens", completion),
	)
	if res.FailedOver {
		span.SetAttributes(
			attribute.Bool("gateway.failed_over", true),
			attribute.String("gateway.backend", res.Backend),
		)
	}

	if prompt+completion > 0 {
		h.metrics.RecordTokens(route.Name, model, prompt, completion)
	}
	if res.Aborted {
		h.metrics.RecordStreamAborted(route.Name, res.Backend)
	}

	action := audit.ActionRequestCompleted
	if res.Aborted {
		action = audit.ActionStreamAborted
	}
	d := audit.NewDecision(action).
		WithRequest(requestID, r.RemoteAddr).
		WithRoute(route.Name, res.Backend, model).
		WithOutcome(res.StatusCode, res.Latency.Milliseconds())
	if claims := middleware.GetClaimsFromContext(ctx); claims != nil {
		d = d.WithIdentity(claims.Issuer, claims.Subject)
	}
	h.auditor.Log(d)

	h.usage.Record(usage.Record{
		ID:               requestID,
		Route:            route.Name,
		Backend:          res.Backend,
		Model:            model,
		PromptTokens:     prompt,
		CompletionTokens: completion,
		Estimated:        estimated,
		LatencyMs:        res.Latency.Milliseconds(),
		Status:           res.StatusCode,
		Aborted:          res.Aborted,
	})
}

// servedModel resolves the model a backend will actually serve: its
// configured override when set, else the model the request asked for.
func servedModel(backend *models.Backend, requestModel string) string {
	if backend != nil && backend.Model != "" {
		return backend.Model
	}
	return requestModel
}
