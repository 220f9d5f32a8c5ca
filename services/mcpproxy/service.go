// Package mcpproxy serves MCP JSON-RPC to clients and fans out to the
// matched route's tool servers. Tool names are namespaced with the owning
// server name, tools/list is filtered down to exactly the set the caller is
// authorized to invoke, and tools/call enforces the same decision before
// anything reaches an upstream.
package mcpproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/infergate/infergate/models"
	"github.com/infergate/infergate/services/authz"
	"github.com/infergate/infergate/services/snapshot"
)

// codeToolDenied is in the JSON-RPC server-defined error range.
const codeToolDenied = -32001

// Call is one inbound JSON-RPC exchange with its resolved gateway context.
type Call struct {
	// Snapshot is the configuration view the request is served under
	Snapshot *snapshot.Snapshot

	// Route is the matched MCP route
	Route *models.Route

	// Identity carries the caller's claims and request attributes for
	// authorization decisions; Tool is filled in per decision
	Identity authz.Input

	// Body is the raw JSON-RPC request
	Body []byte
}

// Response is one HTTP reply: a status code and an optional JSON-RPC body.
// A nil Body means the reply carries no content (notifications).
type Response struct {
	Status int
	Body   any

	// Tool, Server, and Outcome describe a tools/call decision for the
	// caller's audit and metrics; empty for every other method and for
	// calls rejected before a server was resolved. Outcome is one of
	// ok, denied, error, timeout.
	Tool    string
	Server  string
	Outcome string
}

// Service answers MCP JSON-RPC requests by aggregating the matched route's
// tool servers.
type Service struct {
	logger *zap.Logger
	pool   *ClientPool
	tools  *toolCache
}

// NewService creates an MCP proxy service backed by pool.
func NewService(logger *zap.Logger, pool *ClientPool) *Service {
	return &Service{
		logger: logger,
		pool:   pool,
		tools:  newToolCache(toolCacheSize, toolCacheTTL),
	}
}

// Handle dispatches one JSON-RPC request. Protocol-level failures are
// reported in-band as JSON-RPC errors; the HTTP status mirrors the gateway's
// error taxonomy so plain HTTP clients see the same classification.
func (s *Service) Handle(ctx context.Context, call *Call) *Response {
	body := bytes.TrimSpace(call.Body)
	if len(body) == 0 {
		return rpcFailure(nil, http.StatusBadRequest, mcp.INVALID_REQUEST, "empty request body")
	}
	if body[0] == '[' {
		return rpcFailure(nil, http.StatusBadRequest, mcp.INVALID_REQUEST, "batch requests are not supported")
	}

	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return rpcFailure(nil, http.StatusBadRequest, mcp.PARSE_ERROR, "request body is not valid JSON-RPC")
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		return rpcFailure(req.ID, http.StatusBadRequest, mcp.INVALID_REQUEST, "invalid JSON-RPC envelope")
	}

	// Requests without an id are notifications and never get a response.
	if len(req.ID) == 0 {
		s.logger.Debug("notification accepted", zap.String("method", req.Method))
		return &Response{Status: http.StatusAccepted}
	}

	switch req.Method {
	case "initialize":
		return s.initialize(&req)
	case "ping":
		return rpcOK(req.ID, struct{}{})
	case "tools/list":
		return s.listTools(ctx, call, req.ID)
	case "tools/call":
		return s.callTool(ctx, call, &req)
	default:
		return rpcFailure(req.ID, http.StatusOK, mcp.METHOD_NOT_FOUND,
			fmt.Sprintf("method %q is not supported", req.Method))
	}
}

// initialize answers with the gateway's own identity. Upstream servers run
// their own handshakes when their sessions are dialed.
func (s *Service) initialize(req *rpcRequest) *Response {
	var p struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	if len(req.Params) > 0 {
		// Best effort; a malformed params block falls back to the default.
		_ = json.Unmarshal(req.Params, &p)
	}
	version := p.ProtocolVersion
	if version == "" {
		version = mcp.LATEST_PROTOCOL_VERSION
	}

	return rpcOK(req.ID, initializeResult{
		ProtocolVersion: version,
		Capabilities: map[string]any{
			"tools": map[string]any{"listChanged": false},
		},
		ServerInfo: mcp.Implementation{Name: gatewayName, Version: gatewayVersion},
	})
}

// listTools aggregates tools across the route's servers, prefixes each name
// with its server, and drops every tool the caller could not invoke. An
// unreachable server hides its tools rather than failing the whole listing;
// only a listing with no reachable server at all fails. Listings are cached
// briefly per server so clients that poll tools/list do not hammer upstreams.
func (s *Service) listTools(ctx context.Context, call *Call, id json.RawMessage) *Response {
	backends := toolBackends(call.Snapshot, call.Route)

	tools := make([]mcp.Tool, 0)
	failed := 0
	for _, b := range backends {
		eff := call.Snapshot.EffectiveFor(call.Route.Name, b.Name)

		upstream, err := s.upstreamTools(ctx, b)
		if err != nil {
			failed++
			s.logger.Warn("listing tools failed",
				zap.String("route", call.Route.Name),
				zap.String("backend", b.Name),
				zap.Error(err))
			continue
		}

		for _, t := range upstream {
			namespaced := t
			namespaced.Name = b.Name + "_" + t.Name
			if !toolAllowed(eff, call.Identity, t.Name, namespaced.Name) {
				continue
			}
			tools = append(tools, namespaced)
		}
	}

	if failed > 0 && failed == len(backends) {
		return rpcFailure(id, http.StatusBadGateway, mcp.INTERNAL_ERROR, "no tool server reachable")
	}
	return rpcOK(id, listToolsResult{Tools: tools})
}

// upstreamTools returns b's tool listing, serving from cache when a fresh
// entry exists. Only successful listings are cached, and always unfiltered,
// so one caller's authorization never shapes what another caller sees.
func (s *Service) upstreamTools(ctx context.Context, b *models.Backend) ([]mcp.Tool, error) {
	key := toolCacheKey(b)
	if tools, ok := s.tools.get(key); ok {
		return tools, nil
	}

	tctx, cancel := context.WithTimeout(ctx, b.Timeout(DefaultTimeout))
	defer cancel()

	tools, err := s.pool.For(b).ListTools(tctx)
	if err != nil {
		return nil, err
	}
	s.tools.set(key, tools)
	return tools, nil
}

func (s *Service) callTool(ctx context.Context, call *Call, req *rpcRequest) *Response {
	var p struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if len(req.Params) == 0 {
		return rpcFailure(req.ID, http.StatusBadRequest, mcp.INVALID_PARAMS, "params are required")
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return rpcFailure(req.ID, http.StatusBadRequest, mcp.INVALID_PARAMS, "params must be an object with a tool name")
	}
	if p.Name == "" {
		return rpcFailure(req.ID, http.StatusBadRequest, mcp.INVALID_PARAMS, "tool name is required")
	}

	server, bare, ok := SplitToolName(p.Name)
	if !ok {
		return rpcFailure(req.ID, http.StatusBadRequest, mcp.INVALID_PARAMS,
			fmt.Sprintf("tool %q does not carry a server prefix", p.Name))
	}
	b := routeBackend(call.Snapshot, call.Route, server)
	if b == nil {
		return rpcFailure(req.ID, http.StatusBadRequest, mcp.INVALID_PARAMS,
			fmt.Sprintf("tool %q does not resolve to a configured server", p.Name))
	}

	eff := call.Snapshot.EffectiveFor(call.Route.Name, b.Name)
	if !toolAllowed(eff, call.Identity, bare, p.Name) {
		s.logger.Info("tool call denied",
			zap.String("route", call.Route.Name),
			zap.String("backend", b.Name),
			zap.String("tool", p.Name))
		return decided(rpcFailure(req.ID, http.StatusForbidden, codeToolDenied,
			fmt.Sprintf("tool %q denied by authorization policy", p.Name)), p.Name, b.Name, "denied")
	}

	tctx, cancel := context.WithTimeout(ctx, b.Timeout(DefaultTimeout))
	defer cancel()

	res, err := s.pool.For(b).CallTool(tctx, bare, p.Arguments)
	if err != nil {
		s.logger.Warn("tool call failed",
			zap.String("route", call.Route.Name),
			zap.String("backend", b.Name),
			zap.String("tool", bare),
			zap.Error(err))
		if errors.Is(err, context.DeadlineExceeded) || tctx.Err() == context.DeadlineExceeded {
			return decided(rpcFailure(req.ID, http.StatusGatewayTimeout, mcp.INTERNAL_ERROR,
				fmt.Sprintf("tool server %s timed out", b.Name)), p.Name, b.Name, "timeout")
		}
		return decided(rpcFailure(req.ID, http.StatusBadGateway, mcp.INTERNAL_ERROR,
			fmt.Sprintf("tool server %s failed", b.Name)), p.Name, b.Name, "error")
	}

	// Tool-level failures (IsError results) pass through untouched; they are
	// results, not protocol errors.
	return decided(rpcOK(req.ID, res), p.Name, b.Name, "ok")
}

// SplitToolName splits a namespaced tool name into server and bare tool.
// Server names never contain underscores, so the first underscore is the
// namespace boundary; tool names keep any underscores of their own.
func SplitToolName(name string) (server, tool string, ok bool) {
	i := strings.Index(name, "_")
	if i <= 0 || i == len(name)-1 {
		return "", "", false
	}
	return name[:i], name[i+1:], true
}

// toolAllowed decides whether the caller may see and invoke one tool.
// Authorization rules may reference the bare upstream name or the namespaced
// form clients see, so both are evaluated: a deny on either form blocks, an
// allow on either form grants. Targets without authorization rules fall back
// to the route's authentication posture: protected routes deny, open routes
// allow.
func toolAllowed(eff *snapshot.EffectivePolicy, id authz.Input, bare, namespaced string) bool {
	if eff.Authz == nil {
		return !eff.RequiresAuth()
	}

	bareIn := id
	bareIn.Tool = bare
	nsIn := id
	nsIn.Tool = namespaced

	bareDec := eff.Authz.Authorize(bareIn)
	nsDec := eff.Authz.Authorize(nsIn)
	if bareDec.Denied() || nsDec.Denied() {
		return false
	}
	return bareDec.Allowed || nsDec.Allowed
}

// toolBackends resolves the route's MCP servers in configuration order.
func toolBackends(snap *snapshot.Snapshot, route *models.Route) []*models.Backend {
	backends := make([]*models.Backend, 0, len(route.Backends))
	for _, wb := range route.Backends {
		if b := snap.Backend(wb.Name); b != nil && b.Kind == models.BackendKindMCP {
			backends = append(backends, b)
		}
	}
	return backends
}

// routeBackend resolves server to an MCP backend attached to the route. Tool
// calls cannot reach servers the matched route does not expose.
func routeBackend(snap *snapshot.Snapshot, route *models.Route, server string) *models.Backend {
	for _, wb := range route.Backends {
		if wb.Name != server {
			continue
		}
		if b := snap.Backend(server); b != nil && b.Kind == models.BackendKindMCP {
			return b
		}
	}
	return nil
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    map[string]any     `json:"capabilities"`
	ServerInfo      mcp.Implementation `json:"serverInfo"`
}

type listToolsResult struct {
	Tools []mcp.Tool `json:"tools"`
}

var nullID = json.RawMessage("null")

func rpcOK(id json.RawMessage, result any) *Response {
	return &Response{
		Status: http.StatusOK,
		Body:   &rpcResponse{JSONRPC: "2.0", ID: id, Result: result},
	}
}

// decided tags a response with the tool-call decision it reports.
func decided(r *Response, tool, server, outcome string) *Response {
	r.Tool = tool
	r.Server = server
	r.Outcome = outcome
	return r
}

func rpcFailure(id json.RawMessage, status, code int, message string) *Response {
	if len(id) == 0 {
		id = nullID
	}
	return &Response{
		Status: status,
		Body:   &rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}},
	}
}
