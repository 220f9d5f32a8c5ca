package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/infergate/infergate/internal/observability"
	"github.com/infergate/infergate/middleware"
	"github.com/infergate/infergate/models"
	"github.com/infergate/infergate/services/audit"
	"github.com/infergate/infergate/services/mcpproxy"
	"github.com/infergate/infergate/services/snapshot"
)

func newMCPHandler(t *testing.T, maxBody int64) *MCPHandler {
	t.Helper()
	pool := mcpproxy.NewClientPool(zap.NewNop(), nil)
	t.Cleanup(pool.Close)
	return NewMCPHandler(
		mcpproxy.NewService(zap.NewNop(), pool),
		audit.NewLogger(zap.NewNop()),
		observability.NewMetrics(),
		maxBody,
		zap.NewNop(),
	)
}

func mcpRequest(t *testing.T, method, body string) *http.Request {
	t.Helper()
	cfg := &models.GatewayConfig{
		Backends: []models.Backend{
			{Name: "tools", Kind: models.BackendKindMCP, BaseURL: "https://mcp.example"},
		},
		Routes: []models.Route{
			{
				Name:     "mcp",
				Match:    models.RouteMatch{PathExact: "/mcp"},
				Backends: []models.WeightedBackend{{Name: "tools", Weight: 1}},
				Protocol: models.ProtocolMCP,
			},
		},
	}
	st := snapshot.NewStore(zap.NewNop())
	snap, err := st.Replace(cfg)
	require.NoError(t, err)

	r := httptest.NewRequest(method, "/mcp", strings.NewReader(body))
	ctx := middleware.WithSnapshot(r.Context(), snap)
	ctx = middleware.WithRoute(ctx, &cfg.Routes[0])
	return r.WithContext(ctx)
}

func TestMCPHandle_InitializeAnsweredLocally(t *testing.T) {
	h := newMCPHandler(t, 1<<20)
	req := mcpRequest(t, http.MethodPost,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26"}}`)

	rec := httptest.NewRecorder()
	h.Handle(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"jsonrpc":"2.0"`)
	assert.Contains(t, body, "infergate")
	assert.Contains(t, body, "2025-03-26")
}

func TestMCPHandle_NotificationGets202(t *testing.T) {
	h := newMCPHandler(t, 1<<20)
	req := mcpRequest(t, http.MethodPost,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`)

	rec := httptest.NewRecorder()
	h.Handle(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Zero(t, rec.Body.Len())
}

func TestMCPHandle_MalformedEnvelopeIs400(t *testing.T) {
	h := newMCPHandler(t, 1<<20)
	req := mcpRequest(t, http.MethodPost, `{"not":"jsonrpc","id":1}`)

	rec := httptest.NewRecorder()
	h.Handle(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMCPHandle_OversizeBodyIs400(t *testing.T) {
	h := newMCPHandler(t, 16)
	req := mcpRequest(t, http.MethodPost,
		`{"jsonrpc":"2.0","id":1,"method":"ping","params":{"pad":"xxxxxxxxxxxxxxxx"}}`)

	rec := httptest.NewRecorder()
	h.Handle(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Request body too large")
}

func TestMCPHandle_DeleteAcknowledged(t *testing.T) {
	h := newMCPHandler(t, 1<<20)
	req := mcpRequest(t, http.MethodDelete, "")

	rec := httptest.NewRecorder()
	h.Handle(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestMCPHandle_UnsupportedMethodIs405(t *testing.T) {
	h := newMCPHandler(t, 1<<20)
	req := mcpRequest(t, http.MethodPut, "{}")

	rec := httptest.NewRecorder()
	h.Handle(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, POST, DELETE", rec.Header().Get("Allow"))
}

func TestMCPHandle_EventStreamOpens(t *testing.T) {
	h := newMCPHandler(t, 1<<20)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := mcpRequest(t, http.MethodGet, "").WithContext(ctx)

	rec := httptest.NewRecorder()
	h.Handle(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
}
