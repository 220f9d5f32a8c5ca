package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLogger(t *testing.T) (*Logger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)
	return NewLogger(zap.New(core)), logs
}

func TestLogger_LogCompletedRequest(t *testing.T) {
	l, logs := newObservedLogger(t)

	l.Log(NewDecision(ActionRequestCompleted).
		WithRequest("req-123", "203.0.113.9").
		WithIdentity("https://issuer.example.com", "user-7").
		WithRoute("chat", "openai-primary", "gpt-4o-mini").
		WithOutcome(200, 420))

	entries := logs.All()
	require.Len(t, entries, 1)

	entry := entries[0]
	assert.Equal(t, "decision", entry.Message)
	assert.Equal(t, zapcore.InfoLevel, entry.Level)
	assert.Equal(t, "audit", entry.LoggerName)

	fields := entry.ContextMap()
	assert.Equal(t, "request_completed", fields["action"])
	assert.Equal(t, "req-123", fields["request_id"])
	assert.Equal(t, "203.0.113.9", fields["client_ip"])
	assert.Equal(t, "chat", fields["route"])
	assert.Equal(t, "openai-primary", fields["backend"])
	assert.Equal(t, "gpt-4o-mini", fields["model"])
	assert.Equal(t, "user-7", fields["subject"])
	assert.Equal(t, int64(200), fields["status"])
	assert.Equal(t, int64(420), fields["latency_ms"])
	assert.NotEmpty(t, fields["audit_id"])
}

func TestLogger_OmitsUnsetFields(t *testing.T) {
	l, logs := newObservedLogger(t)

	// a rate limit denial happens before any backend is drawn
	l.Log(NewDecision(ActionRateLimited).
		WithRequest("req-9", "").
		WithRoute("chat", "", "").
		WithStage("ratelimit", "exceeded 100 requests per 60s window").
		WithOutcome(429, 3))

	entries := logs.All()
	require.Len(t, entries, 1)

	fields := entries[0].ContextMap()
	assert.Equal(t, "rate_limited", fields["action"])
	assert.Equal(t, "ratelimit", fields["stage"])
	assert.Contains(t, fields["reason"], "100 requests")

	_, hasBackend := fields["backend"]
	assert.False(t, hasBackend)
	_, hasClientIP := fields["client_ip"]
	assert.False(t, hasClientIP)
	_, hasModel := fields["model"]
	assert.False(t, hasModel)
	_, hasTool := fields["tool"]
	assert.False(t, hasTool)
}

func TestLogger_ToolDenial(t *testing.T) {
	l, logs := newObservedLogger(t)

	l.Log(NewDecision(ActionToolDenied).
		WithIdentity("https://issuer.example.com", "agent-3").
		WithRoute("tools", "", "").
		WithTool("search_fetch").
		WithStage("authz", "deny rule matched").
		WithOutcome(403, 0))

	entries := logs.All()
	require.Len(t, entries, 1)

	fields := entries[0].ContextMap()
	assert.Equal(t, "tool_denied", fields["action"])
	assert.Equal(t, "search_fetch", fields["tool"])
	assert.Equal(t, int64(403), fields["status"])
}

func TestNewDecision_StampsIdentityFields(t *testing.T) {
	a := NewDecision(ActionAuthRejected)
	b := NewDecision(ActionAuthRejected)

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.Time.IsZero())
}
