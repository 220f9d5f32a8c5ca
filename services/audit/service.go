// Package audit emits one structured log entry per policy decision. The
// entries are the gateway's audit trail: they go through the process logger
// (stdout JSON in production) rather than a database, so the trail survives
// exactly as long as the log pipeline keeps it.
package audit

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Action classifies what a decision entry records.
type Action string

const (
	ActionRequestCompleted Action = "request_completed"
	ActionAuthRejected     Action = "auth_rejected"
	ActionAuthzDenied      Action = "authz_denied"
	ActionRateLimited      Action = "rate_limited"
	ActionContentBlocked   Action = "content_blocked"
	ActionToolDenied       Action = "tool_denied"
	ActionStreamAborted    Action = "stream_aborted"
	ActionConfigReloaded   Action = "config_reloaded"
)

// Decision is one audit entry. Zero-valued fields are omitted from the log
// line, so a denial recorded before routing carries no backend and an MCP
// decision carries no model.
type Decision struct {
	ID        string
	Time      time.Time
	Action    Action
	RequestID string
	ClientIP  string

	Route   string
	Backend string
	Model   string
	Tool    string

	Issuer  string
	Subject string

	// Stage names the pipeline stage that produced the decision; Reason is
	// its human-readable explanation (rule name, budget, detector)
	Stage  string
	Reason string

	Status    int
	LatencyMs int64
}

// NewDecision creates a decision entry stamped with an ID and timestamp.
func NewDecision(action Action) *Decision {
	return &Decision{
		ID:     uuid.NewString(),
		Time:   time.Now(),
		Action: action,
	}
}

// WithRequest sets request correlation metadata
func (d *Decision) WithRequest(requestID, clientIP string) *Decision {
	d.RequestID = requestID
	d.ClientIP = clientIP
	return d
}

// WithRoute sets where the request resolved
func (d *Decision) WithRoute(route, backend, model string) *Decision {
	d.Route = route
	d.Backend = backend
	d.Model = model
	return d
}

// WithIdentity sets the verified caller identity
func (d *Decision) WithIdentity(issuer, subject string) *Decision {
	d.Issuer = issuer
	d.Subject = subject
	return d
}

// WithTool sets the MCP tool name the decision concerns
func (d *Decision) WithTool(tool string) *Decision {
	d.Tool = tool
	return d
}

// WithStage sets the pipeline stage and its reason
func (d *Decision) WithStage(stage, reason string) *Decision {
	d.Stage = stage
	d.Reason = reason
	return d
}

// WithOutcome sets the final HTTP status and request latency
func (d *Decision) WithOutcome(status int, latencyMs int64) *Decision {
	d.Status = status
	d.LatencyMs = latencyMs
	return d
}

// Logger writes decisions to the audit log.
type Logger struct {
	logger *zap.Logger
}

// NewLogger creates an audit logger on top of the process logger.
func NewLogger(logger *zap.Logger) *Logger {
	return &Logger{logger: logger.Named("audit")}
}

// Log emits one decision. Every entry logs at Info: the audit trail records
// denials and successes alike, alert levels belong to the request logger.
func (l *Logger) Log(d *Decision) {
	fields := make([]zap.Field, 0, 16)
	fields = append(fields,
		zap.String("audit_id", d.ID),
		zap.Time("at", d.Time),
		zap.String("action", string(d.Action)),
	)

	if d.RequestID != "" {
		fields = append(fields, zap.String("request_id", d.RequestID))
	}
	if d.ClientIP != "" {
		fields = append(fields, zap.String("client_ip", d.ClientIP))
	}
	if d.Route != "" {
		fields = append(fields, zap.String("route", d.Route))
	}
	if d.Backend != "" {
		fields = append(fields, zap.String("backend", d.Backend))
	}
	if d.Model != "" {
		fields = append(fields, zap.String("model", d.Model))
	}
	if d.Tool != "" {
		fields = append(fields, zap.String("tool", d.Tool))
	}
	if d.Issuer != "" {
		fields = append(fields, zap.String("issuer", d.Issuer))
	}
	if d.Subject != "" {
		fields = append(fields, zap.String("subject", d.Subject))
	}
	if d.Stage != "" {
		fields = append(fields, zap.String("stage", d.Stage))
	}
	if d.Reason != "" {
		fields = append(fields, zap.String("reason", d.Reason))
	}
	if d.Status != 0 {
		fields = append(fields, zap.Int("status", d.Status))
	}
	if d.LatencyMs != 0 {
		fields = append(fields, zap.Int64("latency_ms", d.LatencyMs))
	}

	l.logger.Info("decision", fields...)
}
