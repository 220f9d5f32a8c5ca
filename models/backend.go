package models

import "time"

// BackendKind distinguishes LLM provider backends from MCP tool servers
type BackendKind string

const (
	BackendKindLLM BackendKind = "llm"
	BackendKindMCP BackendKind = "mcp"
)

// Transport selects the wire transport used to reach a backend
type Transport string

const (
	TransportHTTP1          Transport = "http1"
	TransportHTTP2          Transport = "http2"
	TransportSSE            Transport = "sse"
	TransportStreamableHTTP Transport = "streamable-http"
)

// RetryConfig bounds per-backend retry behavior before failover is attempted
type RetryConfig struct {
	// Attempts is the total number of tries against the backend (minimum 1)
	Attempts int `yaml:"attempts,omitempty" json:"attempts,omitempty" validate:"gte=0,lte=10"`

	// BackoffMS is the base delay between attempts in milliseconds
	BackoffMS int `yaml:"backoff_ms,omitempty" json:"backoff_ms,omitempty" validate:"gte=0"`
}

// Backend is one resolved upstream: an LLM provider endpoint or an MCP server.
type Backend struct {
	// Name uniquely identifies the backend; MCP backend names are also used as
	// tool namespaces and must match ^[a-z0-9-]+$
	Name string `yaml:"name" json:"name" validate:"required"`

	// Kind is llm or mcp
	Kind BackendKind `yaml:"kind" json:"kind" validate:"required,oneof=llm mcp"`

	// BaseURL is the upstream base URL (scheme + host + optional path prefix)
	BaseURL string `yaml:"base_url" json:"base_url" validate:"required,url"`

	// Model overrides the request model for llm backends when set
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	// CredentialEnv names the environment variable holding the upstream API
	// key. Secrets are never stored in the gateway table file.
	CredentialEnv string `yaml:"credential_env,omitempty" json:"credential_env,omitempty"`

	// Transport selects http1 (default), http2, sse, or streamable-http
	Transport Transport `yaml:"transport,omitempty" json:"transport,omitempty" validate:"omitempty,oneof=http1 http2 sse streamable-http"`

	// TimeoutMS caps the total upstream call duration; 0 uses the server default
	TimeoutMS int `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty" validate:"gte=0"`

	// Retry configures in-place retries before failover
	Retry RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty"`

	// Fallback names the backend tried once when this one fails; must differ
	// from Name and resolve to a configured backend
	Fallback string `yaml:"fallback,omitempty" json:"fallback,omitempty"`
}

// Timeout returns the configured per-backend timeout, or def when unset.
func (b *Backend) Timeout(def time.Duration) time.Duration {
	if b.TimeoutMS <= 0 {
		return def
	}
	return time.Duration(b.TimeoutMS) * time.Millisecond
}

// RetryAttempts returns the configured attempt count, minimum 1.
func (b *Backend) RetryAttempts() int {
	if b.Retry.Attempts <= 0 {
		return 1
	}
	return b.Retry.Attempts
}

// RetryBackoff returns the configured base backoff between attempts.
func (b *Backend) RetryBackoff() time.Duration {
	if b.Retry.BackoffMS <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(b.Retry.BackoffMS) * time.Millisecond
}
