package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDomainError(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeUpstream, "upstream request failed", baseErr)

	assert.Equal(t, ErrorTypeUpstream, domainErr.Type)
	assert.Equal(t, "upstream request failed", domainErr.Message)
	assert.Equal(t, baseErr, domainErr.Err)
	assert.NotNil(t, domainErr.Details)
}

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *DomainError
		wantMsg string
	}{
		{
			name: "error with wrapped error",
			err: &DomainError{
				Type:    ErrorTypeUpstream,
				Message: "upstream request failed",
				Err:     errors.New("connection refused"),
			},
			wantMsg: "upstream_error: upstream request failed (connection refused)",
		},
		{
			name: "error without wrapped error",
			err: &DomainError{
				Type:    ErrorTypeValidation,
				Message: "invalid input",
				Err:     nil,
			},
			wantMsg: "validation: invalid input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, tt.err.Error())
		})
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeInternal, "internal error", baseErr)

	unwrapped := errors.Unwrap(domainErr)
	assert.Equal(t, baseErr, unwrapped)
}

func TestDomainError_Is(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{
			name:   "same error type",
			err:    NewDomainError(ErrorTypeNoRoute, "nothing matched", nil),
			target: ErrNoRouteMatch,
			want:   true,
		},
		{
			name:   "sentinels of one class match each other",
			err:    ErrTokenExpired,
			target: ErrAuthInvalid,
			want:   true,
		},
		{
			name:   "different error type",
			err:    NewDomainError(ErrorTypeValidation, "validation", nil),
			target: ErrNoRouteMatch,
			want:   false,
		},
		{
			name:   "not a domain error",
			err:    NewDomainError(ErrorTypeNoRoute, "nothing matched", nil),
			target: errors.New("regular error"),
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestDomainError_WithDetail(t *testing.T) {
	err := NewDomainError(ErrorTypeRateLimit, "rate limit exceeded", nil)

	err.WithDetail("limit", 100).WithDetail("window_seconds", 60)

	assert.Equal(t, 100, err.Details["limit"])
	assert.Equal(t, 60, err.Details["window_seconds"])
}

func TestIsNoRouteError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"no route error", ErrNoRouteMatch, true},
		{"wrapped no route", fmt.Errorf("wrapped: %w", ErrNoRouteMatch), true},
		{"validation error", ErrInvalidInput, false},
		{"regular error", errors.New("regular"), false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNoRouteError(tt.err))
		})
	}
}

func TestIsValidationError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"invalid input", ErrInvalidInput, true},
		{"oversize prompt", ErrPromptTooLarge, true},
		{"wrapped validation", fmt.Errorf("wrapped: %w", ErrMalformedJSON), true},
		{"no route error", ErrNoRouteMatch, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidationError(tt.err))
		})
	}
}

func TestIsAuthInvalidError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"auth invalid", ErrAuthInvalid, true},
		{"expired token", ErrTokenExpired, true},
		{"keys unavailable", ErrJWKSUnavailable, true},
		{"authorization denial", ErrAuthorizationDenied, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAuthInvalidError(tt.err))
		})
	}
}

func TestIsAuthzDeniedError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"request denied", ErrAuthorizationDenied, true},
		{"tool denied", ErrToolDenied, true},
		{"auth invalid", ErrAuthInvalid, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAuthzDeniedError(tt.err))
		})
	}
}

func TestIsRateLimitError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"request limit", ErrRateLimitExceeded, true},
		{"token budget", ErrTokenBudgetExceeded, true},
		{"content policy", ErrContentPolicyViolation, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRateLimitError(tt.err))
		})
	}
}

func TestIsContentPolicyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"policy violation", ErrContentPolicyViolation, true},
		{"injection detected", ErrInjectionDetected, true},
		{"rate limit", ErrRateLimitExceeded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsContentPolicyError(tt.err))
		})
	}
}

func TestIsUpstreamErrors(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantTimeout bool
		wantFailure bool
	}{
		{"timeout", ErrUpstreamTimeout, true, false},
		{"failure", ErrUpstreamError, false, true},
		{"unavailable", ErrUpstreamUnavailable, false, true},
		{"interrupted stream", ErrStreamInterrupted, false, true},
		{"internal", ErrInternal, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantTimeout, IsUpstreamTimeoutError(tt.err))
			assert.Equal(t, tt.wantFailure, IsUpstreamError(tt.err))
		})
	}
}

func TestIsInternalError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"internal error", ErrInternal, true},
		{"wrapped internal", WrapInternal("store write failed", errors.New("disk full")), true},
		{"upstream error", ErrUpstreamError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsInternalError(tt.err))
		})
	}
}

func TestGetErrorType(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"no route", ErrNoRouteMatch, ErrorTypeNoRoute},
		{"validation", ErrInvalidInput, ErrorTypeValidation},
		{"rate limit", ErrRateLimitExceeded, ErrorTypeRateLimit},
		{"upstream timeout", ErrUpstreamTimeout, ErrorTypeUpstreamTimeout},
		{"regular error", errors.New("regular"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetErrorType(tt.err))
		})
	}
}

func TestGetErrorDetails(t *testing.T) {
	err := NewDomainError(ErrorTypeRateLimit, "rate limit exceeded", nil)
	err.WithDetail("key", "identity").WithDetail("remaining", 0)

	details := GetErrorDetails(err)
	require.NotNil(t, details)
	assert.Equal(t, "identity", details["key"])
	assert.Equal(t, 0, details["remaining"])

	regularErr := errors.New("regular error")
	assert.Nil(t, GetErrorDetails(regularErr))
}

func TestWrapError(t *testing.T) {
	baseErr := errors.New("base error")
	wrapped := WrapError(ErrorTypeInternal, "wrapped message", baseErr)

	var domainErr *DomainError
	require.True(t, errors.As(wrapped, &domainErr))
	assert.Equal(t, ErrorTypeInternal, domainErr.Type)
	assert.Equal(t, "wrapped message", domainErr.Message)
	assert.Equal(t, baseErr, errors.Unwrap(wrapped))
}

func TestWrapInternal(t *testing.T) {
	baseErr := errors.New("sqlite write failed")
	wrapped := WrapInternal("failed to persist record", baseErr)

	assert.True(t, IsInternalError(wrapped))
	assert.Equal(t, baseErr, errors.Unwrap(wrapped))
}

func TestWrapUpstream(t *testing.T) {
	baseErr := errors.New("connection reset by peer")
	wrapped := WrapUpstream("backend request failed", baseErr)

	assert.True(t, IsUpstreamError(wrapped))
	assert.Equal(t, baseErr, errors.Unwrap(wrapped))
}

func TestAllErrorVariablesAreDefined(t *testing.T) {
	errorVars := []error{
		// Routing
		ErrNoRouteMatch,

		// Validation
		ErrInvalidInput,
		ErrEmptyBody,
		ErrMalformedJSON,
		ErrPromptTooLarge,
		ErrInvalidJSONRPC,
		ErrUnknownToolName,

		// Authentication
		ErrAuthInvalid,
		ErrTokenExpired,
		ErrInvalidIssuer,
		ErrInvalidAudience,
		ErrJWKSUnavailable,

		// Authorization
		ErrAuthorizationDenied,
		ErrToolDenied,

		// Rate limiting
		ErrRateLimitExceeded,
		ErrTokenBudgetExceeded,

		// Content policy
		ErrContentPolicyViolation,
		ErrInjectionDetected,

		// Upstream
		ErrUpstreamTimeout,
		ErrUpstreamError,
		ErrUpstreamUnavailable,
		ErrStreamInterrupted,

		// Internal
		ErrInternal,
	}

	for _, err := range errorVars {
		assert.NotNil(t, err, "error variable should not be nil")
		assert.NotEmpty(t, err.Error(), "error should have a message")
	}
}

func TestErrorTypeCheckersCoverage(t *testing.T) {
	typeCheckers := map[ErrorType]func(error) bool{
		ErrorTypeNoRoute:         IsNoRouteError,
		ErrorTypeValidation:      IsValidationError,
		ErrorTypeAuthInvalid:     IsAuthInvalidError,
		ErrorTypeAuthzDenied:     IsAuthzDeniedError,
		ErrorTypeRateLimit:       IsRateLimitError,
		ErrorTypeContentPolicy:   IsContentPolicyError,
		ErrorTypeUpstreamTimeout: IsUpstreamTimeoutError,
		ErrorTypeUpstream:        IsUpstreamError,
		ErrorTypeInternal:        IsInternalError,
	}

	for errType, checker := range typeCheckers {
		t.Run(string(errType), func(t *testing.T) {
			err := NewDomainError(errType, "test error", nil)
			assert.True(t, checker(err), "checker should return true for %s", errType)
		})
	}
}
