package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNoRoute         ErrorType = "no_route_match"
	ErrorTypeValidation      ErrorType = "validation"
	ErrorTypeAuthInvalid     ErrorType = "auth_invalid"
	ErrorTypeAuthzDenied     ErrorType = "authorization_denied"
	ErrorTypeRateLimit       ErrorType = "rate_limit"
	ErrorTypeContentPolicy   ErrorType = "content_policy"
	ErrorTypeUpstreamTimeout ErrorType = "upstream_timeout"
	ErrorTypeUpstream        ErrorType = "upstream_error"
	ErrorTypeInternal        ErrorType = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	// Routing errors
	ErrNoRouteMatch = NewDomainError(ErrorTypeNoRoute, "no route matches the request", nil)

	// Validation errors
	ErrInvalidInput    = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrEmptyBody       = NewDomainError(ErrorTypeValidation, "request body cannot be empty", nil)
	ErrMalformedJSON   = NewDomainError(ErrorTypeValidation, "request body is not valid JSON", nil)
	ErrPromptTooLarge  = NewDomainError(ErrorTypeValidation, "prompt exceeds the configured size limit", nil)
	ErrInvalidJSONRPC  = NewDomainError(ErrorTypeValidation, "invalid JSON-RPC envelope", nil)
	ErrUnknownToolName = NewDomainError(ErrorTypeValidation, "tool name does not resolve to a configured server", nil)

	// Authentication errors (401)
	ErrAuthInvalid     = NewDomainError(ErrorTypeAuthInvalid, "missing or invalid bearer token", nil)
	ErrTokenExpired    = NewDomainError(ErrorTypeAuthInvalid, "bearer token expired", nil)
	ErrInvalidIssuer   = NewDomainError(ErrorTypeAuthInvalid, "token issuer not trusted", nil)
	ErrInvalidAudience = NewDomainError(ErrorTypeAuthInvalid, "token audience mismatch", nil)
	ErrJWKSUnavailable = NewDomainError(ErrorTypeAuthInvalid, "signing keys unavailable", nil)

	// Authorization errors (403)
	ErrAuthorizationDenied = NewDomainError(ErrorTypeAuthzDenied, "request denied by authorization policy", nil)
	ErrToolDenied          = NewDomainError(ErrorTypeAuthzDenied, "tool invocation denied by authorization policy", nil)

	// Rate limit errors (429)
	ErrRateLimitExceeded   = NewDomainError(ErrorTypeRateLimit, "rate limit exceeded", nil)
	ErrTokenBudgetExceeded = NewDomainError(ErrorTypeRateLimit, "token budget exceeded", nil)

	// Content policy errors (400/422)
	ErrContentPolicyViolation = NewDomainError(ErrorTypeContentPolicy, "request blocked by content policy", nil)
	ErrInjectionDetected      = NewDomainError(ErrorTypeContentPolicy, "prompt injection detected", nil)

	// Upstream errors (502/504)
	ErrUpstreamTimeout     = NewDomainError(ErrorTypeUpstreamTimeout, "upstream request timed out", nil)
	ErrUpstreamError       = NewDomainError(ErrorTypeUpstream, "upstream request failed", nil)
	ErrUpstreamUnavailable = NewDomainError(ErrorTypeUpstream, "upstream connection failed", nil)
	ErrStreamInterrupted   = NewDomainError(ErrorTypeUpstream, "upstream stream terminated early", nil)

	// Internal errors
	ErrInternal = NewDomainError(ErrorTypeInternal, "internal gateway error", nil)
)

// Error type checking helper functions

// IsNoRouteError checks if an error is a route-resolution failure
func IsNoRouteError(err error) bool {
	return isType(err, ErrorTypeNoRoute)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return isType(err, ErrorTypeValidation)
}

// IsAuthInvalidError checks if an error is an authentication failure
func IsAuthInvalidError(err error) bool {
	return isType(err, ErrorTypeAuthInvalid)
}

// IsAuthzDeniedError checks if an error is an authorization denial
func IsAuthzDeniedError(err error) bool {
	return isType(err, ErrorTypeAuthzDenied)
}

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool {
	return isType(err, ErrorTypeRateLimit)
}

// IsContentPolicyError checks if an error is a content policy violation
func IsContentPolicyError(err error) bool {
	return isType(err, ErrorTypeContentPolicy)
}

// IsUpstreamTimeoutError checks if an error is an upstream timeout
func IsUpstreamTimeoutError(err error) bool {
	return isType(err, ErrorTypeUpstreamTimeout)
}

// IsUpstreamError checks if an error is a non-timeout upstream failure
func IsUpstreamError(err error) bool {
	return isType(err, ErrorTypeUpstream)
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return isType(err, ErrorTypeInternal)
}

func isType(err error, t ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == t
	}
	return false
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapUpstream wraps an error as an upstream failure
func WrapUpstream(message string, err error) error {
	return NewDomainError(ErrorTypeUpstream, message, err)
}
