package utils

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// ErrorBody is the inner error object of an error response. The shape
// follows the OpenAI error envelope so SDK clients can parse gateway
// errors the same way they parse provider errors.
type ErrorBody struct {
	Message string                 `json:"message"`
	Type    string                 `json:"type"`
	Code    string                 `json:"code,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ErrorResponse represents a structured error response
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return nil
	}

	return json.NewEncoder(w).Encode(data)
}

// WriteOK writes a 200 OK response
func WriteOK(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a 204 No Content response
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteErrorEnvelope writes an error response with the given status and body
func WriteErrorEnvelope(w http.ResponseWriter, status int, body ErrorBody) error {
	return WriteJSON(w, status, ErrorResponse{Error: body})
}

// WriteBadRequest writes a 400 Bad Request response with error details
func WriteBadRequest(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return WriteErrorEnvelope(w, http.StatusBadRequest, ErrorBody{
		Message: message,
		Type:    "invalid_request_error",
		Details: details,
	})
}

// WriteUnauthorized writes a 401 Unauthorized response
func WriteUnauthorized(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Authentication required"
	}
	w.Header().Set("WWW-Authenticate", "Bearer")
	return WriteErrorEnvelope(w, http.StatusUnauthorized, ErrorBody{
		Message: message,
		Type:    "authentication_error",
	})
}

// WriteForbidden writes a 403 Forbidden response
func WriteForbidden(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Access forbidden"
	}
	return WriteErrorEnvelope(w, http.StatusForbidden, ErrorBody{
		Message: message,
		Type:    "permission_error",
	})
}

// WriteNotFound writes a 404 Not Found response
func WriteNotFound(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Resource not found"
	}
	return WriteErrorEnvelope(w, http.StatusNotFound, ErrorBody{
		Message: message,
		Type:    "not_found_error",
	})
}

// WriteTooManyRequests writes a 429 Too Many Requests response. A
// positive retryAfter is surfaced as a Retry-After header in seconds.
func WriteTooManyRequests(w http.ResponseWriter, message string, retryAfter int, details map[string]interface{}) error {
	if message == "" {
		message = "Rate limit exceeded"
	}
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	return WriteErrorEnvelope(w, http.StatusTooManyRequests, ErrorBody{
		Message: message,
		Type:    "rate_limit_error",
		Details: details,
	})
}

// WriteUnprocessable writes a 422 Unprocessable Entity response
func WriteUnprocessable(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return WriteErrorEnvelope(w, http.StatusUnprocessableEntity, ErrorBody{
		Message: message,
		Type:    "invalid_request_error",
		Code:    "content_policy_violation",
		Details: details,
	})
}

// WriteBadGateway writes a 502 Bad Gateway response
func WriteBadGateway(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Upstream request failed"
	}
	return WriteErrorEnvelope(w, http.StatusBadGateway, ErrorBody{
		Message: message,
		Type:    "upstream_error",
	})
}

// WriteGatewayTimeout writes a 504 Gateway Timeout response
func WriteGatewayTimeout(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Upstream request timed out"
	}
	return WriteErrorEnvelope(w, http.StatusGatewayTimeout, ErrorBody{
		Message: message,
		Type:    "upstream_error",
		Code:    "upstream_timeout",
	})
}

// WriteInternalServerError writes a 500 Internal Server Error response
func WriteInternalServerError(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Internal server error"
	}
	return WriteErrorEnvelope(w, http.StatusInternalServerError, ErrorBody{
		Message: message,
		Type:    "internal_error",
	})
}

// WriteError writes an error response based on the status code
func WriteError(w http.ResponseWriter, status int, message string, details map[string]interface{}) error {
	var errorType string
	switch status {
	case http.StatusBadRequest, http.StatusMethodNotAllowed, http.StatusUnprocessableEntity:
		errorType = "invalid_request_error"
	case http.StatusUnauthorized:
		errorType = "authentication_error"
	case http.StatusForbidden:
		errorType = "permission_error"
	case http.StatusNotFound:
		errorType = "not_found_error"
	case http.StatusTooManyRequests:
		errorType = "rate_limit_error"
	case http.StatusBadGateway, http.StatusGatewayTimeout:
		errorType = "upstream_error"
	default:
		errorType = "internal_error"
	}

	return WriteJSON(w, status, ErrorResponse{
		Error: ErrorBody{
			Message: message,
			Type:    errorType,
			Details: details,
		},
	})
}
