package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/infergate/infergate/services"
	"github.com/infergate/infergate/utils"
)

// HandleServiceError maps domain errors to HTTP responses.
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	details := services.GetErrorDetails(err)

	switch {
	case services.IsNoRouteError(err):
		if werr := utils.WriteNotFound(w, err.Error()); werr != nil {
			logger.Error("failed to write not found response", zap.Error(werr))
		}

	case services.IsValidationError(err):
		if werr := utils.WriteBadRequest(w, err.Error(), details); werr != nil {
			logger.Error("failed to write bad request response", zap.Error(werr))
		}

	case services.IsAuthInvalidError(err):
		if werr := utils.WriteUnauthorized(w, err.Error()); werr != nil {
			logger.Error("failed to write unauthorized response", zap.Error(werr))
		}

	case services.IsAuthzDeniedError(err):
		if werr := utils.WriteForbidden(w, err.Error()); werr != nil {
			logger.Error("failed to write forbidden response", zap.Error(werr))
		}

	case services.IsRateLimitError(err):
		retryAfter := 0
		if v, ok := details["retry_after_seconds"].(int); ok {
			retryAfter = v
		}
		if werr := utils.WriteTooManyRequests(w, err.Error(), retryAfter, details); werr != nil {
			logger.Error("failed to write rate limit response", zap.Error(werr))
		}

	case services.IsContentPolicyError(err):
		if werr := utils.WriteUnprocessable(w, err.Error(), details); werr != nil {
			logger.Error("failed to write content policy response", zap.Error(werr))
		}

	case services.IsUpstreamTimeoutError(err):
		if werr := utils.WriteGatewayTimeout(w, err.Error()); werr != nil {
			logger.Error("failed to write gateway timeout response", zap.Error(werr))
		}

	case services.IsUpstreamError(err):
		if werr := utils.WriteBadGateway(w, err.Error()); werr != nil {
			logger.Error("failed to write bad gateway response", zap.Error(werr))
		}

	case services.IsInternalError(err):
		// Internal detail stays in the log, never in the response.
		logger.Error("internal server error", zap.Error(err))
		if werr := utils.WriteInternalServerError(w, "An internal error occurred"); werr != nil {
			logger.Error("failed to write internal error response", zap.Error(werr))
		}

	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		if werr := utils.WriteInternalServerError(w, "An unexpected error occurred"); werr != nil {
			logger.Error("failed to write internal error response", zap.Error(werr))
		}
	}
}

// StatusForError reports the HTTP status HandleServiceError would answer
// with, for audit entries and usage records of failed dispatches.
func StatusForError(err error) int {
	switch {
	case services.IsNoRouteError(err):
		return http.StatusNotFound
	case services.IsValidationError(err):
		return http.StatusBadRequest
	case services.IsAuthInvalidError(err):
		return http.StatusUnauthorized
	case services.IsAuthzDeniedError(err):
		return http.StatusForbidden
	case services.IsRateLimitError(err):
		return http.StatusTooManyRequests
	case services.IsContentPolicyError(err):
		return http.StatusUnprocessableEntity
	case services.IsUpstreamTimeoutError(err):
		return http.StatusGatewayTimeout
	case services.IsUpstreamError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
