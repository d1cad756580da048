package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/martinemde/rlm/rlm"
	"github.com/martinemde/rlm/unifiedllm"
)

func writeError(c *gin.Context, status int, kind, message string) {
	c.JSON(status, ErrorBody{Error: ErrorDetail{Message: message, Type: kind}})
}

// statusFor maps a Completion error to an HTTP status and error type.
func statusFor(err error) (int, string) {
	var (
		protoErr *rlm.ProtocolError
		modelErr *rlm.ModelInvocationError
		cfgErr   *unifiedllm.ConfigurationError
	)
	switch {
	case errors.As(err, &protoErr):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, rlm.ErrSessionClosed):
		return http.StatusNotFound, "session_not_found"
	case errors.As(err, &cfgErr):
		return http.StatusInternalServerError, "configuration_error"
	case errors.As(err, &modelErr):
		if unifiedllm.IsRetryable(err) {
			return http.StatusServiceUnavailable, "upstream_unavailable"
		}
		return http.StatusBadGateway, "upstream_error"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		// The client went away; the status is never seen.
		return 499, "client_closed_request"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func abortWithError(c *gin.Context, err error) {
	status, kind := statusFor(err)
	_ = c.Error(err)
	writeError(c, status, kind, err.Error())
}
