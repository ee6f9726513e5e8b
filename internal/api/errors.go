package api

import (
	"errors"
	"net/http"

	"plant-sage/backend/internal/ai"
	"plant-sage/backend/internal/governor"
	"plant-sage/backend/internal/sage"
)

// statusFor maps a pipeline error onto an HTTP status and public code.
func statusFor(err error) (int, string) {
	if kind, ok := governor.KindOf(err); ok {
		return kind.Status(), string(kind)
	}
	code := sage.ErrorCode(err)
	switch {
	case errors.Is(err, ai.ErrProviderTimeout):
		return http.StatusGatewayTimeout, code
	case errors.Is(err, ai.ErrRequestTooLarge):
		return http.StatusRequestEntityTooLarge, code
	case errors.Is(err, ai.ErrProviderUnreachable):
		return http.StatusBadGateway, code
	default:
		return http.StatusInternalServerError, code
	}
}

// publicMessage keeps provider and internal detail out of responses.
func publicMessage(err error) string {
	var rejection *governor.RejectionError
	switch {
	case errors.As(err, &rejection):
		return rejection.Message
	case errors.Is(err, ai.ErrProviderTimeout):
		return "the model took too long to answer"
	case errors.Is(err, ai.ErrRequestTooLarge):
		return "request is too large to forward to the model"
	case errors.Is(err, ai.ErrProviderUnreachable):
		return "the model could not be reached"
	case errors.Is(err, sage.ErrNotConfigured):
		return "model access is not configured"
	default:
		return "internal error"
	}
}
