package server

import (
	"context"
	"net/http"

	"github.com/teranos/peterbot/errors"
)

// ErrChatDisabled is returned by /api/chat when no dispatcher is wired
var ErrChatDisabled = errors.New("chat is not configured")

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.IsValidation(err), errors.IsInvalidSchedule(err):
		return http.StatusBadRequest
	case errors.IsNotFoundError(err):
		return http.StatusNotFound
	case errors.Is(err, ErrChatDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		// client went away; nobody reads this
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
