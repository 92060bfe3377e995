// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/mind-edu/mind-insights/internal/shared"
	"github.com/mind-edu/mind-insights/internal/warehouse"
)

// ErrValidation marks malformed request input.
var ErrValidation = errors.New("validation failed")

// Status maps domain errors to an HTTP status code.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, shared.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case warehouse.IsConnection(err):
		return http.StatusServiceUnavailable
	case warehouse.IsQuery(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807. Internal
// details are only exposed for client errors.
func RespondError(w http.ResponseWriter, err error) {
	status := Status(err)
	detail := ""
	if status < http.StatusInternalServerError {
		detail = err.Error()
	}
	title := http.StatusText(status)
	if errors.Is(err, shared.ErrAccessDenied) {
		title = "Access denied"
	}
	Problem(w, status, title, detail)
}
