package httpx

import (
	"errors"
	"net/http"

	"github.com/pondok-erp/pondok-erp/internal/shared"
)

// Sentinel errors for the transport layer.
var (
	ErrBadRequest       = errors.New("bad request")
	ErrMethodNotAllowed = errors.New("method not allowed")
	ErrUnknownAction    = errors.New("unknown action")
	ErrUnauthorized     = errors.New("unauthorized")
)

// StatusFor maps an error to its HTTP status and the short message shown to
// callers. Unrecognised errors become a bare 500.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, shared.ErrInvalidType):
		return http.StatusBadRequest, "Invalid type"
	case errors.Is(err, shared.ErrInvalidField):
		return http.StatusBadRequest, "Invalid field"
	case errors.Is(err, shared.ErrInvalidID):
		return http.StatusBadRequest, "Invalid id"
	case errors.Is(err, shared.ErrMissingID):
		return http.StatusBadRequest, "Missing id"
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "Bad request"
	case errors.Is(err, ErrUnknownAction):
		return http.StatusBadRequest, "Unknown action"
	case errors.Is(err, shared.ErrInvalidCredentials):
		return http.StatusUnauthorized, "Invalid credentials"
	case errors.Is(err, shared.ErrSessionNotActive), errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, "Session not active"
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed, "Method not allowed"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}

// RespondError writes err as {"error": "..."} with its mapped status.
func RespondError(w http.ResponseWriter, err error) {
	status, msg := StatusFor(err)
	Error(w, status, msg)
}
