package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/auth"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/services/iam"
)

// ErrRateLimited is returned when an identity exceeds its request budget.
var ErrRateLimited = errors.New("rate limit exceeded")

// StatusForError maps the authority error taxonomy onto HTTP status codes.
// Unknown errors are 500.
func StatusForError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, auth.ErrSessionInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrEmulationExpired), errors.Is(err, auth.ErrNotEmulating):
		return http.StatusConflict
	case errors.Is(err, auth.ErrProfileNotFound),
		errors.Is(err, auth.ErrOrganizationNotFound),
		errors.Is(err, auth.ErrInsufficientPermission):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrBackingStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, auth.ErrInvalidRole),
		errors.Is(err, iam.ErrInvalidDuration),
		errors.Is(err, iam.ErrOrganizationRequired):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// ErrorMessage is the client-facing text for err. Internal errors are not echoed.
func ErrorMessage(err error) string {
	switch StatusForError(err) {
	case http.StatusUnauthorized:
		return "Unauthorized"
	case http.StatusServiceUnavailable:
		return "Service temporarily unavailable"
	case http.StatusInternalServerError:
		return "Internal server error"
	default:
		return err.Error()
	}
}

// WriteJSON writes v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes {"error": message} with the mapped status.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, StatusForError(err), map[string]string{"error": ErrorMessage(err)})
}
