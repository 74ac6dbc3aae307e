package server

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	gatemw "github.com/terraconstructs/rolegate/cmd/rolegate/internal/middleware"
)

var (
	// ErrInvalidRequest is returned for malformed or invalid request payloads.
	ErrInvalidRequest = errors.New("invalid request")
)

// envelope is the normalized {success, data | error} response shape.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	gatemw.WriteJSON(w, status, envelope{Success: true, Data: data})
}

// writeFailure maps err with the shared status table. Request validation
// failures are 400.
func writeFailure(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) || errors.Is(err, ErrInvalidRequest) {
		gatemw.WriteJSON(w, http.StatusBadRequest, envelope{Error: err.Error()})
		return
	}
	gatemw.WriteJSON(w, gatemw.StatusForError(err), envelope{Error: gatemw.ErrorMessage(err)})
}
