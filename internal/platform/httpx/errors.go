package httpx

import (
	"errors"
	"net/http"
)

// Error codes shared across modules.
const (
	CodeNotFound          = "NOT_FOUND"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeForbidden         = "FORBIDDEN"
	CodeInsufficientStock = "INSUFFICIENT_STOCK"
	CodeEmptyOrder        = "EMPTY_ORDER"
	CodeValidation        = "VALIDATION_ERROR"
	CodeConflict          = "CONFLICT"
	CodeInternal          = "PERSISTENCE_ERROR"
)

// ErrorMapping binds a sentinel error to an HTTP status and envelope code.
type ErrorMapping struct {
	Is     error
	Status int
	Code   string
}

// RespondError maps a domain error through the module's mapping table and
// writes a failure envelope. Unmapped errors are treated as persistence
// faults and reported without detail.
func RespondError(w http.ResponseWriter, err error, mappings []ErrorMapping) {
	for _, m := range mappings {
		if errors.Is(err, m.Is) {
			Fail(w, m.Status, m.Code, err.Error())
			return
		}
	}
	Fail(w, http.StatusInternalServerError, CodeInternal, "internal error")
}
