package common

import (
	"encoding/json"
	"errors"
	"net/http"
)

const internalMessage = "Internal server error"

// ErrorBody is the JSON shape of every single-message error response.
type ErrorBody struct {
	Error string `json:"error"`
}

// ValidationBody is the JSON shape of a 400 with a violation list.
type ValidationBody struct {
	Errors []Violation `json:"errors"`
}

// StatusFor maps err onto an HTTP status code. Anything outside the taxonomy is a 500.
func StatusFor(err error) int {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr), errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrMissingAuth), errors.Is(err, ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, ErrInsufficientPermissions), errors.Is(err, ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage returns the fixed client-facing text for err. Internal error
// text never reaches this function's output.
func publicMessage(err error) string {
	var rerr *RequestError
	switch {
	case errors.As(err, &rerr):
		return rerr.Message
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid credentials"
	case errors.Is(err, ErrMissingAuth):
		return "Authentication required"
	case errors.Is(err, ErrInvalidToken):
		return "Invalid or expired token"
	case errors.Is(err, ErrInsufficientPermissions):
		return "Insufficient permissions"
	case errors.Is(err, ErrAccessDenied):
		return "Access denied"
	case errors.Is(err, ErrNotFound):
		return "Not found"
	case errors.Is(err, ErrConflict):
		return "Account already exists"
	case errors.Is(err, ErrRateLimited):
		return "Too many requests"
	case errors.Is(err, ErrInvalidRequest):
		return "Invalid request"
	default:
		return internalMessage
	}
}

// WriteJSON writes v with the given status code.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the response for err and returns the status it used.
func WriteError(w http.ResponseWriter, err error) int {
	code := StatusFor(err)
	var verr *ValidationError
	if errors.As(err, &verr) {
		WriteJSON(w, code, ValidationBody{Errors: verr.Violations})
		return code
	}
	WriteJSON(w, code, ErrorBody{Error: publicMessage(err)})
	return code
}

// WriteMessage writes a single-message error body with an explicit status.
func WriteMessage(w http.ResponseWriter, code int, message string) {
	WriteJSON(w, code, ErrorBody{Error: message})
}
