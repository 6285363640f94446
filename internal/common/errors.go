// Package common holds the error taxonomy shared by every layer and the single
// place where errors are turned into HTTP status codes and response bodies.
package common

import (
	"errors"
	"strings"
)

var (
	ErrInvalidRequest          = errors.New("invalid request")
	ErrInvalidCredentials      = errors.New("invalid credentials")
	ErrMissingAuth             = errors.New("missing or malformed authorization")
	ErrInvalidToken            = errors.New("invalid token")
	ErrInsufficientPermissions = errors.New("insufficient permissions")
	ErrAccessDenied            = errors.New("access denied")
	ErrNotFound                = errors.New("not found")
	ErrConflict                = errors.New("already exists")
	ErrRateLimited             = errors.New("rate limited")
)

// Violation is one failed validation rule.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every rule the input broke, not only the first one.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Field + ": " + v.Message
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Add appends a violation for field.
func (e *ValidationError) Add(field, message string) {
	e.Violations = append(e.Violations, Violation{Field: field, Message: message})
}

// OrNil returns e as an error when it holds violations, nil otherwise.
func (e *ValidationError) OrNil() error {
	if len(e.Violations) == 0 {
		return nil
	}
	return e
}

// RequestError is a malformed request with a single client-facing message.
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string { return e.Message }

func (e *RequestError) Is(target error) bool { return target == ErrInvalidRequest }

// BadRequest builds a RequestError.
func BadRequest(message string) error {
	return &RequestError{Message: message}
}
