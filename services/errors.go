package services

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrValidation         = errors.New("validation failed")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

// Error carries a client facing message alongside one of the sentinel kinds
// above. errors.Is matches on the kind.
type Error struct {
	Kind    error
	Message string
	// Field is set for validation errors.
	Field string
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func notFound(msg string) error {
	return &Error{Kind: ErrNotFound, Message: msg}
}

func forbidden(msg string) error {
	return &Error{Kind: ErrForbidden, Message: msg}
}

func conflict(msg string) error {
	return &Error{Kind: ErrConflict, Message: msg}
}

func invalid(field, msg string) error {
	return &Error{Kind: ErrValidation, Field: field, Message: msg}
}

func invalidTransition[S ~string](from, to S) error {
	return &Error{
		Kind:    ErrInvalidTransition,
		Message: fmt.Sprintf("Cannot transition from %s to %s", from, to),
	}
}
