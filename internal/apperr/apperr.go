// Package apperr defines the error kinds surfaced at the request boundary.
// Match them with errors.Is / errors.As.
package apperr

import (
	"errors"
	"net/http"
)

var (
	// ErrAuthFailure covers bad credentials and absent or expired sessions.
	// It never says which.
	ErrAuthFailure = errors.New("authentication failure")
	ErrForbidden   = errors.New("forbidden")
	// ErrInvalidToken is returned for an unknown activation token.
	ErrInvalidToken  = errors.New("invalid token")
	ErrNotFound      = errors.New("not found")
	ErrEmailDelivery = errors.New("email delivery failure")
)

// ValidationError maps request fields to message keys.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return "validation failure"
}

// Add records a message key for field, keeping the first one seen.
func (e *ValidationError) Add(field, key string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = key
	}
}

// Err returns e when any field failed, nil otherwise.
func (e *ValidationError) Err() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

type keyedError struct {
	err error
	key string
}

func (e *keyedError) Error() string { return e.err.Error() }
func (e *keyedError) Unwrap() error { return e.err }

// WithKey attaches a message catalog key to err without changing its kind.
func WithKey(err error, key string) error {
	return &keyedError{err: err, key: key}
}

// Status maps err onto an HTTP status code.
func Status(err error) int {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, ErrAuthFailure):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidToken):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrEmailDelivery):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// MessageKey returns the message catalog key for err. A key attached with
// WithKey wins over the default for the error kind.
func MessageKey(err error) string {
	var ke *keyedError
	if errors.As(err, &ke) {
		return ke.key
	}
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return "validation_failure"
	case errors.Is(err, ErrAuthFailure):
		return "authentication_failure"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidToken):
		return "account_activation_failure"
	case errors.Is(err, ErrNotFound):
		return "user_not_found"
	case errors.Is(err, ErrEmailDelivery):
		return "email_failure"
	default:
		return "internal_error"
	}
}
