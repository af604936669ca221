package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers that need to react to it (HTTP status, retry, skip).
type Kind int

const (
	// KindInternal is any error that carries no classification.
	KindInternal Kind = iota
	// KindValidation is bad input shape or range. User-correctable.
	KindValidation
	// KindNotFound means a referenced entity is absent.
	KindNotFound
	// KindConflict is a failed write condition: uniqueness violation or a lost race.
	// Callers should reread and retry.
	KindConflict
	// KindDependency is a storage or external provider failure.
	KindDependency
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindDependency:
		return "dependency"
	default:
		return "internal"
	}
}

// Error is the single error type used across the ledger packages.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation returns a KindValidation error with a formatted message.
func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound returns a KindNotFound error with a formatted message.
func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflict returns a KindConflict error with a formatted message.
func Conflict(format string, args ...any) error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// Dependency wraps a failure of storage or of an external provider.
func Dependency(message string, err error) error {
	return &Error{Kind: KindDependency, Message: message, Err: err}
}

// KindOf reports the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsNotFound(err error) bool   { return KindOf(err) == KindNotFound }
func IsConflict(err error) bool   { return KindOf(err) == KindConflict }
func IsDependency(err error) bool { return KindOf(err) == KindDependency }

// HTTPStatus maps err to the status code the API answers with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindDependency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the text that is safe to show to an API client.
// Internal and dependency errors are not described to the client.
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "Internal server error"
	}
	switch e.Kind {
	case KindValidation, KindNotFound, KindConflict:
		return e.Message
	case KindDependency:
		return "Upstream dependency failed"
	default:
		return "Internal server error"
	}
}
