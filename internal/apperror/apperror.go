// Package apperror defines the error kinds surfaced by the listing services.
package apperror

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Kind is a stable, machine-readable error category.
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindUnauthenticated Kind = "unauthenticated"
	KindUnauthorized    Kind = "unauthorized"
	KindInvalidInput    Kind = "invalid_input"
	KindConflict        Kind = "conflict"
	KindDeliveryFailed  Kind = "delivery_failed"
	KindInternal        Kind = "internal"
)

// Error carries a Kind, a human-readable message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Unauthenticated(message string) *Error {
	return &Error{Kind: KindUnauthenticated, Message: message}
}

func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

func InvalidInput(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func DeliveryFailed(err error, message string) *Error {
	return &Error{Kind: KindDeliveryFailed, Message: message, Err: err}
}

func Internal(err error, message string) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// FromStore converts a persistence error into an *Error. gorm.ErrRecordNotFound
// becomes NotFound with the given entity name; anything else is Internal.
// Errors that already carry a Kind pass through untouched.
func FromStore(err error, entity string) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &Error{Kind: KindNotFound, Message: entity + " not found", Err: err}
	}
	return Internal(err, "failed to access "+entity)
}

// KindOf reports the Kind of err. Errors without a Kind are Internal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err has the given Kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
