package battle

import "errors"

// Kind is a machine-readable error category.
type Kind string

const (
	KindNotFound     Kind = "NOT_FOUND"
	KindForbidden    Kind = "FORBIDDEN"
	KindInvalidState Kind = "INVALID_STATE"
	KindValidation   Kind = "VALIDATION"
	KindNoSnapshot   Kind = "NO_SNAPSHOT"
	KindConflict     Kind = "CONFLICT"
)

// Error is the battle domain error.
type Error struct {
	Kind    Kind   // Machine-readable category
	Message string // Human-readable detail
	Cause   error  // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound     = &Error{Kind: KindNotFound, Message: "not found"}
	ErrForbidden    = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrInvalidState = &Error{Kind: KindInvalidState, Message: "invalid state"}
	ErrValidation   = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrNoSnapshot   = &Error{Kind: KindNoSnapshot, Message: "no snapshot"}
	ErrConflict     = &Error{Kind: KindConflict, Message: "conflict"}
)

// NewError creates a domain error with a kind and message.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or "" when
// err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
