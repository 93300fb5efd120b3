// Package apperr defines the structured {kind, message} error pairs used
// across the position monitor, matching the error kinds the monitor's
// callers (mutator clients, API handlers) need to branch on.
package apperr

import "fmt"

// Kind identifies a category of failure. Kinds are not types: every
// Error carries the same shape, distinguished only by Kind.
type Kind string

const (
	ArithmeticOverflow     Kind = "ArithmeticOverflow"
	InvalidInput           Kind = "InvalidInput"
	OracleUnavailable      Kind = "OracleUnavailable"
	DecodeMismatch         Kind = "DecodeMismatch"
	NotFound               Kind = "NotFound"
	NotOpen                Kind = "NotOpen"
	InsufficientCollateral Kind = "InsufficientCollateral"
	SlippageExceeded       Kind = "SlippageExceeded"
	StoreUnavailable       Kind = "StoreUnavailable"
	AlreadyRunning         Kind = "AlreadyRunning"
)

// Error is the user-visible failure shape: {kind, message}.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is lets errors.Is(err, apperr.New(Kind, "")) match on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind, chaining cause for %w-style unwrap.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// Sentinel returns a zero-message Error of kind for use with errors.Is.
func Sentinel(kind Kind) *Error { return &Error{Kind: kind} }

// KindOf extracts the Kind from err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return ""
}
