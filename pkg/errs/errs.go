// Package errs defines the error-kind taxonomy shared across the harness:
// tool executors, provider adapters, and the turn loop all classify
// failures into one of a small set of kinds rather than returning bare
// Go errors to callers that need to branch on failure category.
package errs

import "fmt"

// Kind classifies a failure for callers that need to react differently
// depending on category (retry, surface to the model, abort the turn).
type Kind string

const (
	OK               Kind = "ok"
	InvalidArgument  Kind = "invalid_argument"
	NotFound         Kind = "not_found"
	Unauthenticated  Kind = "unauthenticated"
	Unauthorized     Kind = "unauthorized"
	RateLimited      Kind = "rate_limited"
	TimedOut         Kind = "timed_out"
	NetworkError     Kind = "network_error"
	ProviderError    Kind = "provider_error"
	ParseError       Kind = "parse_error"
	ConflictingState Kind = "conflicting_state"
	InternalError    Kind = "internal_error"
)

// Error wraps a Kind, a human-readable message, and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an *Error that carries cause as its wrapped error.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, and
// InternalError otherwise.
func KindOf(err error) Kind {
	if err == nil {
		return OK
	}
	var e *Error
	if asError(err, &e) {
		return e.Kind
	}
	return InternalError
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
