// Package apperr implements the error taxonomy used across services:
// a small set of typed errors so callers can distinguish an expected
// duplicate (swallow) from an unexpected conflict (surface), and map
// cleanly to HTTP status codes at the boundary.
package apperr

import "fmt"

// Kind is one of the taxonomy buckets below.
type Kind string

const (
	KindValidation         Kind = "VALIDATION"
	KindAuthN              Kind = "AUTHN"
	KindAuthZ              Kind = "AUTHZ"
	KindRateLimited        Kind = "RATE_LIMITED"
	KindExpectedDuplicate  Kind = "EXPECTED_DUPLICATE"
	KindUnexpectedConflict Kind = "UNEXPECTED_CONFLICT"
	KindTransient          Kind = "TRANSIENT"
	KindTerminal           Kind = "TERMINAL"
	KindInvariantViolation Kind = "INVARIANT_VIOLATION"
)

// Error wraps an underlying cause with a taxonomy Kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func Validation(msg string, err error) *Error         { return New(KindValidation, msg, err) }
func AuthN(msg string) *Error                         { return New(KindAuthN, msg, nil) }
func AuthZ(msg string) *Error                         { return New(KindAuthZ, msg, nil) }
func RateLimited(msg string) *Error                   { return New(KindRateLimited, msg, nil) }
func ExpectedDuplicate(msg string, err error) *Error  { return New(KindExpectedDuplicate, msg, err) }
func UnexpectedConflict(msg string, err error) *Error { return New(KindUnexpectedConflict, msg, err) }
func Transient(msg string, err error) *Error          { return New(KindTransient, msg, err) }
func Terminal(msg string, err error) *Error           { return New(KindTerminal, msg, err) }
func InvariantViolation(msg string, err error) *Error { return New(KindInvariantViolation, msg, err) }

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	ae, ok := err.(*Error)
	return ok && ae.Kind == kind
}
