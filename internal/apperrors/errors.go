package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport mapping. Handlers translate kinds to
// HTTP statuses; the detailed cause stays in server logs.
type Kind int

const (
	KindServer Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindExpired
	KindUpstreamModel
)

// Error carries a kind, a caller-safe message and an optional wrapped cause.
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

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

// Validation reports missing or malformed required input.
func Validation(msg string) *Error { return newError(KindValidation, msg, nil) }

// NotFound reports an unknown session, capsule or token.
func NotFound(msg string) *Error { return newError(KindNotFound, msg, nil) }

// Conflict reports an operation attempted before its preconditions hold.
func Conflict(msg string) *Error { return newError(KindConflict, msg, nil) }

// Expired reports access to a resource past its expiry.
func Expired(msg string) *Error { return newError(KindExpired, msg, nil) }

// UpstreamModel reports a model-backend failure: missing credentials, empty or
// unparseable output after the single repair attempt, or a capability
// rejection after the single downgrade attempt.
func UpstreamModel(msg string, cause error) *Error {
	return newError(KindUpstreamModel, msg, cause)
}

// Server wraps anything unexpected.
func Server(msg string, cause error) *Error { return newError(KindServer, msg, cause) }

// KindOf extracts the kind from an error chain; unknown errors map to
// KindServer.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindServer
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
