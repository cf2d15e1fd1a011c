// Package errs defines the error-kind taxonomy shared by tool handlers,
// the turn scheduler, and the sub-agent executor, generalized from the
// teacher's internal/tools.ToolErrorType into a package-level type any
// component can classify errors into.
package errs

import "errors"

// Kind classifies an error for retry/surface policy purposes.
type Kind string

const (
	// InvalidRequest indicates malformed input the caller must fix; never
	// retried, surfaced immediately.
	InvalidRequest Kind = "invalid_request"
	// Transient indicates a retryable failure (rate limit, 5xx, connection
	// reset) — the caller should back off and retry.
	Transient Kind = "transient"
	// Timeout indicates a deadline was exceeded; retryable with backoff,
	// same as Transient, but reported distinctly so callers can choose a
	// different backoff curve or give up sooner.
	Timeout Kind = "timeout"
	// NotFound indicates a referenced tool, agent binary, or resource does
	// not exist; never retried.
	NotFound Kind = "not_found"
	// PermissionDenied indicates the caller lacks authorization; never
	// retried without a policy change.
	PermissionDenied Kind = "permission_denied"
	// Fatal indicates an unrecoverable internal error; never retried.
	Fatal Kind = "fatal"
)

// Error wraps an underlying error with a classification.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap classifies an existing error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind of err if it (or something it wraps) is an
// *Error, defaulting to Fatal for unclassified errors — an error this
// package has never seen should never be silently retried.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Fatal
}

// Retryable reports whether errors of this kind should be retried by the
// turn scheduler's attempt loop.
func (k Kind) Retryable() bool {
	return k == Transient || k == Timeout
}
