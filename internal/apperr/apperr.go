// Package apperr defines the error taxonomy shared across the pipeline.
// Every layer returns errors as values; nothing in this codebase panics
// across a pipeline step boundary.
package apperr

import "fmt"

// Kind discriminates the error taxonomy.
type Kind string

const (
	KindConfig              Kind = "config"
	KindValidation           Kind = "validation"
	KindExecution            Kind = "execution"
	KindHallucination        Kind = "hallucination"
	KindPathNotFound         Kind = "path_not_found"
	KindTimeout              Kind = "timeout"
	KindUpstreamUnavailable  Kind = "upstream_unavailable"
	KindConflict             Kind = "conflict"
)

// Error is the common error envelope for every pipeline-facing error.
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

func new_(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// Config wraps a fatal startup error: invalid artifacts or environment.
func Config(msg string, cause error) *Error { return new_(KindConfig, msg, cause) }

// Validation wraps a pre-execution validator rejection.
func Validation(msg string) *Error { return new_(KindValidation, msg, nil) }

// Execution wraps a database error returned while running a query.
func Execution(msg string, cause error) *Error { return new_(KindExecution, msg, cause) }

// Hallucination wraps an unknown identifier found by the secure view rewriter.
func Hallucination(identifier string) *Error {
	return new_(KindHallucination, fmt.Sprintf("unknown table %q", identifier), nil)
}

// PathNotFound wraps a Path Finder failure to connect selected tables.
func PathNotFound(from, to string) *Error {
	return new_(KindPathNotFound, fmt.Sprintf("no path between %q and %q within hop cap", from, to), nil)
}

// Timeout wraps any component-level timeout, carrying a stable code for the
// stream's error event.
func Timeout(stage string, cause error) *Error {
	return new_(KindTimeout, fmt.Sprintf("%s_timeout", stage), cause)
}

// UpstreamUnavailable wraps an unreachable language-model or database dependency.
func UpstreamUnavailable(what string, cause error) *Error {
	return new_(KindUpstreamUnavailable, fmt.Sprintf("%s unavailable", what), cause)
}

// Conflict wraps a compare-and-swap rejection: the caller's expected
// version no longer matches the stored one because a concurrent writer
// won the race.
func Conflict(msg string) *Error { return new_(KindConflict, msg, nil) }

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if as(err, &e) {
		return e.Kind == kind
	}
	return false
}

// as is a narrow errors.As shim kept local to avoid importing errors twice
// in callers that only need this one check.
func as(err error, target **Error) bool {
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
