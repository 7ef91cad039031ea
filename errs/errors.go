// Package errs defines the user-facing error taxonomy of the server.
//
// Statement-rejecting errors (Configuration, Query, UnsupportedFeature)
// never leave server state modified; Execution errors report runtime
// conflicts after compilation succeeded.
package errs

import (
	"github.com/pkg/errors"
)

// Kind classifies a user-facing error.
type Kind int

const (
	// KindConfiguration marks an unknown or misused configuration
	// parameter or object.
	KindConfiguration Kind = iota
	// KindQuery marks a structurally invalid statement.
	KindQuery
	// KindUnsupportedFeature marks a syntactically valid statement that
	// is not implemented for the given scope.
	KindUnsupportedFeature
	// KindExecution marks a runtime conflict.
	KindExecution
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "ConfigurationError"
	case KindQuery:
		return "QueryError"
	case KindUnsupportedFeature:
		return "UnsupportedFeatureError"
	case KindExecution:
		return "ExecutionError"
	}
	return "UnknownError"
}

// Error is a classified user-facing error. It participates in the
// pkg/errors cause chain, so wrapping with errors.Wrap keeps the kind
// discoverable.
type Error struct {
	kind Kind
	err  error
}

func (e *Error) Error() string { return e.kind.String() + ": " + e.err.Error() }

// Kind returns the error classification.
func (e *Error) Kind() Kind { return e.kind }

// Cause implements the pkg/errors causer interface.
func (e *Error) Cause() error { return e.err }

func newf(kind Kind, format string, args ...interface{}) error {
	return &Error{kind: kind, err: errors.Errorf(format, args...)}
}

// Configurationf returns a new ConfigurationError.
func Configurationf(format string, args ...interface{}) error {
	return newf(KindConfiguration, format, args...)
}

// Queryf returns a new QueryError.
func Queryf(format string, args ...interface{}) error {
	return newf(KindQuery, format, args...)
}

// UnsupportedFeaturef returns a new UnsupportedFeatureError.
func UnsupportedFeaturef(format string, args ...interface{}) error {
	return newf(KindUnsupportedFeature, format, args...)
}

// Executionf returns a new ExecutionError.
func Executionf(format string, args ...interface{}) error {
	return newf(KindExecution, format, args...)
}

// KindOf walks the cause chain and reports the kind of the first
// classified error found.
func KindOf(err error) (Kind, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.kind, true
		}
		cause, ok := err.(interface{ Cause() error })
		if !ok {
			break
		}
		err = cause.Cause()
	}
	return 0, false
}

// Is reports whether err is classified as kind anywhere in its cause chain.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
