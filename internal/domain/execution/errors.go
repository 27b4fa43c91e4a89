package execution

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind classifies why an execution did not produce a clean result.
type ErrorKind string

const (
	// KindUnsupportedLanguage rejects a request before any execution attempt.
	KindUnsupportedLanguage ErrorKind = "UnsupportedLanguage"
	// KindCompileError means the compiler exited non-zero; the run phase was skipped.
	KindCompileError ErrorKind = "CompileError"
	// KindTimeLimitExceeded means the run was forcibly terminated at its timeout.
	KindTimeLimitExceeded ErrorKind = "TimeLimitExceeded"
	// KindRuntimeError is a non-zero exit with no clearer classification.
	KindRuntimeError ErrorKind = "RuntimeError"
	// KindEnvironmentUnavailable means the isolation backend itself is
	// unreachable. It triggers fallback and never reaches a TestcaseResult.
	KindEnvironmentUnavailable ErrorKind = "EnvironmentUnavailable"
	// KindInternalError covers host failures outside the submitted program,
	// such as being unable to write the source artifact.
	KindInternalError ErrorKind = "InternalError"
)

// Error is a classified execution failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

var (
	// ErrUnsupportedLanguage matches any error of kind KindUnsupportedLanguage.
	ErrUnsupportedLanguage = &Error{Kind: KindUnsupportedLanguage}
	// ErrEnvironmentUnavailable matches any error of kind KindEnvironmentUnavailable.
	ErrEnvironmentUnavailable = &Error{Kind: KindEnvironmentUnavailable}
)

func (e *Error) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches kind-only sentinels such as ErrEnvironmentUnavailable.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternalError for unclassified errors. A nil error has no kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var execErr *Error
	if errors.As(err, &execErr) {
		return execErr.Kind
	}
	return KindInternalError
}

// UnsupportedLanguage reports a language id missing from the registry.
func UnsupportedLanguage(lang Language) *Error {
	return &Error{
		Kind:    KindUnsupportedLanguage,
		Message: fmt.Sprintf("unsupported language: %q", lang),
	}
}

// Unavailable marks err as an isolation backend failure.
func Unavailable(err error) *Error {
	return &Error{
		Kind:    KindEnvironmentUnavailable,
		Message: fmt.Sprintf("isolation backend unavailable: %v", err),
		Err:     err,
	}
}

// CompileFailure wraps compiler diagnostics.
func CompileFailure(diagnostics string) *Error {
	return &Error{
		Kind:    KindCompileError,
		Message: "Compilation error: " + strings.TrimSpace(diagnostics),
	}
}

// RuntimeFailure builds the error for a non-zero exit. When the program
// wrote nothing to stderr a generic message carrying the exit code is used.
func RuntimeFailure(stderr string, exitCode int64) *Error {
	msg := strings.TrimSpace(stderr)
	if msg == "" {
		msg = fmt.Sprintf("Runtime error (exit code %d)", exitCode)
	}
	return &Error{Kind: KindRuntimeError, Message: msg}
}

// MemoryLimitExceeded reports a run killed for exceeding its memory ceiling.
func MemoryLimitExceeded(limitMB int64) *Error {
	return &Error{
		Kind:    KindRuntimeError,
		Message: fmt.Sprintf("Memory limit exceeded (%d MB)", limitMB),
	}
}

// TimeLimitExceeded reports a run terminated at its timeout.
func TimeLimitExceeded(timeout time.Duration) *Error {
	return &Error{
		Kind:    KindTimeLimitExceeded,
		Message: fmt.Sprintf("Time limit exceeded (%s)", timeout),
	}
}

// Internal wraps a host-side failure.
func Internal(op string, err error) *Error {
	return &Error{
		Kind:    KindInternalError,
		Message: fmt.Sprintf("%s: %v", op, err),
		Err:     err,
	}
}
