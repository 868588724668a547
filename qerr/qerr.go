// Package qerr defines the structured error surface shared by every layer
// of Quereus: a small StatusCode enumeration plus one typed error Kind per
// code, in the style of gopkg.in/src-d/go-errors.v1.
package qerr

import (
	"fmt"

	errorsPkg "github.com/pkg/errors"
	goerrors "gopkg.in/src-d/go-errors.v1"
)

// StatusCode classifies an error for programmatic handling.
type StatusCode int

const (
	OK StatusCode = iota
	ERROR
	INTERNAL
	NOT_FOUND
	CONSTRAINT
	MISMATCH
	MISUSE
	RANGE
	READONLY
	CANCELLED
	SCHEMA_CHANGED
	UNSUPPORTED
	SYNTAX
	AMBIGUOUS
)

func (c StatusCode) String() string {
	switch c {
	case OK:
		return "OK"
	case ERROR:
		return "ERROR"
	case INTERNAL:
		return "INTERNAL"
	case NOT_FOUND:
		return "NOT_FOUND"
	case CONSTRAINT:
		return "CONSTRAINT"
	case MISMATCH:
		return "MISMATCH"
	case MISUSE:
		return "MISUSE"
	case RANGE:
		return "RANGE"
	case READONLY:
		return "READONLY"
	case CANCELLED:
		return "CANCELLED"
	case SCHEMA_CHANGED:
		return "SCHEMA_CHANGED"
	case UNSUPPORTED:
		return "UNSUPPORTED"
	case SYNTAX:
		return "SYNTAX"
	case AMBIGUOUS:
		return "AMBIGUOUS"
	default:
		return "UNKNOWN"
	}
}

// Loc is a source location within the original SQL text, attached to
// syntax/build errors when available.
type Loc struct {
	Line, Col int
}

func (l Loc) String() string {
	if l.Line == 0 && l.Col == 0 {
		return ""
	}
	return fmt.Sprintf("%d:%d", l.Line, l.Col)
}

// kinds maps each StatusCode to a templated go-errors Kind. Kinds are
// process-wide singletons, created once at init.
var kinds = map[StatusCode]*goerrors.Kind{
	ERROR:          goerrors.NewKind("%s"),
	INTERNAL:       goerrors.NewKind("internal error: %s"),
	NOT_FOUND:      goerrors.NewKind("not found: %s"),
	CONSTRAINT:     goerrors.NewKind("constraint violation: %s"),
	MISMATCH:       goerrors.NewKind("type mismatch: %s"),
	MISUSE:         goerrors.NewKind("misuse: %s"),
	RANGE:          goerrors.NewKind("out of range: %s"),
	READONLY:       goerrors.NewKind("read-only: %s"),
	CANCELLED:      goerrors.NewKind("cancelled: %s"),
	SCHEMA_CHANGED: goerrors.NewKind("schema changed: %s"),
	UNSUPPORTED:    goerrors.NewKind("unsupported: %s"),
	SYNTAX:         goerrors.NewKind("syntax error: %s"),
	AMBIGUOUS:      goerrors.NewKind("ambiguous: %s"),
}

// Error is the structured error surface of the engine:
// {code, message, cause?, loc?}.
type Error struct {
	Code    StatusCode
	Message string
	Cause   error
	Loc     Loc
}

func (e *Error) Error() string {
	if e.Loc.String() != "" {
		return fmt.Sprintf("[%s] %s (at %s)", e.Code, e.Message, e.Loc)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes Cause to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// kindFor renders msg through code's registered go-errors Kind, falling
// back to the raw message for codes with no kind (OK).
func kindFor(code StatusCode, msg string) string {
	if k, ok := kinds[code]; ok {
		return k.New(msg).Error()
	}
	return msg
}

// New builds a StatusCode error with no location and no cause. The message
// is rendered through the code's go-errors Kind template so every error of
// a given code reads consistently.
func New(code StatusCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: kindFor(code, fmt.Sprintf(format, args...))}
}

// WithLoc attaches the original SQL source location, when available.
func (e *Error) WithLoc(loc Loc) *Error {
	e.Loc = loc
	return e
}

// Wrap attaches cause as the underlying error for e. The cause's chain
// stays walkable via errorsPkg.Cause for diagnostics while Unwrap keeps
// errors.Is/As working against the Error wrapper itself.
func Wrap(code StatusCode, cause error, format string, args ...interface{}) *Error {
	msg := fmt.Sprintf(format, args...)
	if cause != nil {
		cause = errorsPkg.WithStack(cause)
	}
	return &Error{Code: code, Message: kindFor(code, msg), Cause: cause}
}

// WrapVtab wraps an error returned from a virtual-table call with the
// offending table name, keeping the original reachable as the cause.
func WrapVtab(table string, cause error) *Error {
	if qe, ok := cause.(*Error); ok {
		return &Error{Code: qe.Code, Message: fmt.Sprintf("table %q: %s", table, qe.Message), Cause: cause}
	}
	return &Error{Code: ERROR, Message: fmt.Sprintf("table %q: %s", table, cause.Error()), Cause: cause}
}

// Code extracts the StatusCode of err, defaulting to ERROR for foreign
// errors and OK for nil.
func Code(err error) StatusCode {
	if err == nil {
		return OK
	}
	var qe *Error
	if as(err, &qe) {
		return qe.Code
	}
	return ERROR
}

func as(err error, target **Error) bool {
	for err != nil {
		if qe, ok := err.(*Error); ok {
			*target = qe
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

// Is reports whether err carries the given StatusCode.
func Is(err error, code StatusCode) bool { return Code(err) == code }

// NotFoundf is a convenience constructor used pervasively by the schema
// catalog and plan builder for resolution errors.
func NotFoundf(format string, args ...interface{}) *Error { return New(NOT_FOUND, format, args...) }

// Ambiguousf is a convenience constructor for ambiguous column/table
// resolution.
func Ambiguousf(format string, args ...interface{}) *Error { return New(AMBIGUOUS, format, args...) }

// Internalf marks a bug: never caught within the core.
func Internalf(format string, args ...interface{}) *Error { return New(INTERNAL, format, args...) }

// Cause unwraps err through any chain of *Error wrappers, then through the
// github.com/pkg/errors stack trace wrapper Wrap attaches, to the original
// cause passed to Wrap. Falls back to err itself when nothing unwraps.
func Cause(err error) error {
	if err == nil {
		return nil
	}
	for {
		qe, ok := err.(*Error)
		if !ok || qe.Cause == nil {
			break
		}
		err = qe.Cause
	}
	return errorsPkg.Cause(err)
}
