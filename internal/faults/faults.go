// Package faults defines the error taxonomy shared by every controller
// component. Expected failures (missing VM, bad size string, command exit,
// poll timeout) are returned as *Error values carrying a Kind so callers
// can branch on the failure class without string matching.
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	// KindNotFound means the named VM, disk, or interface does not exist.
	KindNotFound Kind = iota + 1
	// KindStateConflict means the operation is invalid for the current
	// power state (for example resizing a running disk).
	KindStateConflict
	// KindTransport means an external command exited non-zero or an API
	// call failed before the backend could report a result.
	KindTransport
	// KindTimeout means a poller exhausted its attempts.
	KindTimeout
	// KindOperation means a remote asynchronous operation completed but
	// reported an error payload.
	KindOperation
	// KindParse means backend text output or user input could not be parsed.
	KindParse
)

// String returns the kind name used in error messages.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindStateConflict:
		return "state conflict"
	case KindTransport:
		return "transport failure"
	case KindTimeout:
		return "timeout exceeded"
	case KindOperation:
		return "operation error"
	case KindParse:
		return "parse error"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := e.Op + ": " + e.Kind.String()
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with a formatted message.
func New(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates a classified error wrapping a cause.
func Wrap(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsKind reports whether any error in err's chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == kind
}
