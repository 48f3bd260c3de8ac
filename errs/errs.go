// Package errs defines the stable result taxonomy shared by every
// moonsugar package.
package errs

import (
	"errors"
	"fmt"
)

// Result is the stable enum every public operation reports on failure.
type Result int

const (
	Success Result = iota
	Length
	Unknown
	InvalidArgument
	Memory
	Full
	Empty
	ResourceLimit
	Access
	NotFound
	EOF
	Scheduled
	Unsupported
)

func (r Result) String() string {
	switch r {
	case Success:
		return "SUCCESS"
	case Length:
		return "LENGTH"
	case InvalidArgument:
		return "INVALID_ARGUMENT"
	case Memory:
		return "MEMORY"
	case Full:
		return "FULL"
	case Empty:
		return "EMPTY"
	case ResourceLimit:
		return "RESOURCE_LIMIT"
	case Access:
		return "ACCESS"
	case NotFound:
		return "NOT_FOUND"
	case EOF:
		return "EOF"
	case Scheduled:
		return "SCHEDULED"
	case Unsupported:
		return "UNSUPPORTED"
	default:
		return "UNKNOWN"
	}
}

// Error carries a Result code alongside the usual wrapped cause, so
// callers can branch on Of(err) instead of parsing messages.
type Error struct {
	Op     string
	Result Result
	Err    error
}

// New builds an *Error for operation op classified as result, wrapping
// the underlying cause (which may be nil for pure argument-shape
// violations).
func New(op string, result Result, err error) *Error {
	return &Error{Op: op, Result: result, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Result, e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Op, e.Result)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Result, so
// callers can write errors.Is(err, errs.New("", errs.Full, nil)).
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return te.Result == e.Result
	}

	return false
}

// Of extracts the Result code carried by err, Success for nil and
// Unknown for an error this package did not produce.
func Of(err error) Result {
	if err == nil {
		return Success
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Result
	}

	return Unknown
}
