package domain

import (
	"errors"
	"fmt"
)

// Kind classifies failures so the reconciler can decide between retry and abort.
type Kind string

const (
	KindUnknown          Kind = "unknown"
	KindUnavailable      Kind = "unavailable"
	KindInvalidPrice     Kind = "invalid_price"
	KindBelowMinimum     Kind = "below_minimum"
	KindRejected         Kind = "rejected"
	KindCloseFailed      Kind = "close_failed"
	KindOpenFailed       Kind = "open_failed"
	KindDeadlineExceeded Kind = "deadline_exceeded"
	KindInvalid          Kind = "invalid"
)

// Error is a failure carrying a Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Errorf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
