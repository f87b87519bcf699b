// Package certerr defines the error kinds surfaced by the certification engine.
package certerr

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// Kind classifies an engine error for callers rendering user-facing messages.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindInvalidState Kind = "invalid_state"
	KindNotFound     Kind = "not_found"
	KindForbidden    Kind = "forbidden"
	KindInternal     Kind = "internal"
)

// Error is a classified engine error. Op names the failing operation
// (e.g. "evaluation.approve").
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation reports bad input or a violated threshold.
func Validation(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// InvalidState reports a transition the current state does not allow.
func InvalidState(op, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing owner, evaluation or certification.
func NotFound(op, entity, id string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Msg: fmt.Sprintf("%s %s not found", entity, id)}
}

// Forbidden reports a caller lacking reviewer privilege.
func Forbidden(op, format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Internal wraps an unexpected failure. Classified errors pass through
// unchanged so a NotFound raised deep in a transaction keeps its kind.
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return &Error{Kind: KindInternal, Op: op, Err: eris.Wrap(err, op)}
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}

// Is reports whether err is a classified error of the given kind.
func Is(err error, kind Kind) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == kind
}

// Message returns the user-facing part of err without wrapped internals.
func Message(err error) string {
	var ce *Error
	if !errors.As(err, &ce) {
		return "internal error"
	}
	if ce.Kind == KindInternal {
		return "internal error"
	}
	return ce.Msg
}
