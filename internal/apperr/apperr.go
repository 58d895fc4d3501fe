// Package apperr classifies failures of settlement operations so transports can
// map them without knowing which package produced them.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the class of a failure.
type Kind int

const (
	KindInternal Kind = iota
	// KindValidation covers bad input and unknown or illegal transitions.
	KindValidation
	// KindAuthorization means the actor may not perform the operation.
	KindAuthorization
	// KindInsufficientFunds means the available balance does not cover a debit.
	KindInsufficientFunds
	// KindConflict means the target was already processed or is in a stale state.
	// Callers can treat it as "already done" and retry safely.
	KindConflict
	KindNotFound
	// KindGateway is a payment gateway failure. It never reverts committed state.
	KindGateway
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindGateway:
		return "gateway"
	default:
		return "internal"
	}
}

// Error is a classified failure.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind and message, so package sentinels
// keep working after being re-wrapped with an operation name.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == e.Msg && t.Op == "" && t.Err == nil
}

// New returns a sentinel-style error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap attaches an operation name to err, keeping its kind. Unclassified errors
// become KindInternal.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindOf(err), Op: op, Err: err}
}

// Message strips the operation names added by Wrap, leaving the text meant for
// the caller.
func Message(err error) string {
	for {
		e, ok := err.(*Error)
		if !ok || e.Msg != "" || e.Err == nil {
			break
		}
		err = e.Err
	}
	if e, ok := err.(*Error); ok && e.Op != "" {
		return (&Error{Kind: e.Kind, Msg: e.Msg, Err: e.Err}).Error()
	}
	return err.Error()
}

// Validation builds a KindValidation error with a formatted message.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// Authorization builds a KindAuthorization error with a formatted message.
func Authorization(format string, args ...any) *Error {
	return &Error{Kind: KindAuthorization, Msg: fmt.Sprintf(format, args...)}
}

// NotFound builds a KindNotFound error with a formatted message.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// Gateway wraps a payment gateway failure.
func Gateway(op string, err error) *Error {
	return &Error{Kind: KindGateway, Op: op, Msg: "payment gateway", Err: err}
}

// KindOf reports the kind of err, or KindInternal when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
