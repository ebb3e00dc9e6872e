// Package apperr defines the error taxonomy shared by the negotiation services
// and its mapping onto HTTP.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation and presentation.
type Kind string

// Error kinds.
const (
	KindNotFound     Kind = "not_found"
	KindForbidden    Kind = "forbidden"
	KindInvalidState Kind = "invalid_state"
	KindInvalidInput Kind = "invalid_input"
	KindConflict     Kind = "conflict"
	KindInternal     Kind = "internal"
)

// Error is a classified error. Op names the operation that produced it.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a classified error.
func E(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err as Internal unless it already carries a kind.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Kind: KindInternal, Op: op, Err: err}
}

// NotFound reports a missing pet, request or chat.
func NotFound(op, format string, args ...any) *Error {
	return E(KindNotFound, op, format, args...)
}

// Forbidden reports a caller acting on something that is not theirs.
func Forbidden(op, format string, args ...any) *Error {
	return E(KindForbidden, op, format, args...)
}

// InvalidState reports an operation that the entity's current state does
// not allow, such as deciding a resolved request.
func InvalidState(op, format string, args ...any) *Error {
	return E(KindInvalidState, op, format, args...)
}

// InvalidInput reports a malformed argument.
func InvalidInput(op, format string, args ...any) *Error {
	return E(KindInvalidInput, op, format, args...)
}

// Conflict reports a lost race with a concurrent change.
func Conflict(op, format string, args ...any) *Error {
	return E(KindConflict, op, format, args...)
}

// KindOf returns the kind of err, or Internal for unclassified errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Is reports whether err carries kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a kind to a response status.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindInvalidState, KindConflict:
		return http.StatusConflict
	case KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message shown to API clients. Internal errors
// never leak their cause.
func PublicMessage(err error) string {
	var ae *Error
	if !errors.As(err, &ae) || ae.Kind == KindInternal {
		return "internal error"
	}
	if ae.Message != "" {
		return ae.Message
	}
	return string(ae.Kind)
}
