// Package apperr carries the error taxonomy shared by every core operation.
// Store and provider failures are wrapped into one of these kinds at the
// boundary of each operation with the original cause attached.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindValidation Kind = iota + 1
	KindNotFound
	KindInvalidTransition
	KindSignature
	KindStorage
	KindCompensation
	KindUnauthenticated
	KindUnavailable
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindSignature:
		return "signature"
	case KindStorage:
		return "storage"
	case KindCompensation:
		return "compensation"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindUnavailable:
		return "unavailable"
	case KindForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is checks. They match any *Error of the same kind.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrSignature         = &Error{Kind: KindSignature}
	ErrStorage           = &Error{Kind: KindStorage}
	ErrCompensation      = &Error{Kind: KindCompensation}
	ErrUnauthenticated   = &Error{Kind: KindUnauthenticated}
	ErrUnavailable       = &Error{Kind: KindUnavailable}
	ErrForbidden         = &Error{Kind: KindForbidden}
)

type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	default:
		return msg
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

func Validation(op, msg string) error {
	return &Error{Kind: KindValidation, Op: op, Msg: msg}
}

func Validationf(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(op, msg string) error {
	return &Error{Kind: KindNotFound, Op: op, Msg: msg}
}

func InvalidTransition(op, msg string) error {
	return &Error{Kind: KindInvalidTransition, Op: op, Msg: msg}
}

func Signature(op string, err error) error {
	return &Error{Kind: KindSignature, Op: op, Msg: "invalid signature", Err: err}
}

func Storage(op string, err error) error {
	return &Error{Kind: KindStorage, Op: op, Msg: "storage failure", Err: err}
}

func Unauthenticated(op string, err error) error {
	return &Error{Kind: KindUnauthenticated, Op: op, Msg: "unauthenticated", Err: err}
}

func Forbidden(op, msg string) error {
	return &Error{Kind: KindForbidden, Op: op, Msg: msg}
}

func Unavailable(op string, err error) error {
	return &Error{Kind: KindUnavailable, Op: op, Msg: "upstream unavailable", Err: err}
}

// Compensation layers a failed rollback on top of the error that triggered
// it. Both the original kind and KindCompensation stay detectable.
func Compensation(op string, original, rollback error) error {
	return &Error{
		Kind: KindCompensation,
		Op:   op,
		Msg:  "compensation failed",
		Err:  errors.Join(original, rollback),
	}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindSignature:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidTransition:
		return http.StatusConflict
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the message safe to return to callers. Storage details
// never leave the process.
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "Internal server error"
	}
	switch e.Kind {
	case KindValidation, KindNotFound, KindInvalidTransition:
		if e.Msg != "" {
			return e.Msg
		}
		return e.Kind.String()
	case KindSignature:
		return "Invalid signature"
	case KindUnauthenticated:
		return "Unauthorized"
	case KindForbidden:
		return "Forbidden"
	case KindUnavailable:
		return "Service temporarily unavailable"
	default:
		return "Internal server error"
	}
}
