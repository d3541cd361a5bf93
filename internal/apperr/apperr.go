// Package apperr defines the error taxonomy shared by the credential,
// ingestion and classification layers. Every failure that crosses a package
// boundary carries a Kind so the HTTP layer can map it to a status class
// without string matching.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindAuthentication
	KindPermission
	KindRateLimit
	KindDecryption
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindAuthentication:
		return "authentication"
	case KindPermission:
		return "permission"
	case KindRateLimit:
		return "rate_limit"
	case KindDecryption:
		return "decryption"
	default:
		return "internal"
	}
}

// Error is a kinded error. Msg is safe for the caller; Err holds the wrapped
// cause and is only surfaced when the process runs in development mode.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on Kind: errors.Is(err, &Error{Kind: KindNotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func Validation(msg string) *Error     { return New(KindValidation, msg) }
func NotFound(msg string) *Error       { return New(KindNotFound, msg) }
func Authentication(msg string) *Error { return New(KindAuthentication, msg) }
func Permission(msg string) *Error     { return New(KindPermission, msg) }
func RateLimit(msg string) *Error      { return New(KindRateLimit, msg) }
func Decryption(msg string) *Error     { return New(KindDecryption, msg) }

// KindOf returns the Kind carried by err, or KindInternal when err carries
// none. Decryption escalates to the caller as an authentication problem only
// at the lifecycle layer; here it keeps its own kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps a Kind to its status class.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindAuthentication, KindDecryption:
		return http.StatusUnauthorized
	case KindPermission:
		return http.StatusForbidden
	case KindRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
