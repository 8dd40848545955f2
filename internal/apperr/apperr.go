// Package apperr defines the error taxonomy shared by the service and HTTP layers.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an error by how the caller should react to it.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindRateLimited
	KindDelivery
)

// Error is a classified error with a stable machine-readable code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind and code so wrapped sentinels compare equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

func newErr(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrMissingFields      = newErr(KindValidation, "missing_fields", "Missing required fields")
	ErrInvalidRole        = newErr(KindValidation, "invalid_role", "Invalid role")
	ErrInvalidInput       = newErr(KindValidation, "invalid_input", "Invalid request")
	ErrDuplicateIdentity  = newErr(KindConflict, "duplicate_identity", "Username or email already taken")
	ErrInvalidCredentials = newErr(KindUnauthorized, "invalid_credentials", "Invalid username or password")
	ErrInvalidCode        = newErr(KindUnauthorized, "invalid_code", "Invalid OTP code")
	ErrInvalidToken       = newErr(KindUnauthorized, "invalid_token", "Invalid token")
	ErrExpiredToken       = newErr(KindUnauthorized, "expired_token", "Token has expired")
	ErrAccountLocked      = newErr(KindForbidden, "account_locked", "Account is locked")
	ErrAccountNotLocked   = newErr(KindForbidden, "account_not_locked", "Account is not locked")
	ErrRoleForbidden      = newErr(KindForbidden, "forbidden", "You do not have the required role to access this resource")
	ErrUserNotFound       = newErr(KindNotFound, "user_not_found", "User not found")
	ErrRateLimited        = newErr(KindRateLimited, "rate_limited", "Too many requests")
	ErrDelivery           = newErr(KindDelivery, "delivery_failed", "Notification delivery failed")
)

// Wrap attaches a cause to a sentinel while keeping errors.Is working against it.
func Wrap(sentinel *Error, cause error) error {
	return &Error{Kind: sentinel.Kind, Code: sentinel.Code, Message: sentinel.Message, Err: cause}
}

// KindOf returns the kind of err, KindInternal if it is unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps err onto a response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the machine-readable code of err, "internal_error" if unclassified.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal_error"
}

// Message returns the caller-safe message of err. Unclassified errors never leak their text.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "Internal server error"
}
