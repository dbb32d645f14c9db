// Package domainerrors defines coded errors shared by services and transports.
//
// Services return *Error values carrying a Code; handlers translate the code
// into an HTTP status with ToHTTPStatus. Infrastructure facts (not found,
// unavailable) live in pkg/platform/sentinel and are wrapped into codes at the
// service boundary.
package domainerrors

import (
	"errors"
	"net/http"
)

// Code is a stable, machine-readable error identifier exposed to clients.
type Code string

const (
	CodeBadRequest         Code = "bad_request"
	CodeValidation         Code = "validation_error"
	CodeInvalidInput       Code = "invalid_input"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeTimeout            Code = "timeout"
	CodeInternal           Code = "internal_error"
	CodeInvariantViolation Code = "invariant_violation"

	// Vote submission preconditions. These are expected, user-facing states.
	CodeNotVerified    Code = "not_verified"
	CodeWalletRequired Code = "wallet_required"
	CodeAlreadyVoted   Code = "already_voted"
)

// Error is a coded domain error with an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) error {
	return &Error{Code: code, Message: message, Err: err}
}

// Is reports whether any error in err's chain carries the given code.
func Is(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// HasCode is an alias of Is kept for call sites that read better with it.
func HasCode(err error, code Code) bool {
	return Is(err, code)
}

// CodeOf returns the code of the first coded error in the chain, or
// CodeInternal when none is present.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a code onto the HTTP status clients should see.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeValidation, CodeInvalidInput:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden, CodeNotVerified:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeAlreadyVoted:
		return http.StatusConflict
	case CodeWalletRequired:
		return http.StatusPreconditionFailed
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
