// Package apperr carries the gateway's request-scoped error taxonomy.
package apperr

import "errors"

type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeMissingToken    Code = "MISSING_IDEMPOTENCY_KEY"
	CodeMalformedToken  Code = "MALFORMED_IDEMPOTENCY_KEY"
	CodeRateLimited     Code = "RATE_LIMITED"
	CodeUnauthorized    Code = "UNAUTHORIZED"
	CodeForbidden       Code = "FORBIDDEN"
	CodeBodyTooLarge    Code = "BODY_TOO_LARGE"
	CodeUnavailable     Code = "STATS_UNAVAILABLE"
)

// AppError is an error with a machine-readable code.
type AppError struct {
	Code    Code
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func New(code Code, msg string) error {
	return &AppError{Code: code, Message: msg}
}

func Wrap(code Code, msg string, err error) error {
	return &AppError{Code: code, Message: msg, Err: err}
}

// CodeOf returns the code of the first AppError in err's chain, or "".
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// MessageOf returns the client-facing message of err.
func MessageOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func IsInvalidArgument(err error) bool {
	return CodeOf(err) == CodeInvalidArgument
}
