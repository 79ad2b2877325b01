package tenant

import "errors"

// Code classifies a failure independent of the backend that produced it.
type Code string

const (
	CodeNotFound         Code = "not_found"
	CodeConflict         Code = "conflict"
	CodeForbidden        Code = "forbidden"
	CodeUnavailable      Code = "unavailable"
	CodeInvalidInput     Code = "invalid_input"
	CodeConnectionFailed Code = "connection_failed"
	CodeMigrationFailed  Code = "migration_failed"
)

// Error carries a stable Code plus a human readable message.
// Two Errors compare equal under errors.Is when their codes match.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches by code so callers can write errors.Is(err, tenant.ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Sentinels for errors.Is checks.
var (
	ErrNotFound         = &Error{Code: CodeNotFound}
	ErrConflict         = &Error{Code: CodeConflict}
	ErrForbidden        = &Error{Code: CodeForbidden}
	ErrUnavailable      = &Error{Code: CodeUnavailable}
	ErrInvalidInput     = &Error{Code: CodeInvalidInput}
	ErrConnectionFailed = &Error{Code: CodeConnectionFailed}
	ErrMigrationFailed  = &Error{Code: CodeMigrationFailed}
)

// NewError creates an error with the given code and message.
func NewError(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code to err. If err already carries a code, that code wins.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Code: existing.Code, Message: msg, Err: err}
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf returns the code of err, or "" when err is not a tenant error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
