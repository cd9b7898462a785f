package response

import (
	"errors"
)

// Error is a caller-visible failure: an HTTP status, a stable machine code
// and a message.
type Error struct {
	Code      int
	Kind      string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	var t *Error
	ok := errors.As(target, &t)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Kind == t.Kind
}

func NewError(code int, kind string, err string) error {
	return &Error{Code: code, Kind: kind, Err: errors.New(err)}
}

func NewRetryableError(code int, kind string, err string) error {
	return &Error{Code: code, Kind: kind, Retryable: true, Err: errors.New(err)}
}
