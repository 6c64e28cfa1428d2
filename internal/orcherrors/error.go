package orcherrors

import (
	"encoding/json"
	"errors"
)

// Error is the persistable form of an activity or orchestration failure. It
// survives a round-trip through the history store, including the cause chain.
type Error struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message,omitempty"`

	Permanent  bool   `json:"permanent,omitempty"`
	Cause      *Error `json:"cause,omitempty"`
	Stacktrace string `json:"stacktrace,omitempty"`
}

var _ error = (*Error)(nil)

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}

	return e.Cause
}

func (e *Error) Stack() string {
	return e.Stacktrace
}

func (e *Error) UnmarshalJSON(b []byte) error {
	type alias Error
	a := &struct {
		*alias
	}{alias: (*alias)(e)}

	return json.Unmarshal(b, a)
}

// FromError wraps the given error into an Error which can be persisted and restored
func FromError(err error) *Error {
	if err == nil {
		return nil
	}

	// If this is already a persistable error, do not wrap again
	if e, ok := err.(*Error); ok {
		return e
	}

	e := &Error{
		Type:    getErrorType(err),
		Message: err.Error(),
	}

	if stackTracer, ok := err.(interface{ Stack() string }); ok {
		e.Stacktrace = stackTracer.Stack()
	}

	if cause := errors.Unwrap(err); cause != nil {
		e.Cause = FromError(cause)
	}

	return e
}

// ToError converts the given persisted error back into a regular error. Known
// error types become concrete errors again, unknown ones stay *Error.
func ToError(err *Error) error {
	if err == nil {
		return nil
	}

	e := *err

	switch err.Type {
	case getErrorType(&PanicError{}):
		return &PanicError{message: e.Message, stacktrace: e.Stacktrace}

	case getErrorType(&NonDeterminismError{}):
		return &NonDeterminismError{message: e.Message}

	default:
		return &e
	}
}

// NewPermanentError marks the given error as not retryable.
func NewPermanentError(err error) *Error {
	e := FromError(err)
	e.Permanent = true
	return e
}

// CanRetry returns true if the given error is retryable
func CanRetry(err error) bool {
	if e, ok := err.(*Error); ok {
		return !e.Permanent
	}

	// Retry errors by default
	return true
}
