package orcherrors

import (
	"fmt"

	goerrors "github.com/go-errors/errors"
)

// PanicError records a panic recovered from user code. Panics are never
// retried, the orchestration observes them as permanent failures.
type PanicError struct {
	message    string
	stacktrace string
}

func (pe *PanicError) Error() string {
	return pe.message
}

func (pe *PanicError) Stack() string {
	return pe.stacktrace
}

// FromPanic converts a recovered panic value into a permanent error with the
// goroutine stack captured at the recovery site.
func FromPanic(v any) *Error {
	goerr := goerrors.Wrap(v, 2)

	e := FromError(&PanicError{
		message:    fmt.Sprintf("panic: %v", v),
		stacktrace: string(goerr.Stack()),
	})
	e.Permanent = true

	return e
}
