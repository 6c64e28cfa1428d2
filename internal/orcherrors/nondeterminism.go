package orcherrors

// NonDeterminismError indicates that re-executing an orchestration produced a
// different sequence of scheduled steps than the recorded history. It signals
// a bug in the orchestration definition, is never retried, and is fatal to
// the instance.
type NonDeterminismError struct {
	message string
}

func (e *NonDeterminismError) Error() string {
	return e.message
}

func NewNonDeterminismError(msg string) *Error {
	e := FromError(&NonDeterminismError{message: msg})
	e.Permanent = true
	return e
}
