package orcherrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromError(t *testing.T) {
	e := FromError(fmt.Errorf("outer: %w", errors.New("inner")))
	require.Equal(t, "outer: inner", e.Message)
	require.Equal(t, "", e.Type)
	require.NotNil(t, e.Cause)
	require.Equal(t, "inner", e.Cause.Message)

	// Already persistable errors are not wrapped again
	require.Same(t, e, FromError(e))

	require.Nil(t, FromError(nil))
}

func TestFromError_NamedType(t *testing.T) {
	e := FromError(&NonDeterminismError{message: "diverged"})
	require.Equal(t, "NonDeterminismError", e.Type)
}

func TestToError_RestoresKnownTypes(t *testing.T) {
	e := NewNonDeterminismError("diverged")

	restored := ToError(e)
	var nde *NonDeterminismError
	require.ErrorAs(t, restored, &nde)
	require.Equal(t, "diverged", nde.Error())

	p := FromPanic("oops")
	var pe *PanicError
	require.ErrorAs(t, ToError(p), &pe)
	require.Equal(t, "panic: oops", pe.Error())
	require.NotEmpty(t, pe.Stack())

	require.Nil(t, ToError(nil))
}

func TestToError_UnknownTypeStaysError(t *testing.T) {
	e := FromError(errors.New("plain"))

	restored := ToError(e)
	var ee *Error
	require.ErrorAs(t, restored, &ee)
	require.Equal(t, "plain", ee.Message)
}

func TestError_JSONRoundTrip(t *testing.T) {
	e := NewPermanentError(fmt.Errorf("outer: %w", errors.New("inner")))

	b, err := json.Marshal(e)
	require.NoError(t, err)

	var restored Error
	require.NoError(t, json.Unmarshal(b, &restored))
	require.Equal(t, e.Message, restored.Message)
	require.True(t, restored.Permanent)
	require.NotNil(t, restored.Cause)
	require.Equal(t, "inner", restored.Cause.Message)
}

func TestError_UnmarshalEmptyObject(t *testing.T) {
	// An error with an empty message marshals to {} with every field omitted
	e := FromError(errors.New(""))

	b, err := json.Marshal(e)
	require.NoError(t, err)
	require.JSONEq(t, "{}", string(b))

	var restored Error
	require.NoError(t, json.Unmarshal(b, &restored))
	require.Equal(t, Error{}, restored)
}

func TestCanRetry(t *testing.T) {
	require.True(t, CanRetry(errors.New("plain")))
	require.True(t, CanRetry(FromError(errors.New("plain"))))
	require.False(t, CanRetry(NewPermanentError(errors.New("broken"))))
	require.False(t, CanRetry(FromPanic("oops")))
	require.False(t, CanRetry(NewNonDeterminismError("diverged")))
}
