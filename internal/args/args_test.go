package args

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/durable/backend/converter"
)

func TestArgsToInputsRoundTrip(t *testing.T) {
	type order struct {
		Item     string `json:"item"`
		Quantity int    `json:"quantity"`
	}

	inputs, err := ArgsToInputs(converter.DefaultConverter, order{Item: "Car", Quantity: 2}, 7)
	require.NoError(t, err)
	require.Len(t, inputs, 2)

	called := false
	f := func(ctx context.Context, o order, n int) error {
		called = true
		require.Equal(t, "Car", o.Item)
		require.Equal(t, 2, o.Quantity)
		require.Equal(t, 7, n)
		return nil
	}

	fnV := reflect.ValueOf(f)

	callArgs, addContext, err := InputsToArgs(converter.DefaultConverter, fnV, inputs)
	require.NoError(t, err)
	require.True(t, addContext)

	callArgs[0] = reflect.ValueOf(context.Background())
	fnV.Call(callArgs)
	require.True(t, called)
}

func TestInputsToArgs_CountMismatch(t *testing.T) {
	f := func(ctx context.Context, n int) error { return nil }

	_, _, err := InputsToArgs(converter.DefaultConverter, reflect.ValueOf(f), nil)
	require.Error(t, err)
}

func TestParamsMatch(t *testing.T) {
	f := func(ctx context.Context, item string, n int) error { return nil }

	require.NoError(t, ParamsMatch(f, "Car", 2))
	require.Error(t, ParamsMatch(f, "Car"))
	require.Error(t, ParamsMatch(f, "Car", "2"))
	require.Error(t, ParamsMatch("not a function"))

	// Without a leading context all parameters count
	g := func(item string) error { return nil }
	require.NoError(t, ParamsMatch(g, "Car"))
	require.Error(t, ParamsMatch(g))
}

func TestReturnTypeMatch(t *testing.T) {
	f := func(ctx context.Context) (int, error) { return 0, nil }

	require.NoError(t, ReturnTypeMatch[int](f))
	require.Error(t, ReturnTypeMatch[string](f))

	// Error-only functions match any result type
	g := func(ctx context.Context) error { return nil }
	require.NoError(t, ReturnTypeMatch[string](g))
}
