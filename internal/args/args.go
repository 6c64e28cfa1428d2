package args

import (
	"context"
	"fmt"
	"reflect"

	"github.com/corvid-labs/durable/backend/converter"
	"github.com/corvid-labs/durable/backend/payload"
)

func ArgsToInputs(c converter.Converter, args ...any) ([]payload.Payload, error) {
	inputs := make([]payload.Payload, 0, len(args))

	for _, arg := range args {
		input, err := c.To(arg)
		if err != nil {
			return nil, fmt.Errorf("converting args to inputs: %w", err)
		}
		inputs = append(inputs, input)
	}

	return inputs, nil
}

// InputsToArgs deserializes the given inputs into call arguments for fn. The
// returned bool indicates whether fn takes a context as its first parameter;
// callers fill that slot in before the call.
func InputsToArgs(c converter.Converter, fn reflect.Value, inputs []payload.Payload) ([]reflect.Value, bool, error) {
	addContext := false

	fnT := fn.Type()

	numArgs := fnT.NumIn()
	args := make([]reflect.Value, numArgs)

	input := 0
	for i := 0; i < numArgs; i++ {
		argT := fnT.In(i)

		if i == 0 && IsContext(argT) {
			addContext = true
			continue
		}

		if input >= len(inputs) {
			return nil, false, fmt.Errorf("mismatched argument count: want %d, got %d inputs", numArgs, len(inputs))
		}

		arg := reflect.New(argT).Interface()
		if err := c.From(inputs[input], arg); err != nil {
			return nil, false, fmt.Errorf("converting input %d: %w", input, err)
		}

		args[i] = reflect.ValueOf(arg).Elem()

		input++
	}

	return args, addContext, nil
}

// ParamsMatch checks that the given arguments are assignable to fn's
// parameters, ignoring a leading context parameter.
func ParamsMatch(fn any, args ...any) error {
	fnT := reflect.TypeOf(fn)
	if fnT.Kind() != reflect.Func {
		return fmt.Errorf("not a function")
	}

	numIn := fnT.NumIn()
	skip := 0
	if numIn > 0 && IsContext(fnT.In(0)) {
		skip = 1
	}

	if numIn-skip != len(args) {
		return fmt.Errorf("mismatched argument count: expected %d, got %d", numIn-skip, len(args))
	}

	for i, arg := range args {
		argT := fnT.In(i + skip)
		if arg == nil {
			continue
		}

		if !reflect.TypeOf(arg).AssignableTo(argT) {
			return fmt.Errorf("argument %d: cannot assign %T to %s", i, arg, argT)
		}
	}

	return nil
}

// ReturnTypeMatch checks that fn returns a value assignable to TResult (or
// only an error, in which case TResult must allow the zero value).
func ReturnTypeMatch[TResult any](fn any) error {
	fnT := reflect.TypeOf(fn)
	if fnT.Kind() != reflect.Func {
		return fmt.Errorf("not a function")
	}

	if fnT.NumOut() < 2 {
		// Only an error is returned, any TResult stays zero
		return nil
	}

	resultT := reflect.TypeOf((*TResult)(nil)).Elem()
	if !fnT.Out(0).AssignableTo(resultT) {
		return fmt.Errorf("function returns %s, expected %s", fnT.Out(0), resultT)
	}

	return nil
}

func IsContext(inType reflect.Type) bool {
	contextElem := reflect.TypeOf((*context.Context)(nil)).Elem()
	return inType != nil && inType.Implements(contextElem)
}
