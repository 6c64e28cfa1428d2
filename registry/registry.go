// Package registry maps orchestration and activity names to their Go
// functions. Names default to the function name and have to be stable across
// deployments, since they are recorded in history.
package registry

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/corvid-labs/durable/internal/args"
	"github.com/corvid-labs/durable/internal/fn"
)

// Orchestration is a function of the shape
//
//	func(ctx orchestration.Context, args ...) (result, error)
//
// The result value is optional; the error is not.
type Orchestration any

// Activity is either a function of the shape
//
//	func(ctx context.Context, args ...) (result, error)
//
// or a struct pointer whose exported methods of that shape are all
// registered as activities. Struct registration allows activities to share
// dependencies like database handles.
type Activity any

type ErrInvalidOrchestration struct {
	msg string
}

func (e *ErrInvalidOrchestration) Error() string {
	return fmt.Sprintf("invalid orchestration: %s", e.msg)
}

type ErrInvalidActivity struct {
	msg string
}

func (e *ErrInvalidActivity) Error() string {
	return fmt.Sprintf("invalid activity: %s", e.msg)
}

type ErrAlreadyRegistered struct {
	name string
}

func (e *ErrAlreadyRegistered) Error() string {
	return fmt.Sprintf("%q already registered", e.name)
}

type Registry struct {
	mu sync.RWMutex

	orchestrations map[string]Orchestration
	activities     map[string]Activity
}

func New() *Registry {
	return &Registry{
		orchestrations: map[string]Orchestration{},
		activities:     map[string]Activity{},
	}
}

type registerOptions struct {
	name string
}

type RegisterOption func(*registerOptions)

// WithName overrides the registered name derived from the function name.
func WithName(name string) RegisterOption {
	return func(o *registerOptions) {
		o.name = name
	}
}

func (r *Registry) RegisterOrchestration(o Orchestration, opts ...RegisterOption) error {
	t := reflect.TypeOf(o)
	if t == nil || t.Kind() != reflect.Func {
		return &ErrInvalidOrchestration{"orchestration is not a function"}
	}

	if err := checkReturns(t); err != nil {
		return &ErrInvalidOrchestration{err.Error()}
	}

	options := &registerOptions{name: fn.Name(o)}
	for _, opt := range opts {
		opt(options)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orchestrations[options.name]; ok {
		return &ErrAlreadyRegistered{options.name}
	}

	r.orchestrations[options.name] = o

	return nil
}

func (r *Registry) RegisterActivity(a Activity, opts ...RegisterOption) error {
	t := reflect.TypeOf(a)
	if t == nil {
		return &ErrInvalidActivity{"activity is nil"}
	}

	if t.Kind() == reflect.Func {
		return r.registerActivityFunc(a, opts...)
	}

	if t.Kind() == reflect.Ptr && t.Elem().Kind() == reflect.Struct {
		return r.registerActivityMethods(a)
	}

	return &ErrInvalidActivity{"activity is neither a function nor a struct pointer"}
}

func (r *Registry) registerActivityFunc(a Activity, opts ...RegisterOption) error {
	if err := checkReturns(reflect.TypeOf(a)); err != nil {
		return &ErrInvalidActivity{err.Error()}
	}

	options := &registerOptions{name: fn.Name(a)}
	for _, opt := range opts {
		opt(options)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.activities[options.name]; ok {
		return &ErrAlreadyRegistered{options.name}
	}

	r.activities[options.name] = a

	return nil
}

func (r *Registry) registerActivityMethods(a Activity) error {
	v := reflect.ValueOf(a)
	t := v.Type()

	if t.NumMethod() == 0 {
		return &ErrInvalidActivity{fmt.Sprintf("%s has no exported methods", t.Elem().Name())}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)

		if err := checkReturns(v.Method(i).Type()); err != nil {
			return &ErrInvalidActivity{fmt.Sprintf("method %s: %s", m.Name, err)}
		}

		if _, ok := r.activities[m.Name]; ok {
			return &ErrAlreadyRegistered{m.Name}
		}

		r.activities[m.Name] = v.Method(i).Interface()
	}

	return nil
}

func (r *Registry) GetOrchestration(name string) (Orchestration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orchestrations[name]
	if !ok {
		return nil, fmt.Errorf("orchestration %q not registered", name)
	}

	return o, nil
}

func (r *Registry) GetActivity(name string) (Activity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.activities[name]
	if !ok {
		return nil, fmt.Errorf("activity %q not registered", name)
	}

	return a, nil
}

func checkReturns(t reflect.Type) error {
	if t.NumOut() == 0 || t.NumOut() > 2 {
		return fmt.Errorf("must return (result, error) or error")
	}

	errT := reflect.TypeOf((*error)(nil)).Elem()
	if !t.Out(t.NumOut() - 1).Implements(errT) {
		return fmt.Errorf("last return value must be an error")
	}

	if t.NumIn() == 0 || !args.IsContext(t.In(0)) {
		return fmt.Errorf("first parameter must be a context")
	}

	return nil
}
