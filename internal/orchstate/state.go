// Package orchstate carries the per-execution state of an orchestration
// function: the cursor over recorded steps, commands produced by the current
// execution, and the context plumbing the public orchestration package needs.
package orchstate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/corvid-labs/durable/backend/converter"
	"github.com/corvid-labs/durable/backend/history"
	"github.com/corvid-labs/durable/core"
	"github.com/corvid-labs/durable/internal/command"
	"github.com/corvid-labs/durable/internal/log"
	"github.com/corvid-labs/durable/internal/orcherrors"
)

// Step is one logical step of an orchestration, identified by its schedule
// event ID. Steps recorded in history carry their result event once the
// activity reported back.
type Step struct {
	ID int64

	Type history.EventType

	Name string

	// Result is the ActivityCompleted/ActivityFailed event for this step, nil
	// while the activity is still outstanding.
	Result *history.Event
}

// Suspend is panicked by the public API when execution reaches a step whose
// result is not in history yet. The executor recovers it; the instance state
// is fully captured by "history so far".
type Suspend struct{}

// Abort is panicked when execution must stop with an instance-fatal error,
// e.g. a determinism violation.
type Abort struct {
	Err *orcherrors.Error
}

type State struct {
	instance *core.Instance
	logger   *slog.Logger
	cv       converter.Converter

	recorded []*Step
	cursor   int

	commands []command.Command

	nextScheduleEventID int64
}

func NewState(instance *core.Instance, logger *slog.Logger, cv converter.Converter, recorded []*Step) *State {
	next := int64(1)
	if n := len(recorded); n > 0 {
		next = recorded[n-1].ID + 1
	}

	return &State{
		instance: instance,
		logger: logger.With(
			log.InstanceIDKey, instance.InstanceID,
		),
		cv:                  cv,
		recorded:            recorded,
		nextScheduleEventID: next,
	}
}

func (s *State) Instance() *core.Instance {
	return s.instance
}

func (s *State) Logger() *slog.Logger {
	return s.logger
}

func (s *State) Converter() converter.Converter {
	return s.cv
}

// Replaying reports whether the execution is still consuming recorded steps.
func (s *State) Replaying() bool {
	return s.cursor < len(s.recorded)
}

// NextStep advances the step cursor. While recorded steps remain, the next
// one is consumed and checked against the requested step; any divergence is
// a determinism violation. Once history is exhausted, a fresh step is handed
// out and isNew is true: the caller records the matching command.
func (s *State) NextStep(eventType history.EventType, name string) (step *Step, isNew bool, err error) {
	if s.cursor < len(s.recorded) {
		step = s.recorded[s.cursor]
		s.cursor++

		if step.Type != eventType || step.Name != name {
			return nil, false, fmt.Errorf(
				"history records %s %q at step %d, orchestration produced %s %q",
				step.Type, step.Name, step.ID, eventType, name)
		}

		return step, false, nil
	}

	step = &Step{
		ID:   s.nextScheduleEventID,
		Type: eventType,
		Name: name,
	}
	s.nextScheduleEventID++

	return step, true, nil
}

// UnconsumedSteps returns how many recorded steps the execution never
// reached. A successful return with unconsumed steps means the function
// diverged from its recorded behavior.
func (s *State) UnconsumedSteps() int {
	return len(s.recorded) - s.cursor
}

func (s *State) AddCommand(cmd command.Command) {
	s.commands = append(s.commands, cmd)
}

func (s *State) Commands() []command.Command {
	return s.commands
}

func (s *State) NextScheduleEventID() int64 {
	id := s.nextScheduleEventID
	s.nextScheduleEventID++
	return id
}

type key int

var stateKey key

func WithState(ctx context.Context, s *State) context.Context {
	return context.WithValue(ctx, stateKey, s)
}

func FromContext(ctx context.Context) *State {
	s, ok := ctx.Value(stateKey).(*State)
	if !ok {
		panic("context is not an orchestration context")
	}

	return s
}
