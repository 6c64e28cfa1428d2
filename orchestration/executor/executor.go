// Package executor re-executes orchestration functions against recorded
// history. Each task runs the function from the top; recorded steps feed the
// results deterministically, and execution stops as soon as a step without a
// result is reached. The function is pure between checkpoints, so crashing at
// any point loses nothing but work in flight.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/benbjohnson/clock"

	"github.com/corvid-labs/durable/backend"
	"github.com/corvid-labs/durable/backend/converter"
	"github.com/corvid-labs/durable/backend/history"
	"github.com/corvid-labs/durable/backend/metrics"
	"github.com/corvid-labs/durable/backend/payload"
	"github.com/corvid-labs/durable/core"
	"github.com/corvid-labs/durable/internal/args"
	"github.com/corvid-labs/durable/internal/command"
	"github.com/corvid-labs/durable/internal/log"
	"github.com/corvid-labs/durable/internal/metrickeys"
	im "github.com/corvid-labs/durable/internal/metrics"
	"github.com/corvid-labs/durable/internal/orcherrors"
	"github.com/corvid-labs/durable/internal/orchstate"
	"github.com/corvid-labs/durable/registry"
)

// ExecutionResult is the outcome of executing a single orchestration task.
type ExecutionResult struct {
	// State the instance moves to with this checkpoint.
	State core.InstanceState

	// Executed events to append to history, sequence IDs assigned.
	Executed []*history.Event

	// ActivityEvents to enqueue for the activity dispatcher.
	ActivityEvents []*history.Event
}

// HistoryProvider provides access to committed history when the executor's
// cache is behind the task it received.
type HistoryProvider interface {
	GetInstanceHistory(ctx context.Context, instance *core.Instance, afterSequenceID *int64) ([]*history.Event, error)
}

// Executor executes orchestration tasks for a single instance. It caches the
// instance history between tasks, so a worker that keeps receiving tasks for
// the same instance only fetches the delta.
type Executor struct {
	registry *registry.Registry
	provider HistoryProvider

	instance *core.Instance
	logger   *slog.Logger
	metrics  metrics.Client
	cv       converter.Converter
	clock    clock.Clock

	history        []*history.Event
	lastSequenceID int64
}

func NewExecutor(
	reg *registry.Registry,
	provider HistoryProvider,
	instance *core.Instance,
	logger *slog.Logger,
	mc metrics.Client,
	cv converter.Converter,
	cl clock.Clock,
) *Executor {
	return &Executor{
		registry: reg,
		provider: provider,
		instance: instance,
		logger:   logger.With(log.InstanceIDKey, instance.InstanceID),
		metrics:  mc,
		cv:       cv,
		clock:    cl,
	}
}

// ExecuteTask executes a single orchestration task. It never mutates the
// backend; the worker checkpoints the returned result.
func (e *Executor) ExecuteTask(ctx context.Context, t *backend.OrchestrationTask) (*ExecutionResult, error) {
	logger := e.logger.With(log.TaskIDKey, t.ID)
	logger.DebugContext(ctx, "executing orchestration task",
		log.SeqIDKey, t.LastSequenceID,
		"new_events", len(t.NewEvents),
	)

	timer := im.NewTimer(e.metrics, metrickeys.OrchestrationTaskProcessed, metrics.Tags{})
	defer timer.Stop()

	if err := e.catchUpHistory(ctx, t); err != nil {
		return nil, err
	}

	// History after a terminal event never changes the projection; late
	// events are only appended for the record.
	if t.State.Finished() {
		return e.checkpoint(t.State, t.NewEvents, nil), nil
	}

	run, verdict := e.scanEvents(t.NewEvents)

	if verdict.terminated != nil {
		reason := verdict.terminated.Reason
		logger.DebugContext(ctx, "terminating instance", "reason", reason)

		terminated := history.NewPendingEvent(
			e.clock.Now(),
			history.EventType_OrchestrationTerminated,
			&history.OrchestrationTerminatedAttributes{Reason: reason},
		)

		executed := append(t.NewEvents, terminated)
		return e.checkpoint(core.InstanceStateTerminated, executed, nil), nil
	}

	if verdict.suspended {
		// Events keep accumulating in history, but the function does not run
		// until a resume arrives.
		return e.checkpoint(core.InstanceStateSuspended, t.NewEvents, nil), nil
	}

	if run.started == nil {
		return nil, fmt.Errorf("instance %s has no start event", e.instance.InstanceID)
	}

	state := orchstate.NewState(e.instance, logger, e.cv, run.steps)

	instanceState := e.run(ctx, state, run.started)

	executed := t.NewEvents
	var activityEvents []*history.Event

	for _, cmd := range state.Commands() {
		if cmd.State() != command.CommandState_Pending {
			continue
		}

		r := cmd.Commit(e.clock)

		if r.State > instanceState {
			instanceState = r.State
		}

		executed = append(executed, r.Events...)
		activityEvents = append(activityEvents, r.ActivityEvents...)
	}

	return e.checkpoint(instanceState, executed, activityEvents), nil
}

// run executes the orchestration function once, recovering the control-flow
// panics the public API uses, and appends a completion command when the
// function finished or failed.
func (e *Executor) run(ctx context.Context, state *orchstate.State, started *history.OrchestrationStartedAttributes) (instanceState core.InstanceState) {
	instanceState = core.InstanceStateRunning

	fail := func(err *orcherrors.Error) {
		state.AddCommand(command.NewCompleteOrchestrationCommand(state.NextScheduleEventID(), nil, err))
	}

	o, err := e.registry.GetOrchestration(started.Name)
	if err != nil {
		fail(orcherrors.NewPermanentError(err))
		return instanceState
	}

	fnV := reflect.ValueOf(o)

	callArgs, addContext, err := args.InputsToArgs(e.cv, fnV, started.Inputs)
	if err != nil {
		fail(orcherrors.NewPermanentError(err))
		return instanceState
	}

	if addContext {
		octx := orchstate.WithState(context.Background(), state)
		callArgs[0] = reflect.ValueOf(octx)
	}

	results := func() (results []reflect.Value) {
		defer func() {
			if r := recover(); r != nil {
				switch p := r.(type) {
				case orchstate.Suspend:
					// Awaiting an activity result; history so far is the
					// complete state, nothing more to record.
				case orchstate.Abort:
					fail(p.Err)
				default:
					fail(orcherrors.FromPanic(r))
				}
			}
		}()

		return fnV.Call(callArgs)
	}()

	if results == nil {
		// Control-flow panic, completion (if any) already appended.
		return instanceState
	}

	if n := state.UnconsumedSteps(); n > 0 {
		fail(orcherrors.NewNonDeterminismError(
			fmt.Sprintf("orchestration returned with %d recorded steps not reached", n)))
		return instanceState
	}

	if errV := results[len(results)-1]; !errV.IsNil() {
		fail(orcherrors.FromError(errV.Interface().(error)))
		return instanceState
	}

	var result payload.Payload
	if len(results) == 2 {
		p, err := e.cv.To(results[0].Interface())
		if err != nil {
			fail(orcherrors.NewPermanentError(fmt.Errorf("serializing orchestration result: %w", err)))
			return instanceState
		}
		result = p
	}

	state.AddCommand(command.NewCompleteOrchestrationCommand(state.NextScheduleEventID(), result, nil))

	return instanceState
}

// catchUpHistory loads committed events between the executor's cache and the
// task. A task older than the cache means the lock protocol was violated.
func (e *Executor) catchUpHistory(ctx context.Context, t *backend.OrchestrationTask) error {
	if t.LastSequenceID < e.lastSequenceID {
		return fmt.Errorf("task has older history (%d) than cached history (%d)", t.LastSequenceID, e.lastSequenceID)
	}

	if t.LastSequenceID == e.lastSequenceID {
		return nil
	}

	after := e.lastSequenceID
	delta, err := e.provider.GetInstanceHistory(ctx, t.Instance, &after)
	if err != nil {
		return fmt.Errorf("fetching history delta: %w", err)
	}

	e.history = append(e.history, delta...)
	if n := len(e.history); n > 0 {
		e.lastSequenceID = e.history[n-1].SequenceID
	}

	if e.lastSequenceID != t.LastSequenceID {
		return fmt.Errorf("history ends at %d, task expects %d", e.lastSequenceID, t.LastSequenceID)
	}

	return nil
}

type runView struct {
	started *history.OrchestrationStartedAttributes
	steps   []*orchstate.Step
}

type controlVerdict struct {
	terminated *history.TerminationRequestedAttributes
	suspended  bool
}

// scanEvents folds cached history plus the task's new events into the replay
// inputs: the start attributes, the recorded steps with their results, and
// the latest suspend/terminate disposition.
func (e *Executor) scanEvents(newEvents []*history.Event) (runView, controlVerdict) {
	var view runView
	var verdict controlVerdict

	byScheduleID := map[int64]*orchstate.Step{}

	apply := func(event *history.Event) {
		switch attr := event.Attributes.(type) {
		case *history.OrchestrationStartedAttributes:
			view.started = attr

		case *history.ActivityScheduledAttributes:
			step := &orchstate.Step{
				ID:   event.ScheduleEventID,
				Type: history.EventType_ActivityScheduled,
				Name: attr.Name,
			}
			view.steps = append(view.steps, step)
			byScheduleID[event.ScheduleEventID] = step

		case *history.ActivityCompletedAttributes, *history.ActivityFailedAttributes:
			if step, ok := byScheduleID[event.ScheduleEventID]; ok {
				step.Result = event
			}

		case *history.CustomStatusSetAttributes:
			view.steps = append(view.steps, &orchstate.Step{
				ID:   event.ScheduleEventID,
				Type: history.EventType_CustomStatusSet,
			})

		case *history.TerminationRequestedAttributes:
			verdict.terminated = attr

		case *history.SuspendRequestedAttributes:
			verdict.suspended = true

		case *history.ResumeRequestedAttributes:
			verdict.suspended = false
		}
	}

	for _, event := range e.history {
		apply(event)
	}
	for _, event := range newEvents {
		apply(event)
	}

	return view, verdict
}

// checkpoint assigns gapless sequence IDs to the executed events and folds
// them into the cached history.
func (e *Executor) checkpoint(state core.InstanceState, executed, activityEvents []*history.Event) *ExecutionResult {
	for _, event := range executed {
		e.lastSequenceID++
		event.SequenceID = e.lastSequenceID
	}

	e.history = append(e.history, executed...)

	return &ExecutionResult{
		State:          state,
		Executed:       executed,
		ActivityEvents: activityEvents,
	}
}
