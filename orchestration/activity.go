package orchestration

import (
	"time"

	"github.com/corvid-labs/durable/backend/history"
	"github.com/corvid-labs/durable/internal/args"
	"github.com/corvid-labs/durable/internal/command"
	"github.com/corvid-labs/durable/internal/fn"
	"github.com/corvid-labs/durable/internal/orcherrors"
	"github.com/corvid-labs/durable/internal/orchstate"
	"github.com/corvid-labs/durable/retry"
)

// ActivityOptions control scheduling of a single activity.
type ActivityOptions struct {
	// Retry is applied by the dispatcher before the failure is recorded in
	// history.
	Retry retry.Policy

	// Timeout bounds each individual attempt, not the retry sequence as a
	// whole. Zero means no per-attempt timeout.
	Timeout time.Duration
}

var DefaultActivityOptions = ActivityOptions{
	Retry:   retry.DefaultPolicy,
	Timeout: time.Minute,
}

// Future is the pending result of a scheduled activity.
type Future[T any] interface {
	// Get returns the activity result. If the result is not in history yet,
	// the current execution stops; it will be re-run once the result arrives.
	Get(ctx Context) (T, error)
}

type future[T any] struct {
	step *orchstate.Step
}

func (f *future[T]) Get(ctx Context) (T, error) {
	var v T

	if f.step.Result == nil {
		panic(orchstate.Suspend{})
	}

	s := orchstate.FromContext(ctx)

	switch attr := f.step.Result.Attributes.(type) {
	case *history.ActivityCompletedAttributes:
		if attr.Result != nil {
			if err := s.Converter().From(attr.Result, &v); err != nil {
				return v, err
			}
		}

		return v, nil

	case *history.ActivityFailedAttributes:
		return v, orcherrors.ToError(attr.Error)

	default:
		panic(orchstate.Abort{
			Err: orcherrors.NewNonDeterminismError("activity step resolved with unexpected event type"),
		})
	}
}

// ScheduleActivity schedules an activity for execution and returns a Future
// for its result. The activity can be given as the registered function or as
// its name. Multiple activities scheduled before the first Get run
// concurrently.
func ScheduleActivity[TResult any](ctx Context, options ActivityOptions, activity any, arguments ...any) Future[TResult] {
	s := orchstate.FromContext(ctx)

	name, ok := activity.(string)
	if !ok {
		name = fn.Name(activity)
	}

	step, isNew, err := s.NextStep(history.EventType_ActivityScheduled, name)
	if err != nil {
		panic(orchstate.Abort{Err: orcherrors.NewNonDeterminismError(err.Error())})
	}

	if isNew {
		inputs, err := args.ArgsToInputs(s.Converter(), arguments...)
		if err != nil {
			panic(orchstate.Abort{Err: orcherrors.NewPermanentError(err)})
		}

		s.AddCommand(command.NewScheduleActivityCommand(step.ID, name, inputs, options.Retry, options.Timeout))
	}

	return &future[TResult]{step: step}
}

// ExecuteActivity schedules an activity and waits for its result.
func ExecuteActivity[TResult any](ctx Context, options ActivityOptions, activity any, arguments ...any) (TResult, error) {
	return ScheduleActivity[TResult](ctx, options, activity, arguments...).Get(ctx)
}
