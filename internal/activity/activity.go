// Package activity executes a single activity invocation, applying the
// retry policy recorded at schedule time. The outcome is reported back as a
// history event; the attempt loop itself never touches the history store.
package activity

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/corvid-labs/durable/backend"
	"github.com/corvid-labs/durable/backend/converter"
	"github.com/corvid-labs/durable/backend/history"
	"github.com/corvid-labs/durable/backend/payload"
	"github.com/corvid-labs/durable/internal/args"
	"github.com/corvid-labs/durable/internal/log"
	"github.com/corvid-labs/durable/internal/orcherrors"
	"github.com/corvid-labs/durable/registry"
)

type Executor struct {
	registry *registry.Registry
	logger   *slog.Logger
	cv       converter.Converter
	clock    clock.Clock
}

func NewExecutor(reg *registry.Registry, logger *slog.Logger, cv converter.Converter, cl clock.Clock) *Executor {
	return &Executor{
		registry: reg,
		logger:   logger,
		cv:       cv,
		clock:    cl,
	}
}

// Result is the outcome of one activity task after retries.
type Result struct {
	Payload  payload.Payload
	Attempts int
	Err      *orcherrors.Error
}

// ExecuteTask runs the activity named in the task's schedule event until it
// succeeds, its retry policy is exhausted, or the task context is canceled.
func (e *Executor) ExecuteTask(ctx context.Context, t *backend.ActivityTask) *Result {
	attr, ok := t.Event.Attributes.(*history.ActivityScheduledAttributes)
	if !ok {
		return &Result{
			Attempts: 1,
			Err:      orcherrors.NewPermanentError(fmt.Errorf("task event is not an activity schedule event")),
		}
	}

	logger := e.logger.With(
		log.InstanceIDKey, t.Instance.InstanceID,
		log.ActivityNameKey, attr.Name,
		log.ScheduleEventIDKey, t.Event.ScheduleEventID,
	)

	a, err := e.registry.GetActivity(attr.Name)
	if err != nil {
		// No handler can ever succeed on this worker fleet; record a
		// permanent failure instead of churning through retries.
		return &Result{
			Attempts: 1,
			Err:      orcherrors.NewPermanentError(err),
		}
	}

	policy := attr.Retry
	bo := policy.NewBackOff()

	attempt := 1
	for {
		result, err := e.executeAttempt(ctx, a, attr)
		if err == nil {
			return &Result{Payload: result, Attempts: attempt}
		}

		logger.DebugContext(ctx, "activity attempt failed",
			log.AttemptKey, attempt,
			log.ErrorKey, err,
		)

		if !policy.Retryable(attempt, err) {
			return &Result{Attempts: attempt, Err: orcherrors.FromError(err)}
		}

		delay := bo.NextBackOff()
		timer := e.clock.Timer(delay)

		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return &Result{Attempts: attempt, Err: orcherrors.FromError(ctx.Err())}
		}

		attempt++
	}
}

// executeAttempt runs a single invocation, bounded by the per-attempt
// timeout. Panics inside the handler become permanent failures.
func (e *Executor) executeAttempt(ctx context.Context, a registry.Activity, attr *history.ActivityScheduledAttributes) (payload.Payload, error) {
	actx := ctx
	if attr.Timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, attr.Timeout)
		defer cancel()
	}

	type outcome struct {
		result payload.Payload
		err    error
	}

	done := make(chan outcome, 1)

	go func() {
		result, err := e.call(actx, a, attr.Inputs)
		done <- outcome{result, err}
	}()

	select {
	case o := <-done:
		return o.result, o.err

	case <-actx.Done():
		if ctx.Err() == nil && attr.Timeout > 0 {
			// The attempt timed out while the task is still live. The handler
			// goroutine keeps running until it observes the canceled context;
			// its result is discarded.
			return nil, fmt.Errorf("activity attempt timed out after %v", attr.Timeout)
		}

		return nil, ctx.Err()
	}
}

func (e *Executor) call(ctx context.Context, a registry.Activity, inputs []payload.Payload) (result payload.Payload, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = orcherrors.FromPanic(r)
		}
	}()

	fnV := reflect.ValueOf(a)

	callArgs, addContext, err := args.InputsToArgs(e.cv, fnV, inputs)
	if err != nil {
		return nil, orcherrors.NewPermanentError(err)
	}

	if addContext {
		callArgs[0] = reflect.ValueOf(ctx)
	}

	results := fnV.Call(callArgs)

	if errV := results[len(results)-1]; !errV.IsNil() {
		return nil, errV.Interface().(error)
	}

	if len(results) == 2 {
		p, err := e.cv.To(results[0].Interface())
		if err != nil {
			return nil, orcherrors.NewPermanentError(fmt.Errorf("serializing activity result: %w", err))
		}

		return p, nil
	}

	return nil, nil
}

// NewResultEvent converts an executor result into the history event delivered
// back to the owning instance.
func NewResultEvent(now time.Time, scheduleEventID int64, r *Result) *history.Event {
	if r.Err != nil {
		return history.NewPendingEvent(
			now,
			history.EventType_ActivityFailed,
			&history.ActivityFailedAttributes{
				Error:    r.Err,
				Attempts: r.Attempts,
			},
			history.ScheduleEventID(scheduleEventID),
		)
	}

	return history.NewPendingEvent(
		now,
		history.EventType_ActivityCompleted,
		&history.ActivityCompletedAttributes{
			Result:   r.Payload,
			Attempts: r.Attempts,
		},
		history.ScheduleEventID(scheduleEventID),
	)
}
