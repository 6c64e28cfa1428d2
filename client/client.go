// Package client starts and manages orchestration instances.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/corvid-labs/durable/backend"
	"github.com/corvid-labs/durable/backend/history"
	"github.com/corvid-labs/durable/backend/metrics"
	"github.com/corvid-labs/durable/core"
	a "github.com/corvid-labs/durable/internal/args"
	"github.com/corvid-labs/durable/internal/fn"
	"github.com/corvid-labs/durable/internal/log"
	"github.com/corvid-labs/durable/internal/metrickeys"
	"github.com/corvid-labs/durable/internal/orcherrors"
	"github.com/corvid-labs/durable/registry"
)

// ErrInstanceTerminated is returned from GetResult when the instance was
// terminated instead of finishing on its own.
var ErrInstanceTerminated = errors.New("orchestration instance terminated")

type StartOptions struct {
	// InstanceID of the new instance. Empty generates a random one.
	InstanceID string
}

type Client struct {
	backend backend.Backend
	clock   clock.Clock
}

func New(b backend.Backend) *Client {
	return &Client{
		backend: b,
		clock:   clock.New(),
	}
}

// StartOrchestration starts a new orchestration instance. The orchestration
// can be given as the registered function or as its name.
func (c *Client) StartOrchestration(ctx context.Context, options StartOptions, o registry.Orchestration, args ...any) (*core.Instance, error) {
	var name string

	if n, ok := o.(string); ok {
		name = n
	} else {
		name = fn.Name(o)

		// With the actual function available, argument mismatches surface
		// here instead of on the first worker.
		if err := a.ParamsMatch(o, args...); err != nil {
			return nil, err
		}
	}

	inputs, err := a.ArgsToInputs(c.backend.Converter(), args...)
	if err != nil {
		return nil, fmt.Errorf("converting arguments: %w", err)
	}

	instanceID := options.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	instance := core.NewInstance(instanceID, uuid.NewString())

	ctx, span := c.backend.Tracer().Start(ctx, fmt.Sprintf("StartOrchestration: %s", name), trace.WithAttributes(
		attribute.String(log.InstanceIDKey, instance.InstanceID),
		attribute.String(log.OrchestrationNameKey, name),
	))
	defer span.End()

	startedEvent := history.NewPendingEvent(
		c.clock.Now(),
		history.EventType_OrchestrationStarted,
		&history.OrchestrationStartedAttributes{
			Name:   name,
			Inputs: inputs,
		})

	if err := c.backend.CreateInstance(ctx, instance, startedEvent); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("creating orchestration instance: %w", err)
	}

	c.backend.Logger().DebugContext(ctx, "started orchestration instance",
		log.InstanceIDKey, instance.InstanceID,
		log.ExecutionIDKey, instance.ExecutionID,
		log.OrchestrationNameKey, name,
	)

	c.backend.Metrics().Counter(metrickeys.InstanceCreated, metrics.Tags{}, 1)

	return instance, nil
}

// GetInstance returns the current snapshot of an instance.
func (c *Client) GetInstance(ctx context.Context, instanceID string) (*backend.Snapshot, error) {
	return c.backend.GetInstanceSnapshot(ctx, instanceID)
}

// Terminate requests termination of a running instance. In-flight activities
// finish, but their results no longer affect the instance. Terminating an
// already finished instance is a no-op.
func (c *Client) Terminate(ctx context.Context, instanceID string, reason string) error {
	ctx, span := c.backend.Tracer().Start(ctx, "Terminate", trace.WithAttributes(
		attribute.String(log.InstanceIDKey, instanceID),
	))
	defer span.End()

	snapshot, err := c.backend.GetInstanceSnapshot(ctx, instanceID)
	if err != nil {
		return err
	}

	if snapshot.State.Finished() {
		return nil
	}

	event := history.NewTerminationRequestedEvent(c.clock.Now(), reason)
	if err := c.backend.AddInstanceEvent(ctx, instanceID, event); err != nil {
		span.RecordError(err)
		return fmt.Errorf("requesting termination: %w", err)
	}

	c.backend.Logger().DebugContext(ctx, "requested instance termination",
		log.InstanceIDKey, instanceID,
		log.TerminationReasonKey, reason,
	)

	return nil
}

// Suspend pauses progress of a running instance. Activity results and other
// events still accumulate in history, but the orchestration function does
// not run again until Resume.
func (c *Client) Suspend(ctx context.Context, instanceID string) error {
	ctx, span := c.backend.Tracer().Start(ctx, "Suspend", trace.WithAttributes(
		attribute.String(log.InstanceIDKey, instanceID),
	))
	defer span.End()

	event := history.NewSuspendRequestedEvent(c.clock.Now())
	return c.backend.AddInstanceEvent(ctx, instanceID, event)
}

// Resume lifts a suspension. The instance re-executes against its full
// history, including the events that arrived while suspended.
func (c *Client) Resume(ctx context.Context, instanceID string) error {
	ctx, span := c.backend.Tracer().Start(ctx, "Resume", trace.WithAttributes(
		attribute.String(log.InstanceIDKey, instanceID),
	))
	defer span.End()

	event := history.NewResumeRequestedEvent(c.clock.Now())
	return c.backend.AddInstanceEvent(ctx, instanceID, event)
}

// WaitForInstance waits for the given instance to reach a terminal state, or
// until the given timeout has expired.
func (c *Client) WaitForInstance(ctx context.Context, instanceID string, timeout time.Duration) error {
	if timeout == 0 {
		timeout = time.Second * 20
	}

	ctx, span := c.backend.Tracer().Start(ctx, "WaitForInstance", trace.WithAttributes(
		attribute.String(log.InstanceIDKey, instanceID),
	))
	defer span.End()

	b := backoff.ExponentialBackOff{
		InitialInterval:     time.Millisecond * 1,
		MaxInterval:         time.Second * 1,
		Multiplier:          1.5,
		RandomizationFactor: 0.5,
		MaxElapsedTime:      timeout,
		Stop:                backoff.Stop,
		Clock:               c.clock,
	}
	b.Reset()

	ticker := backoff.NewTicker(&b)
	defer ticker.Stop()

	for range ticker.C {
		snapshot, err := c.backend.GetInstanceSnapshot(ctx, instanceID)
		if err != nil {
			return fmt.Errorf("getting instance snapshot: %w", err)
		}

		if snapshot.State.Finished() {
			return nil
		}
	}

	return errors.New("instance did not finish in specified timeout")
}

// GetResult waits for the instance to finish and returns its result. A
// failed instance returns its recorded error; a terminated one returns
// ErrInstanceTerminated.
func GetResult[T any](ctx context.Context, c *Client, instanceID string, timeout time.Duration) (T, error) {
	b := c.backend

	ctx, span := b.Tracer().Start(ctx, "GetResult", trace.WithAttributes(
		attribute.String(log.InstanceIDKey, instanceID),
	))
	defer span.End()

	if err := c.WaitForInstance(ctx, instanceID, timeout); err != nil {
		return *new(T), fmt.Errorf("instance did not finish in time: %w", err)
	}

	snapshot, err := b.GetInstanceSnapshot(ctx, instanceID)
	if err != nil {
		return *new(T), fmt.Errorf("getting instance snapshot: %w", err)
	}

	switch snapshot.State {
	case core.InstanceStateFailed:
		return *new(T), orcherrors.ToError(snapshot.Error)

	case core.InstanceStateTerminated:
		return *new(T), ErrInstanceTerminated
	}

	var r T
	if snapshot.Output != nil {
		if err := b.Converter().From(snapshot.Output, &r); err != nil {
			return *new(T), fmt.Errorf("converting result: %w", err)
		}
	}

	return r, nil
}
