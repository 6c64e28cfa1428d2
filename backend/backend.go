package backend

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/corvid-labs/durable/backend/converter"
	"github.com/corvid-labs/durable/backend/history"
	"github.com/corvid-labs/durable/backend/metrics"
	"github.com/corvid-labs/durable/core"
)

var (
	// ErrInstanceNotFound is returned for operations on an unknown instance ID.
	ErrInstanceNotFound = errors.New("orchestration instance not found")

	// ErrInstanceAlreadyExists is returned when starting an instance whose ID
	// already exists and is not in a terminal state.
	ErrInstanceAlreadyExists = errors.New("orchestration instance already exists")

	// ErrStorageUnavailable wraps infrastructure failures of the history
	// store. The operation did not happen and is safe to retry.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrTaskNotLocked is returned when completing or extending a task whose
	// lock expired and was claimed by another worker. The result is stale
	// and must be discarded.
	ErrTaskNotLocked = errors.New("task is not locked by this worker")
)

const TracerName = "durable"

// Backend is the history store plus task queues. Appends are atomic and
// ordered per instance, and durable before they return; all engine
// coordination reduces to that guarantee.
type Backend interface {
	// CreateInstance creates a new orchestration instance together with its
	// OrchestrationStarted event. Returns ErrInstanceAlreadyExists if an
	// instance with the same ID exists and is not finished.
	CreateInstance(ctx context.Context, instance *core.Instance, event *history.Event) error

	// GetInstanceSnapshot returns the current projection of the instance:
	// status, custom status, and output once terminal. Never mutates.
	GetInstanceSnapshot(ctx context.Context, instanceID string) (*Snapshot, error)

	// GetInstanceHistory returns the committed history for the given
	// instance ordered by sequence ID. When afterSequenceID is given, only
	// events after that sequence ID are returned.
	GetInstanceHistory(ctx context.Context, instance *core.Instance, afterSequenceID *int64) ([]*history.Event, error)

	// AddInstanceEvent delivers a control event (termination, suspend,
	// resume) to a running instance and wakes up its orchestration task.
	AddInstanceEvent(ctx context.Context, instanceID string, event *history.Event) error

	// GetOrchestrationTask returns a pending orchestration task, locking the
	// instance exclusively, or nil if there is none. While the lock is held
	// no other worker receives a task for the same instance.
	GetOrchestrationTask(ctx context.Context) (*OrchestrationTask, error)

	// ExtendOrchestrationTask extends the instance lock of a task in progress.
	ExtendOrchestrationTask(ctx context.Context, task *OrchestrationTask) error

	// CompleteOrchestrationTask checkpoints one replay-and-append cycle:
	// executedEvents become history (their sequence IDs are already assigned
	// and must not collide), activityEvents are enqueued for dispatch, and
	// the instance projection moves to state. Releases the instance lock.
	CompleteOrchestrationTask(
		ctx context.Context, task *OrchestrationTask, state core.InstanceState,
		executedEvents, activityEvents []*history.Event) error

	// GetActivityTask returns a pending activity task or nil if there are no
	// pending activities.
	GetActivityTask(ctx context.Context) (*ActivityTask, error)

	// ExtendActivityTask extends the lock of an activity task.
	ExtendActivityTask(ctx context.Context, task *ActivityTask) error

	// CompleteActivityTask removes the activity task and delivers its result
	// event to the owning instance. A crash before this call leaves the task
	// claimable again, which is what makes activities at-least-once.
	CompleteActivityTask(ctx context.Context, task *ActivityTask, result *history.Event) error

	// GetStats returns stats about the backend
	GetStats(ctx context.Context) (*Stats, error)

	// Logger returns the configured logger for the backend
	Logger() *slog.Logger

	// Tracer returns the configured tracer for the backend
	Tracer() trace.Tracer

	// Metrics returns the configured metrics client for the backend
	Metrics() metrics.Client

	// Converter returns the configured payload converter
	Converter() converter.Converter

	// Options returns the configured options for the backend
	Options() *Options

	// Close closes any underlying resources
	Close() error
}
