// Package memory provides a process-local backend. It keeps full history in
// memory and is intended for tests and single-process deployments; every
// coordination rule of the backend contract is honored, nothing survives a
// restart.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/corvid-labs/durable/backend"
	"github.com/corvid-labs/durable/backend/converter"
	"github.com/corvid-labs/durable/backend/history"
	"github.com/corvid-labs/durable/backend/metrics"
	"github.com/corvid-labs/durable/core"
	"github.com/corvid-labs/durable/internal/metrickeys"
)

type instanceRecord struct {
	instance *core.Instance

	snapshot *backend.Snapshot

	history []*history.Event

	// newEvents await the next orchestration task for this instance.
	newEvents []*history.Event

	lockID      string
	lockedUntil time.Time
}

type activityRecord struct {
	id       string
	instance *core.Instance
	event    *history.Event

	lockID      string
	lockedUntil time.Time
}

type memoryBackend struct {
	mu sync.Mutex

	instances  map[string]*instanceRecord
	activities []*activityRecord

	options *backend.Options
	clock   clock.Clock
}

var _ backend.Backend = (*memoryBackend)(nil)

func NewMemoryBackend(opts ...backend.BackendOption) backend.Backend {
	return &memoryBackend{
		instances: map[string]*instanceRecord{},
		options:   backend.ApplyOptions(opts...),
		clock:     clock.New(),
	}
}

// NewMemoryBackendWithClock injects the clock, letting tests control lock
// expiry.
func NewMemoryBackendWithClock(cl clock.Clock, opts ...backend.BackendOption) backend.Backend {
	return &memoryBackend{
		instances: map[string]*instanceRecord{},
		options:   backend.ApplyOptions(opts...),
		clock:     cl,
	}
}

func (mb *memoryBackend) CreateInstance(ctx context.Context, instance *core.Instance, event *history.Event) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if existing, ok := mb.instances[instance.InstanceID]; ok && !existing.snapshot.State.Finished() {
		return backend.ErrInstanceAlreadyExists
	}

	attr := event.Attributes.(*history.OrchestrationStartedAttributes)

	mb.instances[instance.InstanceID] = &instanceRecord{
		instance: instance,
		snapshot: &backend.Snapshot{
			Instance:  instance,
			Name:      attr.Name,
			State:     core.InstanceStateRunning,
			CreatedAt: event.Timestamp,
		},
		newEvents: []*history.Event{event},
	}

	return nil
}

func (mb *memoryBackend) GetInstanceSnapshot(ctx context.Context, instanceID string) (*backend.Snapshot, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	rec, ok := mb.instances[instanceID]
	if !ok {
		return nil, backend.ErrInstanceNotFound
	}

	s := *rec.snapshot
	return &s, nil
}

func (mb *memoryBackend) GetInstanceHistory(ctx context.Context, instance *core.Instance, afterSequenceID *int64) ([]*history.Event, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	rec, ok := mb.instances[instance.InstanceID]
	if !ok {
		return nil, backend.ErrInstanceNotFound
	}

	if afterSequenceID == nil {
		return append([]*history.Event(nil), rec.history...), nil
	}

	var events []*history.Event
	for _, event := range rec.history {
		if event.SequenceID > *afterSequenceID {
			events = append(events, event)
		}
	}

	return events, nil
}

func (mb *memoryBackend) AddInstanceEvent(ctx context.Context, instanceID string, event *history.Event) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	rec, ok := mb.instances[instanceID]
	if !ok {
		return backend.ErrInstanceNotFound
	}

	rec.newEvents = append(rec.newEvents, event)

	return nil
}

func (mb *memoryBackend) GetOrchestrationTask(ctx context.Context) (*backend.OrchestrationTask, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	now := mb.clock.Now()

	for _, rec := range mb.instances {
		if len(rec.newEvents) == 0 {
			continue
		}

		if rec.lockID != "" && now.Before(rec.lockedUntil) {
			continue
		}

		rec.lockID = uuid.NewString()
		rec.lockedUntil = now.Add(mb.options.OrchestrationLockTimeout)

		return &backend.OrchestrationTask{
			ID:             rec.lockID,
			Instance:       rec.instance,
			State:          rec.snapshot.State,
			LastSequenceID: rec.snapshot.LastSequenceID,
			NewEvents:      append([]*history.Event(nil), rec.newEvents...),
		}, nil
	}

	return nil, nil
}

func (mb *memoryBackend) ExtendOrchestrationTask(ctx context.Context, task *backend.OrchestrationTask) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	rec, ok := mb.instances[task.Instance.InstanceID]
	if !ok || rec.lockID != task.ID {
		return backend.ErrTaskNotLocked
	}

	rec.lockedUntil = mb.clock.Now().Add(mb.options.OrchestrationLockTimeout)

	return nil
}

func (mb *memoryBackend) CompleteOrchestrationTask(
	ctx context.Context, task *backend.OrchestrationTask, state core.InstanceState,
	executedEvents, activityEvents []*history.Event,
) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	rec, ok := mb.instances[task.Instance.InstanceID]
	if !ok || rec.lockID != task.ID {
		// The lock expired and another worker claimed the task; this result
		// is stale and has to be discarded.
		return backend.ErrTaskNotLocked
	}

	rec.history = append(rec.history, executedEvents...)
	rec.newEvents = rec.newEvents[len(task.NewEvents):]
	rec.snapshot.ApplyEvents(state, executedEvents)

	for _, event := range activityEvents {
		mb.activities = append(mb.activities, &activityRecord{
			id:       uuid.NewString(),
			instance: rec.instance,
			event:    event,
		})
	}

	rec.lockID = ""
	rec.lockedUntil = time.Time{}

	return nil
}

func (mb *memoryBackend) GetActivityTask(ctx context.Context) (*backend.ActivityTask, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	now := mb.clock.Now()

	for _, rec := range mb.activities {
		if rec.lockID != "" && now.Before(rec.lockedUntil) {
			continue
		}

		rec.lockID = uuid.NewString()
		rec.lockedUntil = now.Add(mb.options.ActivityLockTimeout)

		return &backend.ActivityTask{
			ID:       rec.lockID,
			Instance: rec.instance,
			Event:    rec.event,
		}, nil
	}

	return nil, nil
}

func (mb *memoryBackend) ExtendActivityTask(ctx context.Context, task *backend.ActivityTask) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	for _, rec := range mb.activities {
		if rec.lockID == task.ID {
			rec.lockedUntil = mb.clock.Now().Add(mb.options.ActivityLockTimeout)
			return nil
		}
	}

	return backend.ErrTaskNotLocked
}

func (mb *memoryBackend) CompleteActivityTask(ctx context.Context, task *backend.ActivityTask, result *history.Event) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	idx := -1
	for i, rec := range mb.activities {
		if rec.lockID == task.ID {
			idx = i
			break
		}
	}

	if idx == -1 {
		return backend.ErrTaskNotLocked
	}

	rec, ok := mb.instances[task.Instance.InstanceID]
	if !ok {
		return backend.ErrInstanceNotFound
	}

	mb.activities = append(mb.activities[:idx], mb.activities[idx+1:]...)
	rec.newEvents = append(rec.newEvents, result)

	return nil
}

func (mb *memoryBackend) GetStats(ctx context.Context) (*backend.Stats, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	stats := &backend.Stats{
		PendingActivities: int64(len(mb.activities)),
	}

	for _, rec := range mb.instances {
		if !rec.snapshot.State.Finished() {
			stats.ActiveInstances++
		}

		if len(rec.newEvents) > 0 {
			stats.PendingOrchestrationTasks++
		}
	}

	return stats, nil
}

func (mb *memoryBackend) Logger() *slog.Logger {
	return mb.options.Logger
}

func (mb *memoryBackend) Tracer() trace.Tracer {
	return mb.options.TracerProvider.Tracer(backend.TracerName)
}

func (mb *memoryBackend) Metrics() metrics.Client {
	return mb.options.Metrics.WithTags(metrics.Tags{metrickeys.Backend: "memory"})
}

func (mb *memoryBackend) Converter() converter.Converter {
	return mb.options.Converter
}

func (mb *memoryBackend) Options() *backend.Options {
	return mb.options
}

func (mb *memoryBackend) Close() error {
	return nil
}
