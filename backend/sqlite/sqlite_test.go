package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/durable/backend"
	"github.com/corvid-labs/durable/backend/history"
	"github.com/corvid-labs/durable/core"
	"github.com/corvid-labs/durable/internal/orcherrors"
)

// The in-memory database is shared within the process, so every test works
// with its own instance IDs.

func startedEvent(name string) *history.Event {
	return history.NewPendingEvent(time.Now().UTC(), history.EventType_OrchestrationStarted, &history.OrchestrationStartedAttributes{
		Name: name,
	})
}

func createInstance(t *testing.T, b backend.Backend) *core.Instance {
	t.Helper()

	instance := core.NewInstance(uuid.NewString(), uuid.NewString())
	require.NoError(t, b.CreateInstance(context.Background(), instance, startedEvent("order")))

	return instance
}

// claimTask polls tasks until one for the given instance comes up, requeueing
// tasks that belong to other tests running against the shared database.
func claimTask(t *testing.T, b backend.Backend, instanceID string) *backend.OrchestrationTask {
	t.Helper()

	for i := 0; i < 100; i++ {
		task, err := b.GetOrchestrationTask(context.Background())
		require.NoError(t, err)

		if task != nil && task.Instance.InstanceID == instanceID {
			return task
		}
	}

	t.Fatalf("no orchestration task for instance %s", instanceID)
	return nil
}

func TestSqlite_CreateInstance(t *testing.T) {
	b := NewInMemoryBackend()
	defer b.Close()

	ctx := context.Background()
	instance := createInstance(t, b)

	snapshot, err := b.GetInstanceSnapshot(ctx, instance.InstanceID)
	require.NoError(t, err)
	require.Equal(t, core.InstanceStateRunning, snapshot.State)
	require.Equal(t, "order", snapshot.Name)
	require.Equal(t, instance.ExecutionID, snapshot.Instance.ExecutionID)
	require.False(t, snapshot.CreatedAt.IsZero())
	require.Nil(t, snapshot.CompletedAt)

	require.ErrorIs(t,
		b.CreateInstance(ctx, core.NewInstance(instance.InstanceID, uuid.NewString()), startedEvent("order")),
		backend.ErrInstanceAlreadyExists)
}

func TestSqlite_GetInstanceSnapshot_NotFound(t *testing.T) {
	b := NewInMemoryBackend()
	defer b.Close()

	_, err := b.GetInstanceSnapshot(context.Background(), uuid.NewString())
	require.ErrorIs(t, err, backend.ErrInstanceNotFound)
}

func TestSqlite_OrchestrationTaskFlow(t *testing.T) {
	b := NewInMemoryBackend()
	defer b.Close()

	ctx := context.Background()
	instance := createInstance(t, b)

	task := claimTask(t, b, instance.InstanceID)
	require.Equal(t, core.InstanceStateRunning, task.State)
	require.Equal(t, int64(0), task.LastSequenceID)
	require.Len(t, task.NewEvents, 1)
	require.Equal(t, history.EventType_OrchestrationStarted, task.NewEvents[0].Type)

	scheduled := history.NewPendingEvent(time.Now().UTC(), history.EventType_ActivityScheduled, &history.ActivityScheduledAttributes{
		Name: "VerifyInventory",
	}, history.ScheduleEventID(1))

	executed := []*history.Event{task.NewEvents[0], scheduled}
	for i, event := range executed {
		event.SequenceID = int64(i + 1)
	}

	require.NoError(t, b.CompleteOrchestrationTask(ctx, task, core.InstanceStateRunning, executed, []*history.Event{scheduled}))

	// Completing again with the released lock is rejected
	require.ErrorIs(t,
		b.CompleteOrchestrationTask(ctx, task, core.InstanceStateRunning, nil, nil),
		backend.ErrTaskNotLocked)
	require.ErrorIs(t, b.ExtendOrchestrationTask(ctx, task), backend.ErrTaskNotLocked)

	events, err := b.GetInstanceHistory(ctx, instance, nil)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, history.EventType_ActivityScheduled, events[1].Type)
	require.Equal(t, "VerifyInventory", events[1].Attributes.(*history.ActivityScheduledAttributes).Name)

	after := int64(1)
	events, err = b.GetInstanceHistory(ctx, instance, &after)
	require.NoError(t, err)
	require.Len(t, events, 1)

	snapshot, err := b.GetInstanceSnapshot(ctx, instance.InstanceID)
	require.NoError(t, err)
	require.Equal(t, int64(2), snapshot.LastSequenceID)
}

func TestSqlite_ActivityTaskFlow(t *testing.T) {
	b := NewInMemoryBackend()
	defer b.Close()

	ctx := context.Background()
	instance := createInstance(t, b)

	task := claimTask(t, b, instance.InstanceID)

	scheduled := history.NewPendingEvent(time.Now().UTC(), history.EventType_ActivityScheduled, &history.ActivityScheduledAttributes{
		Name: "VerifyInventory",
	}, history.ScheduleEventID(1))

	executed := []*history.Event{task.NewEvents[0], scheduled}
	for i, event := range executed {
		event.SequenceID = int64(i + 1)
	}

	require.NoError(t, b.CompleteOrchestrationTask(ctx, task, core.InstanceStateRunning, executed, []*history.Event{scheduled}))

	at, err := b.GetActivityTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, at)
	require.Equal(t, instance.InstanceID, at.Instance.InstanceID)
	require.Equal(t, instance.ExecutionID, at.Instance.ExecutionID)
	require.Equal(t, scheduled.ID, at.Event.ID)
	require.Equal(t, int64(1), at.Event.ScheduleEventID)

	require.NoError(t, b.ExtendActivityTask(ctx, at))

	result := history.NewPendingEvent(time.Now().UTC(), history.EventType_ActivityCompleted, &history.ActivityCompletedAttributes{
		Attempts: 1,
	}, history.ScheduleEventID(1))

	require.NoError(t, b.CompleteActivityTask(ctx, at, result))
	require.ErrorIs(t, b.CompleteActivityTask(ctx, at, result), backend.ErrTaskNotLocked)

	// The result is waiting as the next orchestration task
	task2 := claimTask(t, b, instance.InstanceID)
	require.Equal(t, int64(2), task2.LastSequenceID)
	require.Len(t, task2.NewEvents, 1)
	require.Equal(t, history.EventType_ActivityCompleted, task2.NewEvents[0].Type)
}

func TestSqlite_TerminalSnapshot(t *testing.T) {
	b := NewInMemoryBackend()
	defer b.Close()

	ctx := context.Background()
	instance := createInstance(t, b)

	task := claimTask(t, b, instance.InstanceID)

	failed := history.NewPendingEvent(time.Now().UTC(), history.EventType_OrchestrationFailed, &history.OrchestrationFailedAttributes{
		Error: orcherrors.NewPermanentError(errors.New("payment declined")),
	})

	executed := []*history.Event{task.NewEvents[0], failed}
	for i, event := range executed {
		event.SequenceID = int64(i + 1)
	}

	require.NoError(t, b.CompleteOrchestrationTask(ctx, task, core.InstanceStateFailed, executed, nil))

	snapshot, err := b.GetInstanceSnapshot(ctx, instance.InstanceID)
	require.NoError(t, err)
	require.Equal(t, core.InstanceStateFailed, snapshot.State)
	require.NotNil(t, snapshot.CompletedAt)
	require.NotNil(t, snapshot.Error)
	require.Equal(t, "payment declined", snapshot.Error.Message)
	require.True(t, snapshot.Error.Permanent)

	// A finished instance can be replaced under the same ID
	require.NoError(t, b.CreateInstance(ctx, core.NewInstance(instance.InstanceID, uuid.NewString()), startedEvent("order")))

	snapshot, err = b.GetInstanceSnapshot(ctx, instance.InstanceID)
	require.NoError(t, err)
	require.Equal(t, core.InstanceStateRunning, snapshot.State)
	require.Nil(t, snapshot.Error)
}

func TestSqlite_AddInstanceEvent(t *testing.T) {
	b := NewInMemoryBackend()
	defer b.Close()

	ctx := context.Background()

	require.ErrorIs(t,
		b.AddInstanceEvent(ctx, uuid.NewString(), history.NewSuspendRequestedEvent(time.Now().UTC())),
		backend.ErrInstanceNotFound)

	instance := createInstance(t, b)
	require.NoError(t, b.AddInstanceEvent(ctx, instance.InstanceID, history.NewSuspendRequestedEvent(time.Now().UTC())))

	task := claimTask(t, b, instance.InstanceID)
	require.Len(t, task.NewEvents, 2)
	require.Equal(t, history.EventType_SuspendRequested, task.NewEvents[1].Type)
}
