package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/durable/backend"
	"github.com/corvid-labs/durable/backend/history"
	"github.com/corvid-labs/durable/backend/memory"
	"github.com/corvid-labs/durable/core"
	"github.com/corvid-labs/durable/orchestration"
)

func order(ctx orchestration.Context, item string) (string, error) {
	return item, nil
}

func TestStartOrchestration(t *testing.T) {
	b := memory.NewMemoryBackend()
	c := New(b)
	ctx := context.Background()

	instance, err := c.StartOrchestration(ctx, StartOptions{InstanceID: "order-1"}, order, "Car")
	require.NoError(t, err)
	require.Equal(t, "order-1", instance.InstanceID)
	require.NotEmpty(t, instance.ExecutionID)

	snapshot, err := c.GetInstance(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, core.InstanceStateRunning, snapshot.State)
	require.Equal(t, "order", snapshot.Name)

	// The start event is queued for the first orchestration task
	task, err := b.GetOrchestrationTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)
	require.Equal(t, history.EventType_OrchestrationStarted, task.NewEvents[0].Type)
}

func TestStartOrchestration_ByName(t *testing.T) {
	c := New(memory.NewMemoryBackend())

	instance, err := c.StartOrchestration(context.Background(), StartOptions{}, "ProcessOrder", "Car")
	require.NoError(t, err)
	require.NotEmpty(t, instance.InstanceID)
}

func TestStartOrchestration_ArgumentMismatch(t *testing.T) {
	c := New(memory.NewMemoryBackend())

	_, err := c.StartOrchestration(context.Background(), StartOptions{}, order, "Car", "extra")
	require.Error(t, err)

	_, err = c.StartOrchestration(context.Background(), StartOptions{}, order, 42)
	require.Error(t, err)
}

func TestStartOrchestration_Duplicate(t *testing.T) {
	c := New(memory.NewMemoryBackend())
	ctx := context.Background()

	_, err := c.StartOrchestration(ctx, StartOptions{InstanceID: "order-1"}, order, "Car")
	require.NoError(t, err)

	_, err = c.StartOrchestration(ctx, StartOptions{InstanceID: "order-1"}, order, "Car")
	require.ErrorIs(t, err, backend.ErrInstanceAlreadyExists)
}

func TestTerminate(t *testing.T) {
	b := memory.NewMemoryBackend()
	c := New(b)
	ctx := context.Background()

	require.ErrorIs(t, c.Terminate(ctx, "missing", "cleanup"), backend.ErrInstanceNotFound)

	_, err := c.StartOrchestration(ctx, StartOptions{InstanceID: "order-1"}, order, "Car")
	require.NoError(t, err)

	require.NoError(t, c.Terminate(ctx, "order-1", "cleanup"))

	task, err := b.GetOrchestrationTask(ctx)
	require.NoError(t, err)
	require.Equal(t, history.EventType_TerminationRequested, task.NewEvents[1].Type)
}

func TestTerminate_FinishedIsNoop(t *testing.T) {
	b := memory.NewMemoryBackend()
	c := New(b)
	ctx := context.Background()

	_, err := c.StartOrchestration(ctx, StartOptions{InstanceID: "order-1"}, order, "Car")
	require.NoError(t, err)

	finishInstance(t, b)

	require.NoError(t, c.Terminate(ctx, "order-1", "cleanup"))

	// No termination event was delivered
	task, err := b.GetOrchestrationTask(ctx)
	require.NoError(t, err)
	require.Nil(t, task)
}

func TestSuspendResume(t *testing.T) {
	b := memory.NewMemoryBackend()
	c := New(b)
	ctx := context.Background()

	_, err := c.StartOrchestration(ctx, StartOptions{InstanceID: "order-1"}, order, "Car")
	require.NoError(t, err)

	require.NoError(t, c.Suspend(ctx, "order-1"))
	require.NoError(t, c.Resume(ctx, "order-1"))

	task, err := b.GetOrchestrationTask(ctx)
	require.NoError(t, err)
	require.Equal(t, history.EventType_SuspendRequested, task.NewEvents[1].Type)
	require.Equal(t, history.EventType_ResumeRequested, task.NewEvents[2].Type)
}

func TestGetResult(t *testing.T) {
	b := memory.NewMemoryBackend()
	c := New(b)
	ctx := context.Background()

	_, err := c.StartOrchestration(ctx, StartOptions{InstanceID: "order-1"}, order, "Car")
	require.NoError(t, err)

	finishInstance(t, b)

	result, err := GetResult[string](ctx, c, "order-1", time.Second)
	require.NoError(t, err)
	require.Equal(t, "done", result)
}

func TestGetResult_Timeout(t *testing.T) {
	c := New(memory.NewMemoryBackend())
	ctx := context.Background()

	_, err := c.StartOrchestration(ctx, StartOptions{InstanceID: "order-1"}, order, "Car")
	require.NoError(t, err)

	_, err = GetResult[string](ctx, c, "order-1", 50*time.Millisecond)
	require.Error(t, err)
}

// finishInstance drives the pending orchestration task to completion directly
// against the backend.
func finishInstance(t *testing.T, b backend.Backend) {
	t.Helper()

	ctx := context.Background()

	task, err := b.GetOrchestrationTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)

	completed := history.NewPendingEvent(time.Now(), history.EventType_OrchestrationCompleted, &history.OrchestrationCompletedAttributes{
		Result: []byte(`"done"`),
	})

	executed := append(task.NewEvents, completed)
	for i, event := range executed {
		event.SequenceID = task.LastSequenceID + int64(i) + 1
	}

	require.NoError(t, b.CompleteOrchestrationTask(ctx, task, core.InstanceStateCompleted, executed, nil))
}
