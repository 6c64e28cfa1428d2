package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/corvid-labs/durable/backend/memory"
	"github.com/corvid-labs/durable/client"
	"github.com/corvid-labs/durable/core"
	"github.com/corvid-labs/durable/orchestration"
	"github.com/corvid-labs/durable/registry"
	"github.com/corvid-labs/durable/retry"
)

var testOptions = Options{
	OrchestrationPollers:           1,
	OrchestrationHeartbeatInterval: 0,
	OrchestrationPollingInterval:   5 * time.Millisecond,
	ExecutorCacheSize:              8,
	ExecutorCacheTTL:               time.Minute,
	ActivityPollers:                1,
	ActivityHeartbeatInterval:      0,
	ActivityPollingInterval:        5 * time.Millisecond,
}

// startWorker runs the worker and returns a stop function that drains all
// task goroutines, so goleak stays quiet.
func startWorker(t *testing.T, w *Worker) func() {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))

	return func() {
		cancel()
		require.NoError(t, w.WaitForCompletion())
	}
}

func TestWorker_OrderLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := memory.NewMemoryBackend()
	w := New(b, &testOptions)

	reserve := func(ctx context.Context, item string) (string, error) {
		return "reserved:" + item, nil
	}
	charge := func(ctx context.Context, amount float64) (float64, error) {
		return amount, nil
	}

	processOrder := func(ctx orchestration.Context, item string) (string, error) {
		r, err := orchestration.ExecuteActivity[string](ctx, orchestration.DefaultActivityOptions, "reserve", item)
		if err != nil {
			return "", err
		}

		if _, err := orchestration.ExecuteActivity[float64](ctx, orchestration.DefaultActivityOptions, "charge", 99.5); err != nil {
			return "", err
		}

		return r, nil
	}

	require.NoError(t, w.RegisterOrchestration(processOrder, registry.WithName("ProcessOrder")))
	require.NoError(t, w.RegisterActivity(reserve, registry.WithName("reserve")))
	require.NoError(t, w.RegisterActivity(charge, registry.WithName("charge")))

	stop := startWorker(t, w)
	defer stop()

	c := client.New(b)

	instance, err := c.StartOrchestration(context.Background(), client.StartOptions{}, "ProcessOrder", "Car")
	require.NoError(t, err)

	result, err := client.GetResult[string](context.Background(), c, instance.InstanceID, 10*time.Second)
	require.NoError(t, err)
	require.Equal(t, "reserved:Car", result)

	snapshot, err := c.GetInstance(context.Background(), instance.InstanceID)
	require.NoError(t, err)
	require.Equal(t, core.InstanceStateCompleted, snapshot.State)
	require.NotNil(t, snapshot.CompletedAt)
}

func TestWorker_Terminate(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := memory.NewMemoryBackend()
	w := New(b, &testOptions)

	release := make(chan struct{})

	gated := func(ctx context.Context) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	o := func(ctx orchestration.Context) error {
		_, err := orchestration.ExecuteActivity[any](ctx, orchestration.DefaultActivityOptions, "gated")
		return err
	}

	require.NoError(t, w.RegisterOrchestration(o, registry.WithName("Gated")))
	require.NoError(t, w.RegisterActivity(gated, registry.WithName("gated")))

	stop := startWorker(t, w)
	defer stop()
	defer close(release)

	c := client.New(b)
	ctx := context.Background()

	instance, err := c.StartOrchestration(ctx, client.StartOptions{}, "Gated")
	require.NoError(t, err)

	// The instance is blocked on the gated activity; termination still goes
	// through.
	require.NoError(t, c.Terminate(ctx, instance.InstanceID, "operator request"))

	_, err = client.GetResult[any](ctx, c, instance.InstanceID, 10*time.Second)
	require.ErrorIs(t, err, client.ErrInstanceTerminated)

	snapshot, err := c.GetInstance(ctx, instance.InstanceID)
	require.NoError(t, err)
	require.Equal(t, core.InstanceStateTerminated, snapshot.State)
	require.Equal(t, "operator request", snapshot.Error.Message)
}

func TestWorker_SuspendResume(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := memory.NewMemoryBackend()
	w := New(b, &testOptions)

	release := make(chan struct{})

	gated := func(ctx context.Context) (int, error) {
		select {
		case <-release:
			return 42, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	o := func(ctx orchestration.Context) (int, error) {
		return orchestration.ExecuteActivity[int](ctx, orchestration.DefaultActivityOptions, "gated")
	}

	require.NoError(t, w.RegisterOrchestration(o, registry.WithName("Gated")))
	require.NoError(t, w.RegisterActivity(gated, registry.WithName("gated")))

	stop := startWorker(t, w)
	defer stop()

	c := client.New(b)
	ctx := context.Background()

	instance, err := c.StartOrchestration(ctx, client.StartOptions{}, "Gated")
	require.NoError(t, err)

	require.NoError(t, c.Suspend(ctx, instance.InstanceID))

	waitForState(t, c, instance.InstanceID, core.InstanceStateSuspended)

	// The activity result arrives while suspended; it is recorded, but the
	// instance does not progress.
	close(release)
	time.Sleep(50 * time.Millisecond)

	snapshot, err := c.GetInstance(ctx, instance.InstanceID)
	require.NoError(t, err)
	require.Equal(t, core.InstanceStateSuspended, snapshot.State)

	require.NoError(t, c.Resume(ctx, instance.InstanceID))

	result, err := client.GetResult[int](ctx, c, instance.InstanceID, 10*time.Second)
	require.NoError(t, err)
	require.Equal(t, 42, result)
}

func TestWorker_ActivityFailurePropagates(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := memory.NewMemoryBackend()
	w := New(b, &testOptions)

	failing := func(ctx context.Context) error {
		return &paymentDeclinedError{}
	}

	o := func(ctx orchestration.Context) error {
		_, err := orchestration.ExecuteActivity[any](ctx, orchestration.ActivityOptions{
			Retry: retry.None,
		}, "failing")
		return err
	}

	require.NoError(t, w.RegisterOrchestration(o, registry.WithName("Failing")))
	require.NoError(t, w.RegisterActivity(failing, registry.WithName("failing")))

	stop := startWorker(t, w)
	defer stop()

	c := client.New(b)
	ctx := context.Background()

	instance, err := c.StartOrchestration(ctx, client.StartOptions{}, "Failing")
	require.NoError(t, err)

	_, err = client.GetResult[any](ctx, c, instance.InstanceID, 10*time.Second)
	require.Error(t, err)
	require.Contains(t, err.Error(), "payment declined")

	snapshot, err := c.GetInstance(ctx, instance.InstanceID)
	require.NoError(t, err)
	require.Equal(t, core.InstanceStateFailed, snapshot.State)
}

type paymentDeclinedError struct{}

func (*paymentDeclinedError) Error() string { return "payment declined" }

func waitForState(t *testing.T, c *client.Client, instanceID string, state core.InstanceState) {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		snapshot, err := c.GetInstance(context.Background(), instanceID)
		require.NoError(t, err)

		if snapshot.State == state {
			return
		}

		time.Sleep(5 * time.Millisecond)
	}

	t.Fatalf("instance %s never reached state %s", instanceID, state)
}
