package activity

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/corvid-labs/durable/backend"
	"github.com/corvid-labs/durable/backend/converter"
	"github.com/corvid-labs/durable/backend/history"
	"github.com/corvid-labs/durable/core"
	"github.com/corvid-labs/durable/internal/args"
	"github.com/corvid-labs/durable/internal/orcherrors"
	"github.com/corvid-labs/durable/registry"
	"github.com/corvid-labs/durable/retry"
)

// fastPolicy retries immediately so tests do not wait on real backoff.
var fastPolicy = retry.Policy{
	MaxAttempts: 3,
	Backoff:     retry.Backoff{Kind: retry.BackoffFixed, Base: time.Millisecond},
}

func newTestActivityExecutor(t *testing.T, r *registry.Registry) *Executor {
	t.Helper()

	return NewExecutor(r, slog.Default(), converter.DefaultConverter, clock.New())
}

func activityTask(t *testing.T, name string, policy retry.Policy, timeout time.Duration, inputs ...any) *backend.ActivityTask {
	t.Helper()

	payloads, err := args.ArgsToInputs(converter.DefaultConverter, inputs...)
	require.NoError(t, err)

	return &backend.ActivityTask{
		ID:       "task-1",
		Instance: core.NewInstance("instance", "execution"),
		Event: history.NewPendingEvent(time.Now(), history.EventType_ActivityScheduled, &history.ActivityScheduledAttributes{
			Name:    name,
			Inputs:  payloads,
			Retry:   policy,
			Timeout: timeout,
		}, history.ScheduleEventID(1)),
	}
}

func TestExecuteTask_Success(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.RegisterActivity(func(ctx context.Context, n int) (int, error) {
		return n * 2, nil
	}, registry.WithName("Double")))

	e := newTestActivityExecutor(t, r)

	result := e.ExecuteTask(context.Background(), activityTask(t, "Double", retry.None, 0, 21))
	require.Nil(t, result.Err)
	require.Equal(t, 1, result.Attempts)

	var out int
	require.NoError(t, converter.DefaultConverter.From(result.Payload, &out))
	require.Equal(t, 42, out)
}

func TestExecuteTask_RetriesUntilSuccess(t *testing.T) {
	defer goleak.VerifyNone(t)

	hits := 0
	r := registry.New()
	require.NoError(t, r.RegisterActivity(func(ctx context.Context) error {
		hits++
		if hits < 3 {
			return errors.New("transient")
		}
		return nil
	}, registry.WithName("Flaky")))

	e := newTestActivityExecutor(t, r)

	result := e.ExecuteTask(context.Background(), activityTask(t, "Flaky", fastPolicy, 0))
	require.Nil(t, result.Err)
	require.Equal(t, 3, result.Attempts)
	require.Equal(t, 3, hits)
}

func TestExecuteTask_ExhaustsAttempts(t *testing.T) {
	hits := 0
	r := registry.New()
	require.NoError(t, r.RegisterActivity(func(ctx context.Context) error {
		hits++
		return errors.New("transient")
	}, registry.WithName("AlwaysFails")))

	e := newTestActivityExecutor(t, r)

	result := e.ExecuteTask(context.Background(), activityTask(t, "AlwaysFails", fastPolicy, 0))
	require.NotNil(t, result.Err)
	require.Equal(t, 3, result.Attempts)
	require.Equal(t, 3, hits)
	require.Equal(t, "transient", result.Err.Message)
}

type declinedError struct{}

func (declinedError) Error() string { return "payment declined" }

func TestExecuteTask_NonRetryableErrorType(t *testing.T) {
	hits := 0
	r := registry.New()
	require.NoError(t, r.RegisterActivity(func(ctx context.Context) error {
		hits++
		return declinedError{}
	}, registry.WithName("Declined")))

	e := newTestActivityExecutor(t, r)

	policy := fastPolicy
	policy.NonRetryable = []string{"declinedError"}

	result := e.ExecuteTask(context.Background(), activityTask(t, "Declined", policy, 0))
	require.NotNil(t, result.Err)
	require.Equal(t, 1, result.Attempts)
	require.Equal(t, 1, hits)
}

func TestExecuteTask_PanicIsPermanent(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.RegisterActivity(func(ctx context.Context) error {
		panic("unreachable branch")
	}, registry.WithName("Panics")))

	e := newTestActivityExecutor(t, r)

	result := e.ExecuteTask(context.Background(), activityTask(t, "Panics", fastPolicy, 0))
	require.NotNil(t, result.Err)
	require.Equal(t, 1, result.Attempts)
	require.True(t, result.Err.Permanent)
	require.Contains(t, result.Err.Message, "panic: unreachable branch")
}

func TestExecuteTask_UnregisteredActivity(t *testing.T) {
	e := newTestActivityExecutor(t, registry.New())

	result := e.ExecuteTask(context.Background(), activityTask(t, "Missing", fastPolicy, 0))
	require.NotNil(t, result.Err)
	require.True(t, result.Err.Permanent)
	require.Equal(t, 1, result.Attempts)
}

func TestExecuteTask_AttemptTimeout(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.RegisterActivity(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, registry.WithName("Slow")))

	e := newTestActivityExecutor(t, r)

	policy := retry.Policy{
		MaxAttempts: 2,
		Backoff:     retry.Backoff{Kind: retry.BackoffFixed, Base: time.Millisecond},
	}

	result := e.ExecuteTask(context.Background(), activityTask(t, "Slow", policy, 20*time.Millisecond))
	require.NotNil(t, result.Err)
	require.Equal(t, 2, result.Attempts)
	require.Contains(t, result.Err.Message, "timed out")
}

func TestExecuteTask_CanceledTask(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.RegisterActivity(func(ctx context.Context) error {
		return errors.New("transient")
	}, registry.WithName("Retrying")))

	e := newTestActivityExecutor(t, r)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The first attempt fails; the retry delay observes the canceled context
	result := e.ExecuteTask(ctx, activityTask(t, "Retrying", retry.Policy{
		MaxAttempts: 5,
		Backoff:     retry.Backoff{Kind: retry.BackoffFixed, Base: time.Hour},
	}, 0))
	require.NotNil(t, result.Err)
	require.Equal(t, 1, result.Attempts)
}

func TestNewResultEvent(t *testing.T) {
	now := time.Now()

	completed := NewResultEvent(now, 4, &Result{Payload: []byte(`42`), Attempts: 2})
	require.Equal(t, history.EventType_ActivityCompleted, completed.Type)
	require.Equal(t, int64(4), completed.ScheduleEventID)
	attr := completed.Attributes.(*history.ActivityCompletedAttributes)
	require.Equal(t, 2, attr.Attempts)

	failed := NewResultEvent(now, 4, &Result{Attempts: 3, Err: orcherrors.FromError(errors.New("boom"))})
	require.Equal(t, history.EventType_ActivityFailed, failed.Type)
	require.Equal(t, int64(4), failed.ScheduleEventID)
	fattr := failed.Attributes.(*history.ActivityFailedAttributes)
	require.Equal(t, 3, fattr.Attempts)
	require.Equal(t, "boom", fattr.Error.Message)
}
