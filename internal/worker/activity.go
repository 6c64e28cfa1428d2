package worker

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"

	"github.com/corvid-labs/durable/backend"
	"github.com/corvid-labs/durable/backend/metrics"
	"github.com/corvid-labs/durable/internal/activity"
	"github.com/corvid-labs/durable/internal/metrickeys"
	"github.com/corvid-labs/durable/registry"
)

type activityTaskWorker struct {
	backend  backend.Backend
	executor *activity.Executor
	clock    clock.Clock
}

func NewActivityWorker(
	b backend.Backend, reg *registry.Registry, cl clock.Clock, options Options,
) *Worker[backend.ActivityTask, activity.Result] {
	tw := &activityTaskWorker{
		backend:  b,
		executor: activity.NewExecutor(reg, b.Logger(), b.Converter(), cl),
		clock:    cl,
	}

	return NewWorker[backend.ActivityTask, activity.Result](b, tw, &options)
}

func (atw *activityTaskWorker) Get(ctx context.Context) (*backend.ActivityTask, error) {
	return atw.backend.GetActivityTask(ctx)
}

func (atw *activityTaskWorker) Extend(ctx context.Context, t *backend.ActivityTask) error {
	return atw.backend.ExtendActivityTask(ctx, t)
}

func (atw *activityTaskWorker) Execute(ctx context.Context, t *backend.ActivityTask) (*activity.Result, error) {
	result := atw.executor.ExecuteTask(ctx, t)

	atw.backend.Metrics().Distribution(metrickeys.ActivityAttempts, metrics.Tags{}, float64(result.Attempts))

	return result, nil
}

func (atw *activityTaskWorker) Complete(ctx context.Context, result *activity.Result, t *backend.ActivityTask) error {
	event := activity.NewResultEvent(atw.clock.Now(), t.Event.ScheduleEventID, result)

	if err := atw.backend.CompleteActivityTask(ctx, t, event); err != nil {
		return fmt.Errorf("completing activity task: %w", err)
	}

	return nil
}
