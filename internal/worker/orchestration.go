package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jellydator/ttlcache/v3"

	"github.com/corvid-labs/durable/backend"
	"github.com/corvid-labs/durable/backend/metrics"
	"github.com/corvid-labs/durable/internal/metrickeys"
	"github.com/corvid-labs/durable/orchestration/executor"
	"github.com/corvid-labs/durable/registry"
)

type OrchestrationWorkerOptions struct {
	Options

	// ExecutorCacheSize bounds how many instances keep a cached executor,
	// and with it the instance's history, in memory.
	ExecutorCacheSize int

	// ExecutorCacheTTL evicts executors for instances that received no task
	// for this long.
	ExecutorCacheTTL time.Duration
}

type orchestrationTaskWorker struct {
	backend  backend.Backend
	registry *registry.Registry
	clock    clock.Clock

	cache *ttlcache.Cache[string, *executor.Executor]
}

func NewOrchestrationWorker(
	b backend.Backend, reg *registry.Registry, cl clock.Clock, options OrchestrationWorkerOptions,
) *Worker[backend.OrchestrationTask, executor.ExecutionResult] {
	cache := ttlcache.New(
		ttlcache.WithCapacity[string, *executor.Executor](uint64(options.ExecutorCacheSize)),
		ttlcache.WithTTL[string, *executor.Executor](options.ExecutorCacheTTL),
	)

	cache.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, _ *ttlcache.Item[string, *executor.Executor]) {
		b.Metrics().Counter(metrickeys.HistoryCacheEviction, metrics.Tags{
			metrickeys.EvictionReason: fmt.Sprintf("%d", reason),
		}, 1)
	})

	tw := &orchestrationTaskWorker{
		backend:  b,
		registry: reg,
		clock:    cl,
		cache:    cache,
	}

	return NewWorker[backend.OrchestrationTask, executor.ExecutionResult](b, tw, &options.Options)
}

func (otw *orchestrationTaskWorker) Get(ctx context.Context) (*backend.OrchestrationTask, error) {
	return otw.backend.GetOrchestrationTask(ctx)
}

func (otw *orchestrationTaskWorker) Extend(ctx context.Context, t *backend.OrchestrationTask) error {
	return otw.backend.ExtendOrchestrationTask(ctx, t)
}

func (otw *orchestrationTaskWorker) Execute(ctx context.Context, t *backend.OrchestrationTask) (*executor.ExecutionResult, error) {
	e := otw.executorFor(t)

	result, err := e.ExecuteTask(ctx, t)
	if err != nil {
		// The cached history can no longer be trusted; drop it so the next
		// task rebuilds from the store.
		otw.cache.Delete(t.Instance.InstanceID)
		return nil, fmt.Errorf("executing orchestration task: %w", err)
	}

	return result, nil
}

func (otw *orchestrationTaskWorker) Complete(ctx context.Context, result *executor.ExecutionResult, t *backend.OrchestrationTask) error {
	if err := otw.backend.CompleteOrchestrationTask(ctx, t, result.State, result.Executed, result.ActivityEvents); err != nil {
		otw.cache.Delete(t.Instance.InstanceID)
		return fmt.Errorf("completing orchestration task: %w", err)
	}

	if result.State.Finished() {
		otw.cache.Delete(t.Instance.InstanceID)

		otw.backend.Metrics().Counter(metrickeys.InstanceFinished, metrics.Tags{}, 1)
	}

	return nil
}

// executorFor returns the cached executor for the task's instance, creating
// one when the instance is cold. Tasks for the same instance always run
// under the backend's instance lock, so the cache needs no extra locking
// beyond ttlcache's own.
func (otw *orchestrationTaskWorker) executorFor(t *backend.OrchestrationTask) *executor.Executor {
	if item := otw.cache.Get(t.Instance.InstanceID); item != nil {
		return item.Value()
	}

	e := executor.NewExecutor(
		otw.registry,
		otw.backend,
		t.Instance,
		otw.backend.Logger(),
		otw.backend.Metrics(),
		otw.backend.Converter(),
		otw.clock,
	)

	otw.cache.Set(t.Instance.InstanceID, e, ttlcache.DefaultTTL)

	return e
}
