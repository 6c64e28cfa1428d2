// Package redis provides a backend on a Redis server or cluster. Task
// distribution uses streams with consumer groups; history and the instance
// projection live in plain keys.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"github.com/corvid-labs/durable/backend"
	"github.com/corvid-labs/durable/backend/converter"
	"github.com/corvid-labs/durable/backend/history"
	"github.com/corvid-labs/durable/backend/metrics"
	"github.com/corvid-labs/durable/core"
	"github.com/corvid-labs/durable/internal/metrickeys"
)

type RedisOptions struct {
	*backend.Options

	// KeyPrefix is prepended to every key the backend creates.
	KeyPrefix string

	// BlockTimeout bounds how long a dequeue blocks waiting for a task.
	BlockTimeout time.Duration
}

type RedisBackendOption func(*RedisOptions)

func WithKeyPrefix(prefix string) RedisBackendOption {
	return func(o *RedisOptions) {
		o.KeyPrefix = prefix
	}
}

func WithBlockTimeout(timeout time.Duration) RedisBackendOption {
	return func(o *RedisOptions) {
		o.BlockTimeout = timeout
	}
}

func WithBackendOptions(opts ...backend.BackendOption) RedisBackendOption {
	return func(o *RedisOptions) {
		for _, opt := range opts {
			opt(o.Options)
		}
	}
}

type activityData struct {
	InstanceID  string         `json:"instance_id"`
	ExecutionID string         `json:"execution_id"`
	Event       *history.Event `json:"event"`
}

type redisBackend struct {
	rdb     redis.UniversalClient
	options *RedisOptions

	orchestrationQueue *taskQueue[any]
	activityQueue      *taskQueue[activityData]
}

var _ backend.Backend = (*redisBackend)(nil)

func NewRedisBackend(client redis.UniversalClient, opts ...RedisBackendOption) (backend.Backend, error) {
	options := &RedisOptions{
		Options:      backend.ApplyOptions(),
		KeyPrefix:    "durable:",
		BlockTimeout: time.Second * 2,
	}

	for _, opt := range opts {
		opt(options)
	}

	ctx := context.Background()

	orchestrationQueue, err := newTaskQueue[any](ctx, client, options.KeyPrefix, "orchestrations")
	if err != nil {
		return nil, fmt.Errorf("creating orchestration task queue: %w", err)
	}

	activityQueue, err := newTaskQueue[activityData](ctx, client, options.KeyPrefix, "activities")
	if err != nil {
		return nil, fmt.Errorf("creating activity task queue: %w", err)
	}

	return &redisBackend{
		rdb:     client,
		options: options,

		orchestrationQueue: orchestrationQueue,
		activityQueue:      activityQueue,
	}, nil
}

func (rb *redisBackend) CreateInstance(ctx context.Context, instance *core.Instance, event *history.Event) error {
	attr := event.Attributes.(*history.OrchestrationStartedAttributes)

	snapshot := &backend.Snapshot{
		Instance:  instance,
		Name:      attr.Name,
		State:     core.InstanceStateRunning,
		CreatedAt: event.Timestamp,
	}

	b, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	key := instanceKey(rb.options.KeyPrefix, instance.InstanceID)

	created, err := rb.rdb.SetNX(ctx, key, string(b), 0).Result()
	if err != nil {
		return fmt.Errorf("creating instance: %w", err)
	}

	if !created {
		existing, err := rb.loadSnapshot(ctx, instance.InstanceID)
		if err != nil {
			return err
		}

		if !existing.State.Finished() {
			return backend.ErrInstanceAlreadyExists
		}

		// Reuse of a finished instance ID replaces the old run
		if _, err := rb.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx,
				historyKey(rb.options.KeyPrefix, instance.InstanceID),
				pendingEventsKey(rb.options.KeyPrefix, instance.InstanceID),
			)
			p.Set(ctx, key, string(b), 0)
			return nil
		}); err != nil {
			return fmt.Errorf("replacing finished instance: %w", err)
		}
	}

	_, err = rb.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if err := rb.pushPendingEvent(ctx, p, instance.InstanceID, event); err != nil {
			return err
		}

		p.SAdd(ctx, instancesActiveKey(rb.options.KeyPrefix), instance.InstanceID)

		return nil
	})
	if err != nil {
		return fmt.Errorf("queueing initial event: %w", err)
	}

	return nil
}

func (rb *redisBackend) loadSnapshot(ctx context.Context, instanceID string) (*backend.Snapshot, error) {
	b, err := rb.rdb.Get(ctx, instanceKey(rb.options.KeyPrefix, instanceID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, backend.ErrInstanceNotFound
		}

		return nil, fmt.Errorf("reading instance: %w", err)
	}

	var snapshot backend.Snapshot
	if err := json.Unmarshal([]byte(b), &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot: %w", err)
	}

	return &snapshot, nil
}

func (rb *redisBackend) storeSnapshot(ctx context.Context, p redis.Pipeliner, snapshot *backend.Snapshot) error {
	b, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	p.Set(ctx, instanceKey(rb.options.KeyPrefix, snapshot.Instance.InstanceID), string(b), 0)

	return nil
}

// pushPendingEvent appends the event to the instance's pending list and
// enqueues an orchestration task to pick it up.
func (rb *redisBackend) pushPendingEvent(ctx context.Context, p redis.Pipeliner, instanceID string, event *history.Event) error {
	b, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	p.RPush(ctx, pendingEventsKey(rb.options.KeyPrefix, instanceID), string(b))

	return rb.orchestrationQueue.Enqueue(ctx, p, instanceID, nil)
}

func (rb *redisBackend) GetInstanceSnapshot(ctx context.Context, instanceID string) (*backend.Snapshot, error) {
	return rb.loadSnapshot(ctx, instanceID)
}

func (rb *redisBackend) GetInstanceHistory(ctx context.Context, instance *core.Instance, afterSequenceID *int64) ([]*history.Event, error) {
	raw, err := rb.rdb.LRange(ctx, historyKey(rb.options.KeyPrefix, instance.InstanceID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}

	var events []*history.Event

	for _, b := range raw {
		var event history.Event
		if err := json.Unmarshal([]byte(b), &event); err != nil {
			return nil, fmt.Errorf("unmarshaling history event: %w", err)
		}

		if afterSequenceID != nil && event.SequenceID <= *afterSequenceID {
			continue
		}

		events = append(events, &event)
	}

	return events, nil
}

func (rb *redisBackend) AddInstanceEvent(ctx context.Context, instanceID string, event *history.Event) error {
	if _, err := rb.loadSnapshot(ctx, instanceID); err != nil {
		return err
	}

	_, err := rb.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		return rb.pushPendingEvent(ctx, p, instanceID, event)
	})
	if err != nil {
		return fmt.Errorf("adding instance event: %w", err)
	}

	return nil
}

func (rb *redisBackend) GetOrchestrationTask(ctx context.Context) (*backend.OrchestrationTask, error) {
	item, err := rb.orchestrationQueue.Dequeue(ctx, rb.options.OrchestrationLockTimeout, rb.options.BlockTimeout)
	if err != nil {
		return nil, err
	}

	if item == nil {
		return nil, nil
	}

	// The queue can hold multiple entries for the same instance; the stream
	// message doubles as the instance lock, so a second claim waits for the
	// first to be acknowledged or to time out.
	lockKey := instanceLockKey(rb.options.KeyPrefix, item.ID)
	locked, err := rb.rdb.SetNX(ctx, lockKey, item.TaskID, rb.options.OrchestrationLockTimeout).Result()
	if err != nil {
		return nil, fmt.Errorf("locking instance: %w", err)
	}

	if !locked {
		// Another worker is processing this instance; its queue entry stays
		// pending and is recovered once abandoned.
		return nil, nil
	}

	snapshot, err := rb.loadSnapshot(ctx, item.ID)
	if err != nil {
		return nil, err
	}

	raw, err := rb.rdb.LRange(ctx, pendingEventsKey(rb.options.KeyPrefix, item.ID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading pending events: %w", err)
	}

	if len(raw) == 0 {
		// A previous task already consumed these events
		_, err := rb.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			rb.orchestrationQueue.Complete(ctx, p, item.TaskID)
			p.Del(ctx, lockKey)
			return nil
		})
		return nil, err
	}

	newEvents := make([]*history.Event, 0, len(raw))
	for _, b := range raw {
		var event history.Event
		if err := json.Unmarshal([]byte(b), &event); err != nil {
			return nil, fmt.Errorf("unmarshaling pending event: %w", err)
		}

		newEvents = append(newEvents, &event)
	}

	return &backend.OrchestrationTask{
		ID:             item.TaskID,
		Instance:       snapshot.Instance,
		State:          snapshot.State,
		LastSequenceID: snapshot.LastSequenceID,
		NewEvents:      newEvents,
	}, nil
}

func (rb *redisBackend) ExtendOrchestrationTask(ctx context.Context, task *backend.OrchestrationTask) error {
	if err := rb.orchestrationQueue.Extend(ctx, task.ID); err != nil {
		return err
	}

	lockKey := instanceLockKey(rb.options.KeyPrefix, task.Instance.InstanceID)
	if err := rb.rdb.Expire(ctx, lockKey, rb.options.OrchestrationLockTimeout).Err(); err != nil {
		return fmt.Errorf("extending instance lock: %w", err)
	}

	return nil
}

func (rb *redisBackend) CompleteOrchestrationTask(
	ctx context.Context, task *backend.OrchestrationTask, state core.InstanceState,
	executedEvents, activityEvents []*history.Event,
) error {
	lockKey := instanceLockKey(rb.options.KeyPrefix, task.Instance.InstanceID)

	holder, err := rb.rdb.Get(ctx, lockKey).Result()
	if err != nil || holder != task.ID {
		return backend.ErrTaskNotLocked
	}

	snapshot, err := rb.loadSnapshot(ctx, task.Instance.InstanceID)
	if err != nil {
		return err
	}

	snapshot.ApplyEvents(state, executedEvents)

	_, err = rb.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, event := range executedEvents {
			b, err := json.Marshal(event)
			if err != nil {
				return fmt.Errorf("marshaling history event: %w", err)
			}

			p.RPush(ctx, historyKey(rb.options.KeyPrefix, task.Instance.InstanceID), string(b))
		}

		// Drop the consumed pending events; events that arrived since the
		// task was claimed stay for the next one.
		p.LPopCount(ctx, pendingEventsKey(rb.options.KeyPrefix, task.Instance.InstanceID), len(task.NewEvents))

		if err := rb.storeSnapshot(ctx, p, snapshot); err != nil {
			return err
		}

		for _, event := range activityEvents {
			if err := rb.activityQueue.Enqueue(ctx, p, task.Instance.InstanceID, &activityData{
				InstanceID:  task.Instance.InstanceID,
				ExecutionID: task.Instance.ExecutionID,
				Event:       event,
			}); err != nil {
				return err
			}
		}

		if snapshot.State.Finished() {
			p.SRem(ctx, instancesActiveKey(rb.options.KeyPrefix), task.Instance.InstanceID)
		}

		rb.orchestrationQueue.Complete(ctx, p, task.ID)
		p.Del(ctx, lockKey)

		return nil
	})
	if err != nil {
		return fmt.Errorf("completing orchestration task: %w", err)
	}

	return nil
}

func (rb *redisBackend) GetActivityTask(ctx context.Context) (*backend.ActivityTask, error) {
	item, err := rb.activityQueue.Dequeue(ctx, rb.options.ActivityLockTimeout, rb.options.BlockTimeout)
	if err != nil {
		return nil, err
	}

	if item == nil || item.Data == nil {
		return nil, nil
	}

	return &backend.ActivityTask{
		ID:       item.TaskID,
		Instance: core.NewInstance(item.Data.InstanceID, item.Data.ExecutionID),
		Event:    item.Data.Event,
	}, nil
}

func (rb *redisBackend) ExtendActivityTask(ctx context.Context, task *backend.ActivityTask) error {
	return rb.activityQueue.Extend(ctx, task.ID)
}

func (rb *redisBackend) CompleteActivityTask(ctx context.Context, task *backend.ActivityTask, result *history.Event) error {
	_, err := rb.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if err := rb.pushPendingEvent(ctx, p, task.Instance.InstanceID, result); err != nil {
			return err
		}

		rb.activityQueue.Complete(ctx, p, task.ID)

		return nil
	})
	if err != nil {
		return fmt.Errorf("completing activity task: %w", err)
	}

	return nil
}

func (rb *redisBackend) GetStats(ctx context.Context) (*backend.Stats, error) {
	active, err := rb.rdb.SCard(ctx, instancesActiveKey(rb.options.KeyPrefix)).Result()
	if err != nil {
		return nil, fmt.Errorf("counting active instances: %w", err)
	}

	pendingOrchestrations, err := rb.orchestrationQueue.Len(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting orchestration tasks: %w", err)
	}

	pendingActivities, err := rb.activityQueue.Len(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting activity tasks: %w", err)
	}

	return &backend.Stats{
		ActiveInstances:           active,
		PendingOrchestrationTasks: pendingOrchestrations,
		PendingActivities:         pendingActivities,
	}, nil
}

func (rb *redisBackend) Logger() *slog.Logger {
	return rb.options.Logger
}

func (rb *redisBackend) Tracer() trace.Tracer {
	return rb.options.TracerProvider.Tracer(backend.TracerName)
}

func (rb *redisBackend) Metrics() metrics.Client {
	return rb.options.Metrics.WithTags(metrics.Tags{metrickeys.Backend: "redis"})
}

func (rb *redisBackend) Converter() converter.Converter {
	return rb.options.Converter
}

func (rb *redisBackend) Options() *backend.Options {
	return rb.options.Options
}

func (rb *redisBackend) Close() error {
	return rb.rdb.Close()
}
