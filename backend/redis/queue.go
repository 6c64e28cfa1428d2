package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// taskQueue is a reliable task queue on a Redis stream with a consumer
// group. Claimed but unacknowledged entries are recovered via XAUTOCLAIM
// once their lock times out.
type taskQueue[T any] struct {
	tasktype   string
	rdb        redis.UniversalClient
	groupName  string
	workerName string
	streamName string
}

type taskItem[T any] struct {
	// TaskID is the stream message ID, used for extending and completing.
	TaskID string

	// ID identifies the unit of work, e.g. the instance ID.
	ID string

	Data *T
}

func newTaskQueue[T any](ctx context.Context, rdb redis.UniversalClient, keyPrefix, tasktype string) (*taskQueue[T], error) {
	tq := &taskQueue[T]{
		tasktype:   tasktype,
		rdb:        rdb,
		groupName:  "task-workers",
		workerName: uuid.NewString(),
		streamName: keyPrefix + "task-stream:" + tasktype,
	}

	_, err := rdb.XGroupCreateMkStream(ctx, tq.streamName, tq.groupName, "0").Result()
	if err != nil {
		// No upsert for consumer groups, tolerate the duplicate
		if err.Error() != "BUSYGROUP Consumer Group name already exists" {
			return nil, fmt.Errorf("creating task queue: %w", err)
		}
	}

	return tq, nil
}

func (q *taskQueue[T]) Enqueue(ctx context.Context, p redis.Pipeliner, id string, data *T) error {
	values := map[string]any{"id": id}

	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshaling task data: %w", err)
		}

		values["data"] = string(b)
	}

	p.XAdd(ctx, &redis.XAddArgs{
		Stream: q.streamName,
		Values: values,
	})

	return nil
}

func (q *taskQueue[T]) Dequeue(ctx context.Context, lockTimeout, blockTimeout time.Duration) (*taskItem[T], error) {
	// Recover abandoned tasks first
	task, err := q.recover(ctx, lockTimeout)
	if err != nil {
		return nil, fmt.Errorf("checking for abandoned tasks: %w", err)
	}

	if task != nil {
		return task, nil
	}

	ids, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Streams:  []string{q.streamName, ">"},
		Group:    q.groupName,
		Consumer: q.workerName,
		Count:    1,
		Block:    blockTimeout,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("dequeueing task: %w", err)
	}

	if len(ids) == 0 || len(ids[0].Messages) == 0 {
		return nil, nil
	}

	return msgToTaskItem[T](&ids[0].Messages[0])
}

func (q *taskQueue[T]) Extend(ctx context.Context, taskID string) error {
	// Claiming resets the idle timer, which is what the lock timeout is
	// measured against.
	_, err := q.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   q.streamName,
		Group:    q.groupName,
		Consumer: q.workerName,
		Messages: []string{taskID},
		MinIdle:  0,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("extending task lease: %w", err)
	}

	return nil
}

func (q *taskQueue[T]) Complete(ctx context.Context, p redis.Pipeliner, taskID string) {
	// Deleting instead of acknowledging keeps the stream small
	p.XDel(ctx, q.streamName, taskID)
}

func (q *taskQueue[T]) Len(ctx context.Context) (int64, error) {
	return q.rdb.XLen(ctx, q.streamName).Result()
}

func (q *taskQueue[T]) recover(ctx context.Context, idleTimeout time.Duration) (*taskItem[T], error) {
	msgs, _, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.streamName,
		Group:    q.groupName,
		Consumer: q.workerName,
		MinIdle:  idleTimeout,
		Count:    1,
		Start:    "0",
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("recovering tasks: %w", err)
	}

	if len(msgs) == 0 {
		return nil, nil
	}

	return msgToTaskItem[T](&msgs[0])
}

func msgToTaskItem[T any](msg *redis.XMessage) (*taskItem[T], error) {
	id, _ := msg.Values["id"].(string)

	var data *T
	if raw, ok := msg.Values["data"].(string); ok && raw != "" {
		data = new(T)
		if err := json.Unmarshal([]byte(raw), data); err != nil {
			return nil, fmt.Errorf("unmarshaling task data: %w", err)
		}
	}

	return &taskItem[T]{
		TaskID: msg.ID,
		ID:     id,
		Data:   data,
	}, nil
}
