package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyTaskQueue  = "relay:queue"
	keyTaskRecord = "relay:task:"

	// Records of tasks lost to a crash expire on their own.
	taskRecordTTL = 24 * time.Hour

	defaultBlockTimeout = 5 * time.Second
	defaultMemoryDepth  = 256
)

var (
	ErrQueueEmpty   = errors.New("queue is empty")
	ErrQueueFull    = errors.New("queue is full")
	ErrTaskNotFound = errors.New("task not found")
)

// Queue holds tasks until a worker takes them.
type Queue interface {
	Enqueue(ctx context.Context, t *Task) error
	// Dequeue blocks up to timeout and returns ErrQueueEmpty when nothing
	// arrived.
	Dequeue(ctx context.Context, timeout time.Duration) (*Task, error)
	// Complete drops the task's record once it has been processed.
	Complete(ctx context.Context, taskID string) error
	Len(ctx context.Context) (int64, error)
}

// MemoryQueue is a bounded in-process queue.
type MemoryQueue struct {
	ch chan *Task
}

// NewMemoryQueue returns a queue holding up to depth tasks.
func NewMemoryQueue(depth int) *MemoryQueue {
	if depth <= 0 {
		depth = defaultMemoryDepth
	}
	return &MemoryQueue{ch: make(chan *Task, depth)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, t *Task) error {
	select {
	case q.ch <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, error) {
	if timeout <= 0 {
		timeout = defaultBlockTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case t := <-q.ch:
		return t, nil
	case <-timer.C:
		return nil, ErrQueueEmpty
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *MemoryQueue) Complete(ctx context.Context, taskID string) error { return nil }

func (q *MemoryQueue) Len(ctx context.Context) (int64, error) {
	return int64(len(q.ch)), nil
}

// RedisQueue keeps task ids in a Redis list and each task's record under
// its own key, so tasks survive a restart of the process that queued them.
type RedisQueue struct {
	client *redis.Client
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) Enqueue(ctx context.Context, t *Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	if err := q.client.Set(ctx, keyTaskRecord+t.ID, data, taskRecordTTL).Err(); err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	if err := q.client.LPush(ctx, keyTaskQueue, t.ID).Err(); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, error) {
	if timeout <= 0 {
		timeout = defaultBlockTimeout
	}

	result, err := q.client.BRPop(ctx, timeout, keyTaskQueue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrQueueEmpty
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to dequeue task: %w", err)
	}
	if len(result) < 2 {
		return nil, ErrQueueEmpty
	}
	return q.Get(ctx, result[1])
}

// Get loads a task record by id.
func (q *RedisQueue) Get(ctx context.Context, taskID string) (*Task, error) {
	data, err := q.client.Get(ctx, keyTaskRecord+taskID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	var t Task
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &t, nil
}

func (q *RedisQueue) Complete(ctx context.Context, taskID string) error {
	return q.client.Del(ctx, keyTaskRecord+taskID).Err()
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, keyTaskQueue).Result()
}
