package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	apperrors "github.com/debridrelay/debridrelay/internal/errors"
	"github.com/debridrelay/debridrelay/internal/logger"
	"github.com/debridrelay/debridrelay/internal/metrics"
)

const DefaultWorkerCount = 3

// Handler runs one task. It owns all user-visible reporting; the pool only
// logs the returned error.
type Handler func(ctx context.Context, t *Task) error

// WorkerPool runs queued tasks, each exactly once. A failed task is
// reported by its handler and not retried.
type WorkerPool struct {
	queue       Queue
	workerCount int
	taskTimeout time.Duration
	handler     Handler
	log         *logger.Logger

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	mu      sync.RWMutex
	running bool
}

// WorkerPoolConfig holds configuration for the worker pool
type WorkerPoolConfig struct {
	WorkerCount int
	// TaskTimeout bounds one task end to end; 0 means no limit.
	TaskTimeout time.Duration
}

func NewWorkerPool(queue Queue, handler Handler, config *WorkerPoolConfig) *WorkerPool {
	if config == nil {
		config = &WorkerPoolConfig{}
	}
	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount
	}
	return &WorkerPool{
		queue:       queue,
		workerCount: workerCount,
		taskTimeout: config.TaskTimeout,
		handler:     handler,
		log:         logger.Default().WithComponent("pipeline"),
	}
}

// Submit queues t.
func (wp *WorkerPool) Submit(ctx context.Context, t *Task) error {
	if err := wp.queue.Enqueue(ctx, t); err != nil {
		return apperrors.InternalError("could not queue task").WithCause(err)
	}
	wp.log.Info(ctx, "task queued", map[string]interface{}{
		"task_id":   t.ID,
		"kind":      string(t.Kind),
		"remote_id": t.RemoteID,
	})
	wp.updateQueueLength(ctx)
	return nil
}

// Start launches the workers. Tasks run under ctx, so cancelling it
// cancels tasks in progress.
func (wp *WorkerPool) Start(ctx context.Context) {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.running {
		return
	}
	wp.running = true
	ctx, wp.cancel = context.WithCancel(ctx)

	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}

	wp.log.Info(ctx, "worker pool started", map[string]interface{}{"workers": wp.workerCount})
}

// Stop cancels running tasks and waits for the workers to return.
func (wp *WorkerPool) Stop(ctx context.Context) error {
	wp.mu.Lock()
	if !wp.running {
		wp.mu.Unlock()
		return nil
	}
	wp.running = false
	wp.cancel()
	wp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.log.Info(ctx, "worker pool stopped")
		return nil
	case <-ctx.Done():
		wp.log.Warn(ctx, "worker pool shutdown timed out")
		return ctx.Err()
	}
}

func (wp *WorkerPool) IsRunning() bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return wp.running
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()

	for ctx.Err() == nil {
		t, err := wp.queue.Dequeue(ctx, defaultBlockTimeout)
		if err != nil {
			if errors.Is(err, ErrQueueEmpty) || ctx.Err() != nil {
				continue
			}
			wp.log.Warn(ctx, "dequeue failed", map[string]interface{}{
				"worker": id,
				"error":  err.Error(),
			})
			// Back off so a broken queue does not spin.
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		wp.updateQueueLength(ctx)
		wp.process(ctx, id, t)
	}
}

// process runs one task. A panicking handler is logged and the worker
// carries on with the next task.
func (wp *WorkerPool) process(ctx context.Context, workerID int, t *Task) {
	taskCtx := apperrors.WithRequestID(ctx, t.ID)
	if wp.taskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(taskCtx, wp.taskTimeout)
		defer cancel()
	}

	defer func() {
		// Completion uses the parent context's values but not its
		// cancellation, so records are dropped during shutdown too.
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := wp.queue.Complete(cctx, t.ID); err != nil {
			wp.log.Warn(taskCtx, "task record cleanup failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	defer func() {
		if rec := recover(); rec != nil {
			wp.log.Error(taskCtx, "task panicked", fmt.Errorf("%v", rec), map[string]interface{}{
				"worker": workerID,
				"stack":  string(debug.Stack()),
			})
		}
	}()

	start := time.Now()
	wp.log.Info(taskCtx, "task started", map[string]interface{}{
		"worker": workerID,
		"kind":   string(t.Kind),
	})

	if err := wp.handler(taskCtx, t); err != nil {
		wp.log.Warn(taskCtx, "task failed", map[string]interface{}{
			"worker":   workerID,
			"code":     apperrors.CodeOf(err),
			"error":    err.Error(),
			"duration": time.Since(start).String(),
		})
		return
	}
	wp.log.Info(taskCtx, "task finished", map[string]interface{}{
		"worker":   workerID,
		"duration": time.Since(start).String(),
	})
}

func (wp *WorkerPool) updateQueueLength(ctx context.Context) {
	n, err := wp.queue.Len(ctx)
	if err == nil {
		metrics.Default().SetTaskQueueLength(n)
	}
}
