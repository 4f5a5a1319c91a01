// Package asynqengine adapts asynq (Redis-backed task queue) to the core's
// durable-execution Engine contract. Workflow kinds map to task types under
// the "workflow:" prefix; the idempotency key doubles as the asynq task id so
// duplicate submissions collapse server-side. Task retention keeps completed
// task metadata queryable past the originating conversation's lifetime.
package asynqengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/hupe1980/convocore/core"
)

const taskTypePrefix = "workflow:"

// Options configures an Engine.
type Options struct {
	// Queue is the asynq queue workflows are enqueued to.
	Queue string
	// Retention keeps completed task metadata queryable for status calls.
	Retention time.Duration
	// MaxRetry bounds engine-side retries of a failing workflow task.
	MaxRetry int
}

// Engine is the asynq-backed durable-execution engine adapter.
type Engine struct {
	client    *asynq.Client
	inspector *asynq.Inspector

	queue     string
	retention time.Duration
	maxRetry  int
}

var _ core.Engine = (*Engine)(nil)

// New connects to Redis via the given URL.
func New(redisURL string, optFns ...func(o *Options)) (*Engine, error) {
	opts := Options{Queue: "workflows", Retention: 72 * time.Hour, MaxRetry: 5}
	for _, fn := range optFns {
		fn(&opts)
	}
	connOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	return &Engine{
		client:    asynq.NewClient(connOpt),
		inspector: asynq.NewInspector(connOpt),
		queue:     opts.Queue,
		retention: opts.Retention,
		maxRetry:  opts.MaxRetry,
	}, nil
}

// Close releases the underlying client connections.
func (e *Engine) Close() error {
	if err := e.client.Close(); err != nil {
		return err
	}
	return e.inspector.Close()
}

// Submit enqueues the workflow task. The idempotency key is the task id, so
// a duplicate submission returns the same id without creating a second task.
func (e *Engine) Submit(ctx context.Context, kind string, payload []byte, idempotencyKey string) (string, error) {
	task := asynq.NewTask(taskTypePrefix+kind, payload)
	info, err := e.client.EnqueueContext(ctx, task,
		asynq.TaskID(idempotencyKey),
		asynq.Queue(e.queue),
		asynq.MaxRetry(e.maxRetry),
		asynq.Retention(e.retention),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return idempotencyKey, nil
	}
	if err != nil {
		return "", fmt.Errorf("asynq: enqueue %s: %w", kind, err)
	}
	return info.ID, nil
}

// Status maps the asynq task state onto the workflow status set.
func (e *Engine) Status(ctx context.Context, workflowID string) (core.WorkflowStatus, error) {
	_ = ctx
	info, err := e.inspector.GetTaskInfo(e.queue, workflowID)
	if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return "", fmt.Errorf("workflow %s: %w", workflowID, core.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("asynq: task info %s: %w", workflowID, err)
	}
	switch info.State {
	case asynq.TaskStateActive, asynq.TaskStateRetry:
		return core.WorkflowRunning, nil
	case asynq.TaskStateCompleted:
		return core.WorkflowSucceeded, nil
	case asynq.TaskStateArchived:
		return core.WorkflowFailed, nil
	default:
		// Pending, scheduled and aggregating all mean "accepted, not started".
		return core.WorkflowPending, nil
	}
}

// Cancel terminates a non-terminal workflow task.
func (e *Engine) Cancel(ctx context.Context, workflowID string) error {
	_ = ctx
	info, err := e.inspector.GetTaskInfo(e.queue, workflowID)
	if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return fmt.Errorf("workflow %s: %w", workflowID, core.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("asynq: task info %s: %w", workflowID, err)
	}
	switch info.State {
	case asynq.TaskStateCompleted, asynq.TaskStateArchived:
		return core.ErrAlreadyTerminal
	case asynq.TaskStateActive:
		if err := e.inspector.CancelProcessing(workflowID); err != nil {
			return fmt.Errorf("asynq: cancel %s: %w", workflowID, err)
		}
		return nil
	default:
		if err := e.inspector.DeleteTask(e.queue, workflowID); err != nil {
			return fmt.Errorf("asynq: delete %s: %w", workflowID, err)
		}
		return nil
	}
}

// WorkerFunc executes one workflow kind on the worker side.
type WorkerFunc func(ctx context.Context, payload []byte) error

// Worker runs workflow tasks for embedding applications that execute the
// business process steps themselves.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewWorker constructs a worker consuming the engine's queue.
func NewWorker(redisURL string, queue string, concurrency int) (*Worker, error) {
	connOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	server := asynq.NewServer(connOpt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queue: 1},
	})
	return &Worker{server: server, mux: asynq.NewServeMux()}, nil
}

// Register binds a workflow kind to its executor.
func (w *Worker) Register(kind string, fn WorkerFunc) {
	w.mux.HandleFunc(taskTypePrefix+kind, func(ctx context.Context, t *asynq.Task) error {
		return fn(ctx, t.Payload())
	})
}

// Run starts the worker and blocks until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return err
	}
	<-ctx.Done()
	w.server.Shutdown()
	return nil
}
