package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dpetukhov/tokengate/internal/logging"
)

const (
	defaultMaxAttempts = 3
	defaultPopTimeout  = 5 * time.Second
)

// Handler processes the payload of one task kind.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Worker consumes the task queue and dispatches envelopes to registered
// handlers. A failed task is requeued with its attempt counter bumped and
// dropped once the counter reaches maxAttempts.
type Worker struct {
	store       store
	logger      logging.Logger
	handlers    map[string]Handler
	maxAttempts int
	popTimeout  time.Duration
}

// NewWorker builds a Worker sharing the queue's backing store.
func NewWorker(q *Queue, logger logging.Logger) *Worker {
	return &Worker{
		store:       q.store,
		logger:      logger,
		handlers:    make(map[string]Handler),
		maxAttempts: defaultMaxAttempts,
		popTimeout:  defaultPopTimeout,
	}
}

// RegisterHandler binds a handler to a task kind.
func (w *Worker) RegisterHandler(kind string, h Handler) {
	w.handlers[kind] = h
}

// Run consumes tasks until ctx is cancelled. Transient store failures are
// retried with a constant backoff instead of tearing the worker down.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		// The backoff carries a retry counter, so it is rebuilt per cycle.
		backoff := retry.WithMaxRetries(5, retry.NewConstant(time.Second))

		var data []byte
		var ok bool
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			var popErr error
			data, ok, popErr = w.store.pop(ctx, w.popTimeout)
			if popErr != nil {
				w.logger.Warn(ctx, "task queue unavailable", "error", popErr)
				return retry.RetryableError(popErr)
			}
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("task queue gave up: %w", err)
		}
		if !ok {
			continue
		}

		w.process(ctx, data)
	}
}

func (w *Worker) process(ctx context.Context, data []byte) {
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		w.logger.Error(ctx, "error decoding task, dropping", "error", err)
		return
	}

	handler, found := w.handlers[task.Kind]
	if !found {
		w.logger.Error(ctx, "no handler for task kind, dropping", "task_id", task.ID, "kind", task.Kind)
		return
	}

	if err := handler(ctx, task.Payload); err != nil {
		task.Attempts++
		if task.Attempts >= w.maxAttempts {
			w.logger.Error(ctx, "task failed permanently", "task_id", task.ID, "kind", task.Kind, "attempts", task.Attempts, "error", err)
			return
		}
		w.logger.Warn(ctx, "task failed, requeueing", "task_id", task.ID, "kind", task.Kind, "attempts", task.Attempts, "error", err)
		w.requeue(ctx, &task)
		return
	}

	w.logger.Debug(ctx, "task completed", "task_id", task.ID, "kind", task.Kind)
}

func (w *Worker) requeue(ctx context.Context, task *Task) {
	data, err := json.Marshal(task)
	if err != nil {
		w.logger.Error(ctx, "error marshalling task for requeue", "task_id", task.ID, "error", err)
		return
	}
	if err := w.store.push(ctx, data); err != nil {
		w.logger.Error(ctx, "error requeueing task", "task_id", task.ID, "error", err)
	}
}
