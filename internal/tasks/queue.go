// Package tasks is a small Redis-backed background task queue. Producers
// LPUSH JSON envelopes, workers BRPOP them and dispatch to per-kind handlers,
// requeueing failed tasks a bounded number of times.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dpetukhov/tokengate/internal/logging"
)

const queueKey = "tasks:queue"

// Task is the queue envelope.
type Task struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// store is the slice of Redis the queue needs.
type store interface {
	push(ctx context.Context, data []byte) error
	// pop blocks up to timeout for the next envelope. The second return is
	// false when the wait timed out with an empty queue.
	pop(ctx context.Context, timeout time.Duration) ([]byte, bool, error)
}

type redisStore struct {
	client *redis.Client
}

func (s *redisStore) push(ctx context.Context, data []byte) error {
	if err := s.client.LPush(ctx, queueKey, data).Err(); err != nil {
		return fmt.Errorf("error pushing task: %w", err)
	}
	return nil
}

func (s *redisStore) pop(ctx context.Context, timeout time.Duration) ([]byte, bool, error) {
	vals, err := s.client.BRPop(ctx, timeout, queueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("error popping task: %w", err)
	}
	// BRPOP returns [key, value].
	if len(vals) != 2 {
		return nil, false, fmt.Errorf("unexpected BRPOP reply of %d elements", len(vals))
	}
	return []byte(vals[1]), true, nil
}

// Queue enqueues background tasks.
type Queue struct {
	store  store
	logger logging.Logger
}

// NewQueue builds a Queue on top of a Redis client.
func NewQueue(client *redis.Client, logger logging.Logger) *Queue {
	return &Queue{store: &redisStore{client: client}, logger: logger}
}

// Enqueue marshals payload and places a new task of the given kind on the
// queue.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("error marshalling task payload: %w", err)
	}

	task := &Task{
		ID:         uuid.NewString(),
		Kind:       kind,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("error marshalling task: %w", err)
	}

	if err := q.store.push(ctx, data); err != nil {
		return err
	}
	q.logger.Debug(ctx, "task enqueued", "task_id", task.ID, "kind", kind)
	return nil
}
