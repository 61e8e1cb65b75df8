// Package retry holds audit events that could not reach their sink. The queue
// lives in Redis so a queued event survives a process restart; the worker
// drains it back into the sink.
package retry

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	audit "keeper/pkg/platform/audit"
	"keeper/pkg/platform/sentinel"
)

const DefaultKey = "keeper:audit:retry"

// Queue is a FIFO list: Push adds at the head, Pop takes from the tail.
type Queue struct {
	client redis.UniversalClient
	key    string
}

func NewQueue(client redis.UniversalClient, key string) *Queue {
	if key == "" {
		key = DefaultKey
	}
	return &Queue{client: client, key: key}
}

func (q *Queue) Push(ctx context.Context, event audit.Event) error {
	payload, err := audit.Marshal(event)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push audit retry: %w", err)
	}
	return nil
}

// Pop removes the oldest event. It returns sentinel.ErrQueueEmpty when there
// is nothing to deliver.
func (q *Queue) Pop(ctx context.Context) (audit.Event, error) {
	payload, err := q.client.RPop(ctx, q.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return audit.Event{}, sentinel.ErrQueueEmpty
		}
		return audit.Event{}, fmt.Errorf("pop audit retry: %w", err)
	}
	return audit.Unmarshal(payload)
}

// Requeue puts an event back at the tail so it is the next one popped.
func (q *Queue) Requeue(ctx context.Context, event audit.Event) error {
	payload, err := audit.Marshal(event)
	if err != nil {
		return err
	}
	if err := q.client.RPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("requeue audit retry: %w", err)
	}
	return nil
}

func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("audit retry length: %w", err)
	}
	return n, nil
}
