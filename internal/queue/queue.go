package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/storyreel/worker/internal/models"
)

const QueueRender = "queue:render"

// Dispatcher hands an accepted render job off for out-of-band execution. The
// HTTP handler depends on this, not on Redis, so tests can capture dispatches
// directly.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *models.RenderJob) error
}

type Queue struct {
	client *redis.Client
}

// envelope wraps a job on the wire with its enqueue time.
type envelope struct {
	Job      models.RenderJob `json:"job"`
	Enqueued time.Time        `json:"enqueued"`
}

func New(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// Dispatch enqueues a render job. Acceptance and execution are decoupled:
// the caller gets its acknowledgment as soon as this returns.
func (q *Queue) Dispatch(ctx context.Context, job *models.RenderJob) error {
	data, err := json.Marshal(envelope{Job: *job, Enqueued: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	return q.client.RPush(ctx, QueueRender, data).Err()
}

// Dequeue blocks up to timeout for the next render job. A nil job with nil
// error means nothing was available.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*models.RenderJob, error) {
	result, err := q.client.BLPop(ctx, timeout, QueueRender).Result()
	if err == redis.Nil {
		return nil, nil // No job available
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected redis response")
	}

	var env envelope
	if err := json.Unmarshal([]byte(result[1]), &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &env.Job, nil
}

// Length reports the number of waiting render jobs.
func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, QueueRender).Result()
}
