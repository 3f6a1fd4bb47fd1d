package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/noemagraph/retrieval-core/internal/apperr"
)

// Job is one queued ingestion request: a one-shot AI background task,
// structurally distinct from scheduling.ScheduledTask's recurring
// maintenance work. The two were a single ambiguous "Task" upstream; here
// they're disjoint types so a caller can never confuse "run this ingestion
// once" with "run this sweep forever."
type Job struct {
	RunID       string              `json:"run_id"`
	GraphID     string              `json:"graph_id"`
	BranchID    string              `json:"branch_id"`
	TenantID    string              `json:"tenant_id"`
	SourceID    string              `json:"source_id"`
	SourceType  string              `json:"source_type"`
	SourceLabel string              `json:"source_label"`
	Domain      string              `json:"domain"`
	Text        string              `json:"text"`
	URLOrSource string              `json:"url_or_source,omitempty"`
	ActorID     string              `json:"actor_id"`
	EnqueuedAt  time.Time           `json:"enqueued_at"`
}

// Queue is the bounded background ingestion queue named in §5's
// backpressure rule: "when full, new enqueue requests fail fast with a
// typed error." Redis's list length stands in for the pool's in-flight
// count; Enqueue never blocks waiting for room.
type Queue struct {
	client   *redis.Client
	key      string
	capacity int64
}

// NewQueue dials addr and wraps list key with a max length of capacity.
func NewQueue(addr, key string, capacity int64) (*Queue, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ingestion queue: redis ping: %w", err)
	}
	return &Queue{client: client, key: key, capacity: capacity}, nil
}

// Close releases the underlying Redis connection.
func (q *Queue) Close() error {
	return q.client.Close()
}

// Enqueue appends job to the queue, failing fast with an InvalidInput error
// (message "ingestion queue full ...") when the queue is already at
// capacity rather than blocking the caller.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	depth, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return apperr.NewExternalProviderFailure("ingestion queue: check depth", err)
	}
	if depth >= q.capacity {
		return apperr.NewInvalidInput(fmt.Sprintf("ingestion queue full (depth %d >= capacity %d)", depth, q.capacity), nil)
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return apperr.NewFatal("ingestion queue: marshal job", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return apperr.NewExternalProviderFailure("ingestion queue: push", err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next job, FIFO (RPOP end of the
// list LPUSH wrote to).
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.NewExternalProviderFailure("ingestion queue: pop", err)
	}
	if len(res) != 2 {
		return nil, apperr.NewFatal("ingestion queue: unexpected BRPOP shape", nil)
	}
	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, apperr.NewInvalidInput("ingestion queue: malformed job payload", err)
	}
	return &job, nil
}

// Depth reports the current queue length, for health/metrics surfaces.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	depth, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, apperr.NewExternalProviderFailure("ingestion queue: depth", err)
	}
	return depth, nil
}
