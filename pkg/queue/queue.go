package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueProjections is the Redis list key for projection jobs that could not be applied in-process.
	QueueProjections = "signaling:projections"
	// QueueDLQ is the dead-letter queue for jobs that failed after retries.
	QueueDLQ = "signaling:dlq"
	// MaxRetries is the number of replay attempts before a job moves to the DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between replays.
	RetryBackoff = 10 * time.Second
)

// JobType identifies the projection kind.
type JobType string

const (
	JobTypeStreamStatus JobType = "stream_status"
	JobTypeViewerJoin   JobType = "viewer_join"
	JobTypeViewerLeave  JobType = "viewer_leave"
	JobTypePeakViewers  JobType = "peak_viewers"
)

// StreamStatusPayload mirrors a lifecycle transition.
type StreamStatusPayload struct {
	StreamID string    `json:"stream_id"`
	Status   string    `json:"status"`
	At       time.Time `json:"at"`
}

// ViewerJoinPayload opens a viewer session.
type ViewerJoinPayload struct {
	StreamID     string    `json:"stream_id"`
	UserID       string    `json:"user_id"`
	ConnectionID string    `json:"connection_id"`
	JoinedAt     time.Time `json:"joined_at"`
}

// ViewerLeavePayload closes a viewer session.
type ViewerLeavePayload struct {
	StreamID     string    `json:"stream_id"`
	ConnectionID string    `json:"connection_id"`
	LeftAt       time.Time `json:"left_at"`
}

// PeakViewersPayload raises the stored peak.
type PeakViewersPayload struct {
	StreamID string `json:"stream_id"`
	Count    int    `json:"count"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewJob wraps payload in a fresh envelope.
func NewJob(t JobType, payload interface{}) (Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("marshal payload: %w", err)
	}
	return Job{
		ID:        uuid.New().String(),
		Type:      t,
		Payload:   body,
		CreatedAt: time.Now(),
	}, nil
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// Enqueue pushes a job onto the projections list for the replay worker.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueueProjections, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued projection job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
	return nil
}

// Dequeue blocks up to timeout for a job. It returns nil when none arrived.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, QueueProjections).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.Attempt >= MaxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.client.RPush(ctx, QueueProjections, raw).Err(); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}

// Len returns the number of jobs waiting for replay and in the DLQ.
func (q *Queue) Len(ctx context.Context) (pending, dead int64, err error) {
	if pending, err = q.client.LLen(ctx, QueueProjections).Result(); err != nil {
		return 0, 0, err
	}
	if dead, err = q.client.LLen(ctx, QueueDLQ).Result(); err != nil {
		return 0, 0, err
	}
	return pending, dead, nil
}
