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
	// QueueSessions is the Redis list key for session maintenance jobs.
	QueueSessions = "worker:sessions"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
	// dequeueWait bounds one blocking pop so callers observe ctx regularly.
	dequeueWait = 5 * time.Second
	// touchGatePrefix keys the per-session marker that limits touch jobs to one per window.
	touchGatePrefix = "worker:sessions:touch:"
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeSessionTouch JobType = "session_touch"
)

// SessionTouchPayload records that a session was used at At.
type SessionTouchPayload struct {
	SessionID uuid.UUID `json:"session_id"`
	At        time.Time `json:"at"`
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
func NewJob(typ JobType, payload interface{}) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Job{
		ID:        uuid.New().String(),
		Type:      typ,
		Payload:   body,
		CreatedAt: time.Now(),
	}, nil
}

// DecodeSessionTouch returns the job's session touch payload.
func (j *Job) DecodeSessionTouch() (SessionTouchPayload, error) {
	var p SessionTouchPayload
	if j.Type != JobTypeSessionTouch {
		return p, fmt.Errorf("job %s: unexpected type %q", j.ID, j.Type)
	}
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return p, fmt.Errorf("job %s: decode payload: %w", j.ID, err)
	}
	if p.SessionID == uuid.Nil {
		return p, fmt.Errorf("job %s: missing session id", j.ID)
	}
	return p, nil
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

// TouchGateKey returns the Redis key marking a pending touch for sessionID.
func TouchGateKey(sessionID uuid.UUID) string { return touchGatePrefix + sessionID.String() }

// EnqueueSessionTouch enqueues a session activity update, at most once per
// window per session across all instances. A touch inside the window is
// dropped without error.
func (q *Queue) EnqueueSessionTouch(ctx context.Context, payload SessionTouchPayload, window time.Duration) error {
	job, err := NewJob(JobTypeSessionTouch, payload)
	if err != nil {
		return err
	}
	if window > 0 {
		ok, err := q.client.SetNX(ctx, TouchGateKey(payload.SessionID), job.ID, window).Result()
		if err != nil {
			return fmt.Errorf("touch gate: %w", err)
		}
		if !ok {
			return nil
		}
	}
	if err := q.push(ctx, QueueSessions, job); err != nil {
		if window > 0 {
			_ = q.client.Del(ctx, TouchGateKey(payload.SessionID)).Err()
		}
		return err
	}
	q.logger.Debug("enqueued session touch job", zap.String("job_id", job.ID), zap.String("session_id", payload.SessionID.String()))
	return nil
}

// Dequeue blocks until a job is available, the wait elapses or ctx is done.
// Returns (nil, nil) when nothing was available or the entry was unreadable.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BLPop(ctx, dequeueWait, QueueSessions).Result()
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
	if job.Attempt >= MaxRetries {
		if err := q.push(ctx, QueueDLQ, job); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.push(ctx, QueueSessions, job); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}

func (q *Queue) push(ctx context.Context, key string, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, key, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	return nil
}
