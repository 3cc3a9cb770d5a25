package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/threadline-erp/backend/pkg/queue"
)

// SessionStore is the subset of the session repository the worker needs.
type SessionStore interface {
	Touch(ctx context.Context, sessionID uuid.UUID, at time.Time) error
	PurgeInactive(ctx context.Context, cutoff time.Time) (int64, error)
}

// JobQueue is the subset of queue.Queue the worker needs.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// SessionProcessor applies session activity jobs and purges dead sessions.
type SessionProcessor struct {
	store   SessionStore
	queue   JobQueue
	logger  *zap.Logger
	backoff time.Duration
	now     func() time.Time
}

// NewSessionProcessor creates a session maintenance processor.
func NewSessionProcessor(store SessionStore, q JobQueue, logger *zap.Logger) *SessionProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionProcessor{store: store, queue: q, logger: logger, backoff: queue.RetryBackoff, now: time.Now}
}

// Process executes one job.
func (p *SessionProcessor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeSessionTouch:
		payload, err := job.DecodeSessionTouch()
		if err != nil {
			return err
		}
		if err := p.store.Touch(ctx, payload.SessionID, payload.At); err != nil {
			return fmt.Errorf("touch session %s: %w", payload.SessionID, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *SessionProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("session worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

// PurgeOnce deletes sessions that expired or were revoked more than retention ago.
func (p *SessionProcessor) PurgeOnce(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := p.store.PurgeInactive(ctx, p.now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.logger.Info("purged sessions", zap.Int64("count", n))
	}
	return n, nil
}

// RunPurge calls PurgeOnce every interval until ctx is done.
func (p *SessionProcessor) RunPurge(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := p.PurgeOnce(ctx, retention); err != nil {
			p.logger.Error("session purge failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			p.logger.Info("session purge stopping")
			return
		case <-ticker.C:
		}
	}
}

func (p *SessionProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
