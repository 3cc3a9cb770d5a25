package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/threadline-erp/backend/pkg/queue"
)

// gateSweepSize is the pending-map size that triggers removal of stale entries.
const gateSweepSize = 1024

// Toucher persists session activity.
type Toucher interface {
	Touch(ctx context.Context, sessionID uuid.UUID, at time.Time) error
}

// TouchEnqueuer hands session activity to the background worker, at most
// once per window per session.
type TouchEnqueuer interface {
	EnqueueSessionTouch(ctx context.Context, payload queue.SessionTouchPayload, window time.Duration) error
}

// ActivityRecorder records session usage off the request path when a queue is
// available and writes through to the store otherwise. Failures are logged,
// never returned: activity tracking must not fail a request. pending holds the
// last queued touch per session; one job per session per window.
type ActivityRecorder struct {
	store  Toucher
	queue  TouchEnqueuer
	window time.Duration
	logger *zap.Logger

	mu      sync.Mutex
	pending map[uuid.UUID]time.Time
}

// NewActivityRecorder creates an ActivityRecorder. q may be nil. window is the
// minimum spacing between queued touches of one session.
func NewActivityRecorder(store Toucher, q TouchEnqueuer, window time.Duration, logger *zap.Logger) *ActivityRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActivityRecorder{
		store:   store,
		queue:   q,
		window:  window,
		logger:  logger,
		pending: make(map[uuid.UUID]time.Time),
	}
}

// Touch records that sessionID was used at at.
func (r *ActivityRecorder) Touch(ctx context.Context, sessionID uuid.UUID, at time.Time) {
	ctx = context.WithoutCancel(ctx)
	if r.queue != nil {
		if !r.claim(sessionID, at) {
			return
		}
		err := r.queue.EnqueueSessionTouch(ctx, queue.SessionTouchPayload{SessionID: sessionID, At: at}, r.window)
		if err == nil {
			return
		}
		r.release(sessionID)
		r.logger.Warn("enqueue session touch failed, writing through", zap.String("session_id", sessionID.String()), zap.Error(err))
	}
	if err := r.store.Touch(ctx, sessionID, at); err != nil {
		r.logger.Warn("session touch failed", zap.String("session_id", sessionID.String()), zap.Error(err))
	}
}

// claim reports whether a touch for sessionID may be enqueued at at, and
// reserves the window if so.
func (r *ActivityRecorder) claim(sessionID uuid.UUID, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if last, ok := r.pending[sessionID]; ok && at.Sub(last) < r.window {
		return false
	}
	if len(r.pending) >= gateSweepSize {
		for id, last := range r.pending {
			if at.Sub(last) >= r.window {
				delete(r.pending, id)
			}
		}
	}
	r.pending[sessionID] = at
	return true
}

func (r *ActivityRecorder) release(sessionID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, sessionID)
}
