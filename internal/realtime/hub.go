package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30 * time.Second
	PongWait     = 60 * time.Second
	writeWait    = 10 * time.Second

	// EventSessionRevoked tells a user's devices that sessions were revoked.
	EventSessionRevoked = "session_revoked"
)

// SessionRevokedPayload is the data of EventSessionRevoked.
type SessionRevokedPayload struct {
	SessionID uuid.UUID `json:"sessionId"`
}

// RedisPublisher is the interface for publishing to Redis (for cross-instance delivery).
type RedisPublisher interface {
	PublishUserEvent(ctx context.Context, userID uuid.UUID, event string, payload []byte) error
}

// RedisSubscriber subscribes to user channels and invokes handler for incoming events.
type RedisSubscriber interface {
	SubscribeUser(userID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub maintains user_id -> set of connections and delivers user events.
// With Redis, events are published and every instance (including this one)
// delivers them from its subscription; without Redis delivery is local.
type Hub struct {
	users    map[uuid.UUID]map[string]*Client
	subs     map[uuid.UUID]func() // cancel Redis subscription per user
	mu       sync.RWMutex
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber
}

// NewHub creates a new WebSocket hub. redisPub and redisSub may be nil.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		users:    make(map[uuid.UUID]map[string]*Client),
		subs:     make(map[uuid.UUID]func()),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// Register adds a client. Starts the Redis subscription for the user on their first connection.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.users[c.UserID] == nil {
		h.users[c.UserID] = make(map[string]*Client)
		if h.redisSub != nil {
			userID := c.UserID
			cancel, err := h.redisSub.SubscribeUser(userID, func(event string, payload []byte) {
				h.deliver(userID, event, payload)
			})
			if err != nil {
				h.logger.Warn("user subscription failed", zap.String("user_id", userID.String()), zap.Error(err))
			} else {
				h.subs[userID] = cancel
			}
		}
	}
	h.users[c.UserID][c.ID] = c
	h.logger.Debug("client connected", zap.String("client_id", c.ID), zap.String("user_id", c.UserID.String()))
}

// Unregister removes a client. Cancels the Redis subscription when the user's last client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m, ok := h.users[c.UserID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.users, c.UserID)
			if cancel, ok := h.subs[c.UserID]; ok {
				cancel()
				delete(h.subs, c.UserID)
			}
		}
	}
	h.logger.Debug("client disconnected", zap.String("client_id", c.ID), zap.String("user_id", c.UserID.String()))
}

// ConnectionCount returns the number of local connections for the user.
func (h *Hub) ConnectionCount(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// SessionsRevoked notifies the user's devices that sessionIDs were revoked.
// Connections opened with a revoked session are closed after delivery.
func (h *Hub) SessionsRevoked(ctx context.Context, userID uuid.UUID, sessionIDs []uuid.UUID) {
	for _, id := range sessionIDs {
		data, err := json.Marshal(SessionRevokedPayload{SessionID: id})
		if err != nil {
			continue
		}
		h.publish(ctx, userID, EventSessionRevoked, data)
	}
}

func (h *Hub) publish(ctx context.Context, userID uuid.UUID, event string, data []byte) {
	if h.redis != nil {
		err := h.redis.PublishUserEvent(ctx, userID, event, data)
		if err == nil {
			return
		}
		h.logger.Warn("publish user event failed, delivering locally", zap.String("event", event), zap.Error(err))
	}
	h.deliver(userID, event, data)
}

// deliver sends an event to the user's local connections.
func (h *Hub) deliver(userID uuid.UUID, event string, data []byte) {
	var revoked uuid.UUID
	if event == EventSessionRevoked {
		var p SessionRevokedPayload
		if err := json.Unmarshal(data, &p); err == nil {
			revoked = p.SessionID
		}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.users[userID] {
		msg := WSMessage{Event: event, Data: data, closeAfter: revoked != uuid.Nil && c.SessionID == revoked}
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}
