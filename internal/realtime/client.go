package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/threadline-erp/backend/internal/apperr"
	"github.com/threadline-erp/backend/internal/middleware"
)

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`

	closeAfter bool
}

// Authenticator verifies an access token the same way the HTTP middleware does.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*middleware.Identity, error)
}

// Client is a single WebSocket connection of one session.
type Client struct {
	ID        string
	UserID    uuid.UUID
	SessionID uuid.UUID
	hub       *Hub
	conn      *websocket.Conn
	send      chan WSMessage
	done      chan struct{}
	logger    *zap.Logger
}

// CheckOrigin returns an origin policy for the upgrader. An empty list or "*"
// allows every origin; requests without an Origin header are always allowed.
func CheckOrigin(allowedOrigins string) func(r *http.Request) bool {
	allowed := map[string]bool{}
	for _, o := range strings.Split(allowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = true
		}
	}
	return func(r *http.Request) bool {
		if len(allowed) == 0 || allowed["*"] {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return allowed[u.Scheme+"://"+u.Host]
	}
}

// ServeWs handles GET /auth/events?token=<access>: it authenticates, upgrades
// and streams the user's session events until the connection ends or the
// connection's own session is revoked.
func ServeWs(hub *Hub, logger *zap.Logger, authn Authenticator, checkOrigin func(r *http.Request) bool) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin,
	}
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			_ = c.Error(apperr.Validation("token required"))
			return
		}
		id, err := authn.Authenticate(c.Request.Context(), token)
		if err != nil {
			_ = c.Error(err)
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:        uuid.New().String(),
			UserID:    id.UserID,
			SessionID: id.SessionID,
			hub:       hub,
			conn:      conn,
			send:      make(chan WSMessage, 16),
			done:      make(chan struct{}),
			logger:    logger,
		}
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

// readPump drains client frames so control messages are processed; clients
// have nothing to send on this stream.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		close(c.done)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
			if msg.closeAfter {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session revoked"))
				c.logger.Debug("closed revoked session stream", zap.String("session_id", c.SessionID.String()))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
