package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/threadline-erp/backend/internal/apperr"
	"github.com/threadline-erp/backend/internal/middleware"
)

func init() { gin.SetMode(gin.TestMode) }

type tokenTable map[string]*middleware.Identity

func (t tokenTable) Authenticate(_ context.Context, token string) (*middleware.Identity, error) {
	id, ok := t[token]
	if !ok {
		return nil, apperr.Authentication("Invalid or expired token")
	}
	return id, nil
}

func localClient(hub *Hub, userID, sessionID uuid.UUID) *Client {
	c := &Client{ID: uuid.NewString(), UserID: userID, SessionID: sessionID, hub: hub, send: make(chan WSMessage, 4)}
	hub.Register(c)
	return c
}

func TestHub_SessionsRevokedLocal(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil, nil)
	user, other := uuid.New(), uuid.New()
	revoked, kept := uuid.New(), uuid.New()
	a := localClient(hub, user, revoked)
	b := localClient(hub, user, kept)
	x := localClient(hub, other, uuid.New())

	hub.SessionsRevoked(context.Background(), user, []uuid.UUID{revoked})

	msgA := <-a.send
	msgB := <-b.send
	if msgA.Event != EventSessionRevoked || !msgA.closeAfter {
		t.Errorf("revoked client msg = %+v", msgA)
	}
	if msgB.closeAfter {
		t.Error("surviving session told to close")
	}
	var p SessionRevokedPayload
	if err := json.Unmarshal(msgB.Data, &p); err != nil || p.SessionID != revoked {
		t.Errorf("payload = %s", msgB.Data)
	}
	select {
	case m := <-x.send:
		t.Errorf("other user received %+v", m)
	default:
	}

	hub.Unregister(a)
	hub.Unregister(b)
	if hub.ConnectionCount(user) != 0 {
		t.Error("clients not unregistered")
	}
}

type fakeBroker struct {
	mu       sync.Mutex
	handlers map[uuid.UUID]func(string, []byte)
	fail     bool
}

func (f *fakeBroker) PublishUserEvent(_ context.Context, userID uuid.UUID, event string, payload []byte) error {
	if f.fail {
		return errors.New("redis down")
	}
	f.mu.Lock()
	h := f.handlers[userID]
	f.mu.Unlock()
	if h != nil {
		h(event, payload)
	}
	return nil
}

func (f *fakeBroker) SubscribeUser(userID uuid.UUID, handler func(string, []byte)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[userID] = handler
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, userID)
	}, nil
}

func TestHub_DeliversThroughBroker(t *testing.T) {
	broker := &fakeBroker{handlers: map[uuid.UUID]func(string, []byte){}}
	hub := NewHub(zap.NewNop(), broker, broker)
	user := uuid.New()
	c := localClient(hub, user, uuid.New())

	hub.SessionsRevoked(context.Background(), user, []uuid.UUID{uuid.New(), uuid.New()})
	if len(c.send) != 2 {
		t.Fatalf("delivered %d events, want 2 (no duplicates)", len(c.send))
	}

	hub.Unregister(c)
	if len(broker.handlers) != 0 {
		t.Error("subscription not cancelled after last client left")
	}
}

func TestHub_BrokerFailureFallsBackToLocal(t *testing.T) {
	broker := &fakeBroker{handlers: map[uuid.UUID]func(string, []byte){}, fail: true}
	hub := NewHub(zap.NewNop(), broker, broker)
	user := uuid.New()
	c := localClient(hub, user, uuid.New())
	hub.SessionsRevoked(context.Background(), user, []uuid.UUID{uuid.New()})
	if len(c.send) != 1 {
		t.Errorf("delivered %d events, want 1", len(c.send))
	}
}

func TestServeWs_StreamsAndClosesOnOwnRevocation(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil, nil)
	user, sess := uuid.New(), uuid.New()
	tokens := tokenTable{"good": {UserID: user, SessionID: sess}}

	r := gin.New()
	r.Use(middleware.Errors(zap.NewNop(), false))
	r.GET("/events", ServeWs(hub, zap.NewNop(), tokens, CheckOrigin("*")))
	srv := httptest.NewServer(r)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token=bad", nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token dial err = %v resp = %v", err, resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token=good", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount(user) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.SessionsRevoked(context.Background(), user, []uuid.UUID{sess})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if msg.Event != EventSessionRevoked {
		t.Errorf("event = %q", msg.Event)
	}
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("expected policy close, got %v", err)
	}
}

func TestCheckOrigin(t *testing.T) {
	check := CheckOrigin("http://localhost:3000, https://app.example.com")
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"https://app.example.com", true},
		{"https://evil.example.com", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		if got := check(req); got != tt.want {
			t.Errorf("origin %q allowed = %v, want %v", tt.origin, got, tt.want)
		}
	}
	if !CheckOrigin("*")(httptest.NewRequest(http.MethodGet, "/", nil)) {
		t.Error("wildcard should allow all")
	}
}
