package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"crm-chat/internal/auth"
	"crm-chat/internal/chat"
	"crm-chat/internal/models"
	"crm-chat/internal/presence"
	"crm-chat/internal/repositories"
	"crm-chat/internal/repositories/memstore"
)

const testSecret = "ws-test-secret"

type singleTenant struct {
	id    string
	store *repositories.Store
}

func (s singleTenant) Resolve(_ context.Context, tenantID string) (*repositories.Store, error) {
	if tenantID != s.id {
		return nil, errors.New("unknown tenant")
	}
	return s.store, nil
}

type server struct {
	url      string
	hub      *Hub
	presence *presence.Manager
	verifier *auth.Verifier
}

func startServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := memstore.New()
	db.PutUser(models.User{ID: "a", FirstName: "Ann"})
	db.PutUser(models.User{ID: "b", FirstName: "Bob"})

	logger := zap.NewNop()
	verifier := auth.NewVerifier(testSecret)
	authn := auth.NewAuthenticator(verifier, singleTenant{id: "t1", store: db.Repositories()})
	hub := NewHub(logger)
	pres := presence.NewManager(hub, time.Hour, logger)
	svc := chat.NewService(hub, nil, logger)
	handler := NewHandler(hub, NewRouter(hub, svc, pres, logger), authn, logger)

	r := gin.New()
	r.GET("/ws", handler.Handle)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		pres.Stop()
		srv.Close()
	})
	return &server{url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", hub: hub, presence: pres, verifier: verifier}
}

func (s *server) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	token, err := s.verifier.Sign(userID, "t1", time.Minute)
	require.NoError(t, err)
	conn, resp, err := websocket.DefaultDialer.Dial(s.url+"?token="+token, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"event": event, "data": data}))
}

// readUntil skips frames until event arrives.
func readUntil(t *testing.T, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var f outboundFrame
		require.NoError(t, conn.ReadJSON(&f), "waiting for %s", event)
		if f.Event == event {
			return f.Data
		}
	}
}

func authenticate(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	sendEvent(t, conn, chat.EventAuthenticate, nil)
	readUntil(t, conn, chat.EventUnreadGroupMessagesCount)
}

func TestHandshakeRejectsMissingOrBadToken(t *testing.T) {
	s := startServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(s.url, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	other := auth.NewVerifier("another-secret")
	token, err := other.Sign("a", "t1", time.Minute)
	require.NoError(t, err)
	_, resp, err = websocket.DefaultDialer.Dial(s.url+"?token="+token, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err = s.verifier.Sign("a", "t2", time.Minute)
	require.NoError(t, err)
	_, resp, err = websocket.DefaultDialer.Dial(s.url+"?token="+token, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthenticateBroadcastsPresenceAndCounts(t *testing.T) {
	s := startServer(t)
	a := s.dial(t, "a")

	sendEvent(t, a, chat.EventAuthenticate, nil)
	var status presence.StatusChanged
	require.NoError(t, json.Unmarshal(readUntil(t, a, presence.EventUserStatusChanged), &status))
	require.Equal(t, presence.StatusChanged{UserID: "a", Status: "online", Description: "Online"}, status)

	var counts chat.UnreadMessagesCount
	require.NoError(t, json.Unmarshal(readUntil(t, a, chat.EventUnreadMessagesCount), &counts))
	require.Empty(t, counts.UnreadMessagesMap)
	require.True(t, s.hub.HasConnection("t1", "a"))
}

func TestSendMessageRoundTrip(t *testing.T) {
	s := startServer(t)
	a := s.dial(t, "a")
	b := s.dial(t, "b")
	authenticate(t, a)
	authenticate(t, b)

	sendEvent(t, a, chat.EventSendMessage, chat.SendMessageRequest{ToUserID: "b", Message: "hi"})

	var msg models.DirectMessage
	require.NoError(t, json.Unmarshal(readUntil(t, b, chat.EventReceiveMessage), &msg))
	require.Equal(t, "a", msg.FromUserID)
	require.Equal(t, "b", msg.ToUserID)
	require.Equal(t, "hi", msg.Message)
	require.False(t, msg.Read)

	var echo models.DirectMessage
	require.NoError(t, json.Unmarshal(readUntil(t, a, chat.EventReceiveMessage), &echo))
	require.Equal(t, msg.ID, echo.ID)
}

func TestBadFramesDoNotCloseConnection(t *testing.T) {
	s := startServer(t)
	a := s.dial(t, "a")

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("not json")))
	sendEvent(t, a, "noSuchEvent", nil)
	sendEvent(t, a, chat.EventSendMessage, "wrong shape")
	sendEvent(t, a, chat.EventPing, nil)

	var pong chat.Pong
	require.NoError(t, json.Unmarshal(readUntil(t, a, chat.EventPong), &pong))
	require.False(t, pong.Time.IsZero())
}

func TestDisconnectStartsGraceTimer(t *testing.T) {
	s := startServer(t)
	a := s.dial(t, "a")
	authenticate(t, a)

	require.NoError(t, a.Close())

	require.Eventually(t, func() bool {
		return !s.hub.HasConnection("t1", "a") && s.presence.Pending("t1", "a")
	}, 2*time.Second, 10*time.Millisecond)
}
