package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"crm-chat/internal/auth"
	"crm-chat/internal/domain"
	"crm-chat/internal/observability"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SessionAuthenticator turns the handshake token into a session.
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.Session, error)
}

type Handler struct {
	hub    *Hub
	router *Router
	authn  SessionAuthenticator
	logger *zap.Logger
}

func NewHandler(hub *Hub, router *Router, authn SessionAuthenticator, logger *zap.Logger) *Handler {
	return &Handler{hub: hub, router: router, authn: authn, logger: logger}
}

// Handle authenticates the handshake and upgrades the connection. A bad token
// is refused with 401 before the upgrade.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := observability.Tracer().Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	token, err := auth.TokenFromRequest(c.Request)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	sess, err := h.authn.Authenticate(ctx, token)
	if err != nil {
		status := http.StatusUnauthorized
		if !domain.IsKind(err, domain.KindAuthentication) {
			status = http.StatusInternalServerError
		}
		h.logger.Info("handshake rejected", zap.String("kind", string(domain.KindOf(err))), zap.Error(err))
		c.JSON(status, gin.H{"error": "unauthorized"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		TenantID:    sess.TenantID(),
		UserID:      sess.UserID(),
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	client := newClient(h.hub, conn, sess, info, h.logger)
	h.hub.Register(client)
	observability.IncWSActive()
	h.publish(client, "ws_connect", "")

	go h.serve(client)
}

func (h *Handler) serve(client *Client) {
	ctx := observability.WithRequestID(context.Background(), client.info.RequestID)
	reason := ""
	if err := client.run(ctx, h.router); err != nil {
		reason = err.Error()
		h.logger.Debug("connection closed with error", zap.String("conn_id", client.info.ConnID), zap.Error(err))
	}

	h.hub.Unregister(client)
	h.router.Disconnected(client)
	observability.DecWSActive()
	h.publish(client, "ws_disconnect", reason)
}

func (h *Handler) publish(client *Client, name, reason string) {
	info := client.info
	observability.IncWSEvent("in", name)
	payload := map[string]interface{}{
		"connection": observability.ConnectionEvent{
			TenantID: info.TenantID,
			UserID:   info.UserID,
			ConnID:   info.ConnID,
			IP:       info.IP,
			DeviceID: info.DeviceID,
		},
		"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
		"reason":      reason,
	}
	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	if err := observability.PublishEvent(context.Background(), observability.RoutingWSConnections,
		observability.NewEnvelope("ws_events", name, payload), headers); err != nil {
		h.logger.Warn("connection event not published", zap.String("event", name), zap.Error(err))
	}
}
