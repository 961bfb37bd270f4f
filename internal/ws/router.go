package ws

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"crm-chat/internal/auth"
	"crm-chat/internal/chat"
	"crm-chat/internal/domain"
	"crm-chat/internal/observability"
	"crm-chat/internal/presence"
)

type handlerFunc func(ctx context.Context, c *Client, data json.RawMessage) error

// Router maps inbound event names to engine commands. Failures are logged and
// counted; the client gets no error frame.
type Router struct {
	hub      *Hub
	chat     *chat.Service
	presence *presence.Manager
	logger   *zap.Logger
	routes   map[string]handlerFunc
}

func NewRouter(hub *Hub, svc *chat.Service, pres *presence.Manager, logger *zap.Logger) *Router {
	r := &Router{hub: hub, chat: svc, presence: pres, logger: logger}
	r.routes = map[string]handlerFunc{
		chat.EventAuthenticate: r.authenticate,
		chat.EventLogout:       r.logout,
		chat.EventPing:         r.ping,

		chat.EventSendMessage:              command(dropResult(svc.SendMessage)),
		chat.EventSendFileMessage:          command(dropResult(svc.SendFileMessage)),
		chat.EventMessageRead:              command(svc.MarkRead),
		chat.EventForwardMessage:           command(dropResult(svc.ForwardMessage)),
		chat.EventFetchChatHistory:         command(dropResult(svc.FetchHistory)),
		chat.EventDeleteMessageForEveryone: command(svc.DeleteForEveryone),
		chat.EventDeleteMessageForMe:       command(svc.DeleteForMe),

		chat.EventCreateGroup:                   command(dropResult(svc.CreateGroup)),
		chat.EventSendGroupMessage:              command(dropResult(svc.SendGroupMessage)),
		chat.EventSendGroupFileMessage:          command(dropResult(svc.SendGroupFileMessage)),
		chat.EventFetchGroupChatHistory:         command(dropResult(svc.FetchGroupHistory)),
		chat.EventAddUserToGroup:                command(svc.AddUserToGroup),
		chat.EventRemoveUserFromGroup:           command(svc.RemoveUserFromGroup),
		chat.EventLeaveGroup:                    command(svc.LeaveGroup),
		chat.EventDeleteGroup:                   command(svc.DeleteGroup),
		chat.EventConfirmDeleteGroup:            command(svc.ConfirmDeleteGroup),
		chat.EventTransferGroupOwnership:        command(svc.TransferOwnership),
		chat.EventDeleteGroupMessageForEveryone: command(svc.DeleteGroupMessageForEveryone),
		chat.EventDeleteGroupMessageForMe:       command(svc.DeleteGroupMessageForMe),
		chat.EventStartTyping:                   command(typing(svc, chat.EventTyping)),
		chat.EventStopTyping:                    command(typing(svc, chat.EventStopTyping)),

		chat.EventClearNotifications:          noPayload(svc.ClearNotifications),
		chat.EventRequestInitialNotifications: noPayload(svc.InitialNotifications),
		chat.EventRequestInitialUnreadCounts:  noPayload(svc.PushUnreadCounts),
	}
	return r
}

// Dispatch runs one inbound frame to completion.
func (r *Router) Dispatch(ctx context.Context, c *Client, raw []byte) {
	var env inbound
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		observability.IncCommandFailure("malformed", string(domain.KindValidation))
		r.logger.Warn("malformed frame", zap.String("conn_id", c.info.ConnID), zap.Error(err))
		return
	}
	observability.IncWSEvent("in", env.Event)

	h, ok := r.routes[env.Event]
	if !ok {
		observability.IncCommandFailure(env.Event, string(domain.KindValidation))
		r.logger.Warn("unknown event", zap.String("event", env.Event), zap.String("conn_id", c.info.ConnID))
		return
	}

	sess := c.Session()
	ctx, span := observability.StartSpan(ctx, "ws."+env.Event, sess.TenantID(), sess.UserID())
	defer span.End()

	if err := r.call(ctx, h, c, env.Data); err != nil {
		kind := domain.KindOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		observability.IncCommandFailure(env.Event, string(kind))
		r.logger.Warn("command failed",
			zap.String("event", env.Event),
			zap.String("tenant_id", sess.TenantID()),
			zap.String("user_id", sess.UserID()),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
}

func (r *Router) call(ctx context.Context, h handlerFunc, c *Client, data json.RawMessage) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = domain.Internal("panic: %v", rec)
		}
	}()
	return h(ctx, c, data)
}

// Disconnected runs after the connection has left the hub.
func (r *Router) Disconnected(c *Client) {
	if c.authenticated.Load() {
		r.presence.Disconnected(c.Session())
	}
}

func (r *Router) authenticate(ctx context.Context, c *Client, _ json.RawMessage) error {
	r.hub.Join(c)
	c.authenticated.Store(true)
	if err := r.presence.Online(ctx, c.Session()); err != nil {
		return err
	}
	return r.chat.PushUnreadCounts(ctx, c.Session())
}

func (r *Router) logout(ctx context.Context, c *Client, _ json.RawMessage) error {
	return r.presence.Logout(ctx, c.Session())
}

func (r *Router) ping(_ context.Context, c *Client, _ json.RawMessage) error {
	frame, err := encodeFrame(chat.EventPong, chat.Pong{Time: time.Now().UTC()})
	if err != nil {
		return domain.Internal("encode pong: %v", err)
	}
	c.enqueue(frame)
	return nil
}

func command[T any](fn func(context.Context, *auth.Session, T) error) handlerFunc {
	return func(ctx context.Context, c *Client, data json.RawMessage) error {
		var req T
		if len(data) > 0 && string(data) != "null" {
			if err := json.Unmarshal(data, &req); err != nil {
				return domain.Validation("malformed payload: %v", err)
			}
		}
		return fn(ctx, c.Session(), req)
	}
}

func dropResult[T, R any](fn func(context.Context, *auth.Session, T) (R, error)) func(context.Context, *auth.Session, T) error {
	return func(ctx context.Context, sess *auth.Session, req T) error {
		_, err := fn(ctx, sess, req)
		return err
	}
}

func noPayload(fn func(context.Context, *auth.Session) error) handlerFunc {
	return func(ctx context.Context, c *Client, _ json.RawMessage) error {
		return fn(ctx, c.Session())
	}
}

func typing(svc *chat.Service, event string) func(context.Context, *auth.Session, chat.TypingRequest) error {
	return func(ctx context.Context, sess *auth.Session, req chat.TypingRequest) error {
		return svc.Typing(ctx, sess, event, req)
	}
}
