package ws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"crm-chat/internal/auth"
	"crm-chat/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 256
)

// Client is one socket connection. Its session is fixed at handshake.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	session *auth.Session
	info    ConnInfo
	logger  *zap.Logger

	send          chan []byte
	done          chan struct{}
	closeOnce     sync.Once
	authenticated atomic.Bool
}

func newClient(hub *Hub, conn *websocket.Conn, sess *auth.Session, info ConnInfo, logger *zap.Logger) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		session: sess,
		info:    info,
		logger:  logger,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
	}
}

func (c *Client) Session() *auth.Session {
	return c.session
}

// enqueue queues a frame without blocking. A full buffer drops the frame.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		observability.IncEmitDropped()
		c.logger.Warn("send buffer full, frame dropped",
			zap.String("conn_id", c.info.ConnID),
			zap.String("tenant_id", c.info.TenantID),
			zap.String("user_id", c.info.UserID),
		)
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// run pumps frames until either side fails. Commands are dispatched one at a
// time in read order.
func (c *Client) run(ctx context.Context, router *Router) error {
	defer c.close()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer c.close()
		return c.readPump(ctx, router)
	})
	g.Go(func() error {
		defer c.close()
		return c.writePump(ctx)
	})
	return g.Wait()
}

func (c *Client) readPump(ctx context.Context, router *Router) error {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return err
			}
			return nil
		}
		router.Dispatch(ctx, c, raw)
	}
}

func (c *Client) writePump(ctx context.Context) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return err
			}
		}
	}
}
