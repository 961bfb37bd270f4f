package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"crm-chat/internal/observability"
	"crm-chat/internal/relay"
)

const relayBuffer = 1024

// Relay carries frames to other server processes.
type Relay interface {
	Publish(ctx context.Context, msg relay.Message) error
}

type roomKey struct {
	tenantID string
	userID   string
}

// Hub tracks live connections per tenant and per user room. Connections enter
// the tenant set at handshake and the user room on authenticate.
type Hub struct {
	mu      sync.RWMutex
	tenants map[string]map[*Client]struct{}
	rooms   map[roomKey]map[*Client]struct{}

	relay  Relay
	outbox chan relay.Message
	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		tenants: make(map[string]map[*Client]struct{}),
		rooms:   make(map[roomKey]map[*Client]struct{}),
		logger:  logger,
	}
}

// UseRelay mirrors every emission to r until ctx is done.
func (h *Hub) UseRelay(ctx context.Context, r Relay) {
	h.mu.Lock()
	h.relay = r
	h.outbox = make(chan relay.Message, relayBuffer)
	outbox := h.outbox
	h.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbox:
				pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				if err := r.Publish(pubCtx, msg); err != nil {
					h.logger.Warn("relay publish failed", zap.String("tenant_id", msg.TenantID), zap.Error(err))
				}
				cancel()
			}
		}
	}()
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	tenantID := c.session.TenantID()
	if _, ok := h.tenants[tenantID]; !ok {
		h.tenants[tenantID] = make(map[*Client]struct{})
	}
	h.tenants[tenantID][c] = struct{}{}
}

// Join adds the connection to its user's private room.
func (h *Hub) Join(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := roomKey{c.session.TenantID(), c.session.UserID()}
	if _, ok := h.rooms[key]; !ok {
		h.rooms[key] = make(map[*Client]struct{})
	}
	h.rooms[key][c] = struct{}{}
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	tenantID := c.session.TenantID()
	if conns, ok := h.tenants[tenantID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.tenants, tenantID)
		}
	}
	key := roomKey{tenantID, c.session.UserID()}
	if conns, ok := h.rooms[key]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, key)
		}
	}
}

// HasConnection reports whether the user has an authenticated connection on this process.
func (h *Hub) HasConnection(tenantID, userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomKey{tenantID, userID}]) > 0
}

// EmitToUser sends to every connection in the user's room. It never blocks.
func (h *Hub) EmitToUser(tenantID, userID, event string, data any) {
	frame, ok := h.encode(event, data)
	if !ok {
		return
	}
	h.deliverLocal(tenantID, userID, frame)
	h.forward(relay.Message{TenantID: tenantID, UserID: userID, Frame: frame})
}

// EmitToTenant sends to every connection of the tenant, authenticated or not.
func (h *Hub) EmitToTenant(tenantID, event string, data any) {
	frame, ok := h.encode(event, data)
	if !ok {
		return
	}
	h.deliverLocal(tenantID, "", frame)
	h.forward(relay.Message{TenantID: tenantID, Frame: frame})
}

// Deliver hands a frame received from another process to local connections only.
func (h *Hub) Deliver(msg relay.Message) {
	h.deliverLocal(msg.TenantID, msg.UserID, msg.Frame)
}

func (h *Hub) deliverLocal(tenantID, userID string, frame []byte) {
	h.mu.RLock()
	var targets []*Client
	if userID == "" {
		targets = make([]*Client, 0, len(h.tenants[tenantID]))
		for c := range h.tenants[tenantID] {
			targets = append(targets, c)
		}
	} else {
		room := h.rooms[roomKey{tenantID, userID}]
		targets = make([]*Client, 0, len(room))
		for c := range room {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(frame)
	}
}

func (h *Hub) forward(msg relay.Message) {
	h.mu.RLock()
	outbox := h.outbox
	h.mu.RUnlock()
	if outbox == nil {
		return
	}
	select {
	case outbox <- msg:
	default:
		observability.IncEmitDropped()
		h.logger.Warn("relay outbox full, frame dropped", zap.String("tenant_id", msg.TenantID))
	}
}

func (h *Hub) encode(event string, data any) ([]byte, bool) {
	frame, err := encodeFrame(event, data)
	if err != nil {
		h.logger.Error("encode event", zap.String("event", event), zap.Error(err))
		return nil, false
	}
	observability.IncWSEvent("out", event)
	return frame, true
}

func encodeFrame(event string, data any) (json.RawMessage, error) {
	return json.Marshal(outbound{Event: event, Data: data})
}
