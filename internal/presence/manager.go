// Package presence tracks which users are online and debounces transient
// disconnects with a per-user grace timer.
package presence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"crm-chat/internal/auth"
	"crm-chat/internal/domain"
	"crm-chat/internal/observability"
	"crm-chat/internal/repositories"
)

const (
	EventUserStatusChanged = "userStatusChanged"

	StatusOnline  = "online"
	StatusOffline = "offline"
)

// StatusChanged is broadcast to every connection of the tenant.
type StatusChanged struct {
	UserID      string `json:"userId"`
	Status      string `json:"status"`
	Description string `json:"description"`
}

// Broadcaster is the part of the transport presence needs.
type Broadcaster interface {
	EmitToTenant(tenantID, event string, data any)
	HasConnection(tenantID, userID string) bool
}

type key struct {
	tenantID string
	userID   string
}

// Manager is process-local; a restart forgets pending timers and logout markers.
type Manager struct {
	broadcaster Broadcaster
	grace       time.Duration
	logger      *zap.Logger
	now         func() time.Time

	mu        sync.Mutex
	timers    map[key]*time.Timer
	loggedOut map[key]struct{}
	slots     map[key]*slot
}

// slot serializes the store write and broadcast of one user's flips. epoch is
// guarded by Manager.mu and bumps on every explicit Online or Logout.
type slot struct {
	mu    sync.Mutex
	epoch uint64
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(broadcaster Broadcaster, grace time.Duration, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		broadcaster: broadcaster,
		grace:       grace,
		logger:      logger,
		now:         time.Now,
		timers:      make(map[key]*time.Timer),
		loggedOut:   make(map[key]struct{}),
		slots:       make(map[key]*slot),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Online cancels any pending offline flip and marks the user online.
func (m *Manager) Online(ctx context.Context, sess *auth.Session) error {
	k := key{sess.TenantID(), sess.UserID()}
	m.mu.Lock()
	if t, ok := m.timers[k]; ok {
		t.Stop()
		delete(m.timers, k)
	}
	delete(m.loggedOut, k)
	sl := m.slotLocked(k)
	sl.epoch++
	m.mu.Unlock()

	sl.mu.Lock()
	defer sl.mu.Unlock()
	return m.flip(ctx, sess.Store(), k, true)
}

// Logout flips the user offline immediately. The disconnect that follows is
// then consumed without starting a grace timer.
func (m *Manager) Logout(ctx context.Context, sess *auth.Session) error {
	k := key{sess.TenantID(), sess.UserID()}
	m.mu.Lock()
	if t, ok := m.timers[k]; ok {
		t.Stop()
		delete(m.timers, k)
	}
	m.loggedOut[k] = struct{}{}
	sl := m.slotLocked(k)
	sl.epoch++
	m.mu.Unlock()

	sl.mu.Lock()
	defer sl.mu.Unlock()
	return m.flip(ctx, sess.Store(), k, false)
}

// Disconnected must be called after the connection has left the transport.
func (m *Manager) Disconnected(sess *auth.Session) {
	k := key{sess.TenantID(), sess.UserID()}
	store := sess.Store()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.loggedOut[k]; ok {
		delete(m.loggedOut, k)
		return
	}
	if m.broadcaster.HasConnection(k.tenantID, k.userID) {
		return
	}
	if old, ok := m.timers[k]; ok {
		old.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(m.grace, func() { m.expire(k, t, store) })
	m.timers[k] = t
}

func (m *Manager) expire(k key, t *time.Timer, store *repositories.Store) {
	m.mu.Lock()
	if m.timers[k] != t {
		m.mu.Unlock()
		return
	}
	delete(m.timers, k)
	sl := m.slotLocked(k)
	epoch := sl.epoch
	m.mu.Unlock()

	sl.mu.Lock()
	defer sl.mu.Unlock()

	// A reconnect that landed after the timer fired wins over the offline flip.
	m.mu.Lock()
	stale := sl.epoch != epoch || m.broadcaster.HasConnection(k.tenantID, k.userID)
	m.mu.Unlock()
	if stale {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.flip(ctx, store, k, false); err != nil {
		m.logger.Warn("presence offline flip failed",
			zap.String("tenant_id", k.tenantID),
			zap.String("user_id", k.userID),
			zap.Error(err),
		)
	}
}

func (m *Manager) slotLocked(k key) *slot {
	sl, ok := m.slots[k]
	if !ok {
		sl = &slot{}
		m.slots[k] = sl
	}
	return sl
}

// Pending reports whether an offline flip is scheduled for the user.
func (m *Manager) Pending(tenantID, userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[key{tenantID, userID}]
	return ok
}

// Stop cancels every pending timer. Users keep their last stored status.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, t := range m.timers {
		t.Stop()
		delete(m.timers, k)
	}
}

func (m *Manager) flip(ctx context.Context, store *repositories.Store, k key, online bool) error {
	at := m.now()
	if err := store.Users.SetPresence(ctx, k.userID, online, at); err != nil {
		return domain.Persistence("set presence", err)
	}

	event := StatusChanged{UserID: k.userID, Status: StatusOnline, Description: "Online"}
	if !online {
		event.Status = StatusOffline
		event.Description = "Last seen at " + at.Format("15:04")
	}
	m.broadcaster.EmitToTenant(k.tenantID, EventUserStatusChanged, event)
	observability.IncPresenceTransition(event.Status)
	return nil
}
