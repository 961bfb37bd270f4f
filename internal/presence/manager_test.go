package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"crm-chat/internal/auth"
	"crm-chat/internal/models"
	"crm-chat/internal/repositories/memstore"
)

type fakeBroadcaster struct {
	mu      sync.Mutex
	live    map[string]bool
	events  []StatusChanged
	onCheck func()
}

func (b *fakeBroadcaster) EmitToTenant(_ string, event string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if event == EventUserStatusChanged {
		b.events = append(b.events, data.(StatusChanged))
	}
}

func (b *fakeBroadcaster) HasConnection(_ string, userID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.onCheck != nil {
		hook := b.onCheck
		b.onCheck = nil
		hook()
	}
	return b.live[userID]
}

func (b *fakeBroadcaster) setLive(userID string, live bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.live[userID] = live
}

func (b *fakeBroadcaster) statuses() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.Status)
	}
	return out
}

func setup(t *testing.T, grace time.Duration) (*Manager, *fakeBroadcaster, *memstore.Store, *auth.Session) {
	t.Helper()
	db := memstore.New()
	user := models.User{ID: "u1", FirstName: "Ann"}
	db.PutUser(user)
	b := &fakeBroadcaster{live: map[string]bool{}}
	clock := func() time.Time { return time.Date(2024, 5, 1, 14, 7, 0, 0, time.UTC) }
	m := NewManager(b, grace, zap.NewNop(), WithClock(clock))
	t.Cleanup(m.Stop)
	return m, b, db, auth.NewSession(user, "t1", db.Repositories())
}

func TestOnlineBroadcasts(t *testing.T) {
	m, b, db, sess := setup(t, time.Second)

	require.NoError(t, m.Online(context.Background(), sess))

	u, _ := db.User("u1")
	require.True(t, u.Online)
	require.NotNil(t, u.LastActive)
	require.Equal(t, []string{StatusOnline}, b.statuses())
	require.Equal(t, "Online", b.events[0].Description)
}

func TestDisconnectFlipsOfflineAfterGrace(t *testing.T) {
	m, b, db, sess := setup(t, 20*time.Millisecond)
	require.NoError(t, m.Online(context.Background(), sess))

	m.Disconnected(sess)
	require.True(t, m.Pending("t1", "u1"))

	require.Eventually(t, func() bool {
		u, _ := db.User("u1")
		return !u.Online
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(b.statuses()) == 2 }, time.Second, 5*time.Millisecond)

	b.mu.Lock()
	last := b.events[len(b.events)-1]
	b.mu.Unlock()
	require.Equal(t, StatusOffline, last.Status)
	require.Equal(t, "Last seen at 14:07", last.Description)
	require.False(t, m.Pending("t1", "u1"))
}

func TestReconnectWithinGraceCancelsFlip(t *testing.T) {
	m, b, db, sess := setup(t, 30*time.Millisecond)
	require.NoError(t, m.Online(context.Background(), sess))

	m.Disconnected(sess)
	require.NoError(t, m.Online(context.Background(), sess))
	require.False(t, m.Pending("t1", "u1"))

	time.Sleep(80 * time.Millisecond)
	u, _ := db.User("u1")
	require.True(t, u.Online)
	require.Equal(t, []string{StatusOnline, StatusOnline}, b.statuses())
}

func TestDisconnectWithOtherLiveConnection(t *testing.T) {
	m, b, _, sess := setup(t, 10*time.Millisecond)
	b.setLive("u1", true)

	m.Disconnected(sess)

	require.False(t, m.Pending("t1", "u1"))
}

func TestTimerSkipsFlipWhenConnectionReturned(t *testing.T) {
	m, b, db, sess := setup(t, 20*time.Millisecond)
	require.NoError(t, m.Online(context.Background(), sess))

	m.Disconnected(sess)
	b.setLive("u1", true)

	require.Eventually(t, func() bool { return !m.Pending("t1", "u1") }, time.Second, 5*time.Millisecond)
	u, _ := db.User("u1")
	require.True(t, u.Online)
	require.Equal(t, []string{StatusOnline}, b.statuses())
}

func TestLogoutFlipsImmediatelyAndConsumesDisconnect(t *testing.T) {
	m, b, db, sess := setup(t, time.Second)
	require.NoError(t, m.Online(context.Background(), sess))

	require.NoError(t, m.Logout(context.Background(), sess))
	u, _ := db.User("u1")
	require.False(t, u.Online)
	require.Equal(t, []string{StatusOnline, StatusOffline}, b.statuses())

	m.Disconnected(sess)
	require.False(t, m.Pending("t1", "u1"))

	// The marker is single use; the next disconnect debounces again.
	m.Disconnected(sess)
	require.True(t, m.Pending("t1", "u1"))
}

func TestReconnectDuringExpiryEndsOnline(t *testing.T) {
	m, b, db, sess := setup(t, 10*time.Millisecond)
	require.NoError(t, m.Online(context.Background(), sess))

	m.Disconnected(sess)

	reconnected := make(chan error, 1)
	b.mu.Lock()
	b.onCheck = func() {
		go func() { reconnected <- m.Online(context.Background(), sess) }()
	}
	b.mu.Unlock()

	select {
	case err := <-reconnected:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reconnect never ran")
	}

	require.Eventually(t, func() bool { return !m.Pending("t1", "u1") }, time.Second, 5*time.Millisecond)
	u, _ := db.User("u1")
	require.True(t, u.Online)
	statuses := b.statuses()
	require.Equal(t, StatusOnline, statuses[len(statuses)-1])
}
