package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"crm-chat/internal/auth"
	"crm-chat/internal/domain"
	"crm-chat/internal/models"
	"crm-chat/internal/repositories/memstore"
)

const testTenant = "acme"

type emitted struct {
	userID string
	event  string
	data   any
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recordingEmitter) EmitToUser(tenantID, userID, event string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{userID: userID, event: event, data: data})
}

// to returns the payloads of event delivered to userID, in order.
func (r *recordingEmitter) to(userID, event string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, e := range r.events {
		if e.userID == userID && e.event == event {
			out = append(out, e.data)
		}
	}
	return out
}

func (r *recordingEmitter) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// fakeBlobs treats every name as uploaded unless it is listed in missing.
type fakeBlobs struct {
	mu      sync.Mutex
	copies  []string
	deleted []string
	tenants map[string]struct{}
	missing map[string]bool
	failDel bool
}

func (f *fakeBlobs) seen(tenantID string) {
	if f.tenants == nil {
		f.tenants = map[string]struct{}{}
	}
	f.tenants[tenantID] = struct{}{}
}

func (f *fakeBlobs) Copy(_ context.Context, tenantID, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen(tenantID)
	f.copies = append(f.copies, name)
	return "chat/copy-" + name, nil
}

func (f *fakeBlobs) Exists(_ context.Context, tenantID, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen(tenantID)
	return !f.missing[name], nil
}

func (f *fakeBlobs) Delete(_ context.Context, tenantID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen(tenantID)
	if f.failDel {
		return domain.Persistence("delete", context.DeadlineExceeded)
	}
	f.deleted = append(f.deleted, name)
	return nil
}

type fixture struct {
	t       *testing.T
	ctx     context.Context
	db      *memstore.Store
	emitter *recordingEmitter
	blobs   *fakeBlobs
	svc     *Service
	clock   time.Time
}

func newFixture(t *testing.T, userIDs ...string) *fixture {
	t.Helper()
	f := &fixture{
		t:       t,
		ctx:     context.Background(),
		db:      memstore.New(),
		emitter: &recordingEmitter{},
		blobs:   &fakeBlobs{},
		clock:   time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	for _, id := range userIDs {
		f.db.PutUser(models.User{ID: id, FirstName: id, LastName: "Test", Email: id + "@example.com"})
	}
	f.svc = NewService(f.emitter, f.blobs, zap.NewNop(), WithClock(f.tick))
	return f
}

// tick advances a second per call so every stored row gets a distinct timestamp.
func (f *fixture) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fixture) session(userID string) *auth.Session {
	u, ok := f.db.User(userID)
	require.True(f.t, ok, "unknown user %s", userID)
	return auth.NewSession(u, testTenant, f.db.Repositories())
}

func (f *fixture) group(owner string, members ...string) models.Group {
	f.t.Helper()
	g, err := f.svc.CreateGroup(f.ctx, f.session(owner), CreateGroupRequest{GroupName: "team", UserIDs: members})
	require.NoError(f.t, err)
	return g
}

func (f *fixture) send(from, to, body string) models.DirectMessage {
	f.t.Helper()
	msg, err := f.svc.SendMessage(f.ctx, f.session(from), SendMessageRequest{ToUserID: to, Message: body})
	require.NoError(f.t, err)
	return msg
}

func (f *fixture) sendGroup(from, groupID, body string) models.GroupMessage {
	f.t.Helper()
	msg, err := f.svc.SendGroupMessage(f.ctx, f.session(from), SendGroupMessageRequest{GroupID: groupID, Message: body})
	require.NoError(f.t, err)
	return msg
}

func (f *fixture) unread(userID string) (map[string]int, map[string]int) {
	f.t.Helper()
	repos := f.db.Repositories()
	direct, err := repos.Messages.UnreadCounts(f.ctx, userID)
	require.NoError(f.t, err)
	groups, err := repos.GroupMessages.UnreadCounts(f.ctx, userID)
	require.NoError(f.t, err)
	return direct, groups
}

func requireKind(t *testing.T, err error, kind domain.Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, domain.KindOf(err), "unexpected error: %v", err)
}

func TestSendMessageToUnknownUser(t *testing.T) {
	f := newFixture(t, "a")
	_, err := f.svc.SendMessage(f.ctx, f.session("a"), SendMessageRequest{ToUserID: "ghost", Message: "hi"})
	requireKind(t, err, domain.KindNotFound)
	require.Empty(t, f.db.DirectMessages())
}

func TestClearAndInitialNotifications(t *testing.T) {
	f := newFixture(t, "a", "b")
	f.send("a", "b", "one")
	f.send("a", "b", "two")

	require.NoError(t, f.svc.InitialNotifications(f.ctx, f.session("b")))
	pushed := f.emitter.to("b", EventInitialNotifications)
	require.Len(t, pushed, 1)
	list := pushed[0].(InitialNotifications).Notifications
	require.Len(t, list, 2)
	require.Equal(t, "two", list[0].SubText)

	require.NoError(t, f.svc.ClearNotifications(f.ctx, f.session("b")))
	require.Len(t, f.emitter.to("b", EventNotificationsCleared), 1)
	require.Empty(t, f.db.MessageNotifications("b"))
}

func TestPushUnreadCountsEmitsBothMaps(t *testing.T) {
	f := newFixture(t, "a", "b")
	f.send("a", "b", "hi")

	require.NoError(t, f.svc.PushUnreadCounts(f.ctx, f.session("b")))
	direct := f.emitter.to("b", EventUnreadMessagesCount)
	require.Len(t, direct, 1)
	require.Equal(t, map[string]int{"a": 1}, direct[0].(UnreadMessagesCount).UnreadMessagesMap)
	require.Len(t, f.emitter.to("b", EventUnreadGroupMessagesCount), 1)
}
