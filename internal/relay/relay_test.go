package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRelay(t *testing.T) *Relay {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	r := New(client, "chat:events", zap.NewNop())
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestHandleSkipsOwnMessages(t *testing.T) {
	r := newTestRelay(t)
	var got []Message

	own, err := json.Marshal(Message{Origin: r.Origin(), TenantID: "t1", UserID: "u1", Frame: json.RawMessage(`{}`)})
	require.NoError(t, err)
	r.handle(string(own), func(m Message) { got = append(got, m) })
	require.Empty(t, got)

	other, err := json.Marshal(Message{Origin: "other", TenantID: "t1", UserID: "u1", Frame: json.RawMessage(`{"event":"pong"}`)})
	require.NoError(t, err)
	r.handle(string(other), func(m Message) { got = append(got, m) })
	require.Len(t, got, 1)
	require.Equal(t, "u1", got[0].UserID)
	require.JSONEq(t, `{"event":"pong"}`, string(got[0].Frame))
}

func TestHandleDropsMalformedPayload(t *testing.T) {
	r := newTestRelay(t)
	called := false

	r.handle("not json", func(Message) { called = true })

	require.False(t, called)
}

func TestPublishReportsUnreachableRedis(t *testing.T) {
	r := newTestRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := r.Publish(ctx, Message{TenantID: "t1", Frame: json.RawMessage(`{}`)})
	require.Error(t, err)
}

func TestOriginIsUniquePerRelay(t *testing.T) {
	require.NotEqual(t, newTestRelay(t).Origin(), newTestRelay(t).Origin())
}
