package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonKeys(t *testing.T, v any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestClientPayloadsUseCamelCaseKeys(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	file := &FileMeta{URL: "chat/a.png", Type: "image/png", Name: "a.png", Size: 3}

	direct, err := NewDirectMessage("a", "b", "", file, now)
	require.NoError(t, err)
	group, err := NewGroupMessage("g1", "a", "", file, now)
	require.NoError(t, err)
	notice := NewSystemMessage("g1", "a left", "a", now)
	image := "chat/logo.png"

	payloads := map[string]any{
		"direct":     direct,
		"group":      group,
		"notice":     notice,
		"chat group": Group{ID: "g1", TenantID: "acme", CreatorID: "a", CreatedAt: now, Image: &image},
		"membership": GroupMembership{GroupID: "g1", UserID: "a", DisableDate: &now, RemovedByAdmin: true},
		"note":       NewPersonalNotification("a", "g1", "hi", now),
		"inbox":      NewMessageNotification("a", "Ann", "hi", nil, now),
		"tenant":     Tenant{ID: "acme", SchemaName: "tenant_acme", CreatedAt: now},
	}
	for name, payload := range payloads {
		for key := range jsonKeys(t, payload) {
			assert.NotContains(t, key, "_", "%s key %s", name, key)
			assert.Equal(t, strings.ToLower(key[:1]), key[:1], "%s key %s", name, key)
		}
	}

	keys := jsonKeys(t, group)
	for _, key := range []string{"groupId", "fromUserId", "readBy", "fileUrl", "fileType", "fileName", "fileSize"} {
		assert.Contains(t, keys, key)
	}
	assert.Contains(t, jsonKeys(t, notice), "excludedUserId")
	assert.Contains(t, jsonKeys(t, direct), "toUserId")
}

func TestReadByRoundTripsAsSortedArray(t *testing.T) {
	r := NewReadBy("b", "a")
	raw, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `["a","b"]`, string(raw))

	value, err := r.Value()
	require.NoError(t, err)
	var back ReadBy
	require.NoError(t, back.Scan(value))
	assert.True(t, back.Contains("a"))
	assert.False(t, back.Add("b"))
}
