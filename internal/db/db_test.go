package db

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsEmbedded(t *testing.T) {
	for _, dir := range []string{controlDir, tenantDir} {
		entries, err := fs.ReadDir(migrations, dir)
		require.NoError(t, err, dir)
		require.NotEmpty(t, entries, dir)
		for _, e := range entries {
			body, err := fs.ReadFile(migrations, dir+"/"+e.Name())
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(string(body), "-- +goose Up"), e.Name())
			assert.Contains(t, string(body), "-- +goose Down", e.Name())
		}
	}
}

func TestTenantMigrationCreatesChatTables(t *testing.T) {
	body, err := fs.ReadFile(migrations, tenantDir+"/00001_chat.sql")
	require.NoError(t, err)
	for _, table := range []string{
		"direct_messages", "direct_message_hides", "chat_groups", "group_members",
		"group_messages", "group_message_hides", "personal_notifications", "message_notifications",
	} {
		assert.Contains(t, string(body), "CREATE TABLE IF NOT EXISTS "+table+" (", table)
	}
}
