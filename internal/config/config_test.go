package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, 10*time.Second, cfg.Presence.Grace)
	assert.Equal(t, "chat:events", cfg.Redis.Channel)
	assert.False(t, cfg.Redis.Enabled())
	assert.True(t, cfg.Tenants.AutoMigrate)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PRESENCE_GRACE", "250ms")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("POSTGRES_HOST", "db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Presence.Grace)
	assert.True(t, cfg.Redis.Enabled())
	assert.Contains(t, cfg.Database.DSN(), "host=db")
	assert.Contains(t, cfg.Database.SchemaDSN("tenant_acme"), "search_path=tenant_acme")
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	require.NoError(t, os.Unsetenv("JWT_SECRET"))

	_, err := Load()
	assert.Error(t, err)
}
