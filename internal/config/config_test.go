package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, key := range []string{
		"HTTP_PORT", "SMTP_PORT", "DB_PATH", "DATABASE_URL", "REDIS_URL", "AUTH_SECRET",
		"SMTP_AUTH_ENABLED", "SMTP_USERNAME", "SMTP_PASSWORD", "PAGE_SIZE", "SYNC_INTERVAL",
		"LOG_LEVEL", "CORS_ORIGINS",
	} {
		t.Setenv(key, "")
	}

	cfg := FromEnv()
	assert.Equal(t, 3025, cfg.HTTPPort)
	assert.Equal(t, 2025, cfg.SMTPPort)
	assert.Empty(t, cfg.DBPath)
	assert.True(t, cfg.SMTPAuthEnabled)
	assert.Equal(t, "postbox", cfg.SMTPUsername)
	assert.Equal(t, 5, cfg.PageSize)
	assert.Equal(t, 2*time.Second, cfg.SyncInterval)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("HTTP_PORT", " 8080 ")
	t.Setenv("SMTP_AUTH_ENABLED", "false")
	t.Setenv("DATABASE_URL", "postgres://u:p@db/postbox")
	t.Setenv("PAGE_SIZE", "20")
	t.Setenv("SYNC_INTERVAL", "500ms")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CORS_ORIGINS", "http://a.test, ,http://b.test")

	cfg := FromEnv()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.False(t, cfg.SMTPAuthEnabled)
	assert.Equal(t, "postgres://u:p@db/postbox", cfg.DatabaseURL)
	assert.Equal(t, 20, cfg.PageSize)
	assert.Equal(t, 500*time.Millisecond, cfg.SyncInterval)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
}

func TestFromEnv_BadValuesFallBack(t *testing.T) {
	t.Setenv("HTTP_PORT", "http")
	t.Setenv("SYNC_INTERVAL", "-1s")
	t.Setenv("LOG_LEVEL", "loud")
	t.Setenv("SMTP_AUTH_ENABLED", "perhaps")

	cfg := FromEnv()
	assert.Equal(t, 3025, cfg.HTTPPort)
	assert.Equal(t, 2*time.Second, cfg.SyncInterval)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.True(t, cfg.SMTPAuthEnabled)
}
