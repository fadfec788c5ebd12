package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o600))
	return dir
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 5*time.Minute, cfg.Notifications.EmailDelay)
	assert.Equal(t, 10*time.Second, cfg.Notifications.EmailCheckDelay)
	assert.Equal(t, []string{"severity", "scan"}, cfg.Counter.DisplayFields)
	assert.Equal(t, 100, cfg.Pagination.DefaultLimit)
	assert.Equal(t, "notification-service", cfg.Redis.Group)
	assert.Empty(t, cfg.Notifications.Subject)
}

func TestLoadConfig_File(t *testing.T) {
	dir := writeConfig(t, `
server:
  port: 9090
notifications:
  email_delay: 2m
  fields: [severity]
counter:
  workers: 8
`)
	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.Notifications.EmailDelay)
	assert.Equal(t, []string{"severity"}, cfg.Notifications.Fields)
	assert.Equal(t, 8, cfg.Counter.Workers)
	// untouched keys keep their defaults
	assert.Equal(t, 100, cfg.Outbox.BatchSize)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	dir := writeConfig(t, "server:\n  port: 9090\n")
	t.Setenv("NOTIFY_SERVER_PORT", "7070")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoadConfig_Secrets(t *testing.T) {
	dir := writeConfig(t, `
smtp:
  password: from-file
jwt:
  secret: from-file
`)
	t.Setenv("NOTIFY_SMTP_PASSWORD", "smtp-secret")
	t.Setenv("NOTIFY_JWT_SECRET", "jwt-secret")
	t.Setenv("NOTIFY_DATABASE_DSN", "postgres://db/notifications")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "smtp-secret", cfg.SMTP.Password)
	assert.Equal(t, "jwt-secret", cfg.JWT.Secret)
	assert.Equal(t, "postgres://db/notifications", cfg.Database.DSN)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	dir := writeConfig(t, "server: [unterminated\n")
	_, err := LoadConfig(dir)
	assert.Error(t, err)
}

func TestConfig_Conversions(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	w := cfg.Outbox.ToWorkerConfig()
	assert.Equal(t, cfg.Outbox.BatchSize, w.BatchSize)
	assert.Equal(t, cfg.Outbox.Retention, w.Retention)

	b := cfg.Redis.ToBrokerConfig()
	assert.Equal(t, "notification-service", b.Group)
	assert.Equal(t, int64(100000), b.MaxLen)

	l := cfg.Log.ToLoggerConfig()
	assert.Equal(t, "info", l.Level)
}
