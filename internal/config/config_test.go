package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidateWithSecret(t *testing.T) {
	cfg := Default()
	cfg.Auth.SessionSecret = "s"
	assert.NoError(t, cfg.Validate())
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("LINKDESK_AUTH__SESSION_SECRET", "env-secret")
	t.Setenv("LINKDESK_HTTP__PORT", "9999")
	t.Setenv("LINKDESK_WEBSOCKET__PING_INTERVAL", "10s")
	t.Setenv("LINKDESK_WEBSOCKET__READ_TIMEOUT", "25s")
	t.Setenv("LINKDESK_LOG__LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "env-secret", cfg.Auth.SessionSecret)
	assert.Equal(t, 9999, cfg.HTTP.Port)
	assert.Equal(t, 10*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, 25*time.Second, cfg.WebSocket.ReadTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Untouched keys keep defaults.
	assert.Equal(t, "/ws/notifications", cfg.WebSocket.Path)
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
http:
  port: 7070
websocket:
  path: /ws/live
auth:
  session_secret: file-secret
journal:
  enabled: true
  path: ` + filepath.Join(dir, "journal.db") + `
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.HTTP.Port)
	assert.Equal(t, "/ws/live", cfg.WebSocket.Path)
	assert.Equal(t, "file-secret", cfg.Auth.SessionSecret)
	assert.True(t, cfg.Journal.Enabled)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http:\n  port: 7070\nauth:\n  session_secret: file-secret\n"), 0o600))

	t.Setenv("LINKDESK_HTTP__PORT", "7071")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7071, cfg.HTTP.Port)
	assert.Equal(t, "file-secret", cfg.Auth.SessionSecret)
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing secret", func(c *Config) { c.Auth.SessionSecret = "" }},
		{"bad port", func(c *Config) { c.HTTP.Port = 0 }},
		{"port too large", func(c *Config) { c.HTTP.Port = 70000 }},
		{"empty host", func(c *Config) { c.HTTP.Host = "" }},
		{"relative ws path", func(c *Config) { c.WebSocket.Path = "ws" }},
		{"zero ping interval", func(c *Config) { c.WebSocket.PingInterval = 0 }},
		{"read timeout under ping", func(c *Config) { c.WebSocket.ReadTimeout = c.WebSocket.PingInterval }},
		{"zero send buffer", func(c *Config) { c.WebSocket.SendBuffer = 0 }},
		{"journal enabled without path", func(c *Config) { c.Journal.Enabled = true; c.Journal.Path = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.Auth.SessionSecret = "s"
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
