package app

import (
	"context"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkdesk/internal/config"
	"linkdesk/internal/logging"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Auth.SessionSecret = "app-test-secret"
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = freePort(t)
	return cfg
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default() // no session secret
	_, err := New(cfg, logging.Nop())
	assert.Error(t, err)
}

func TestStartStopCycle(t *testing.T) {
	cfg := testConfig(t)
	cfg.Journal.Enabled = true
	cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")

	application, err := New(cfg, logging.Nop())
	require.NoError(t, err)
	require.NotNil(t, application.Notifier())

	ctx := context.Background()
	require.NoError(t, application.Start(ctx))

	resp, err := http.Get("http://" + application.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, application.Stop(shutdownCtx))
}
