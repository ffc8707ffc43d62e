package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jaredcannon/device-metrics-hub/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.ServerConfig {
	t.Helper()
	t.Chdir(t.TempDir())

	cfg, err := config.LoadServer("")
	require.NoError(t, err)
	cfg.Database.DSN = filepath.Join(t.TempDir(), "metrics.db")
	cfg.Presence.CheckInterval = 20 * time.Millisecond
	return cfg
}

func TestNewServer_Routes(t *testing.T) {
	s, err := newServer(testConfig(t))
	require.NoError(t, err)
	defer s.close()

	resp, err := s.app.Test(httptest.NewRequest("GET", "/health", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := `{"device_id":"dev-1","mac_address":"aa:bb:cc:dd:ee:ff","hostname":"host-1"}`
	req := httptest.NewRequest("POST", "/devices/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err = s.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var created map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", created["mac_address"])
}

func TestServer_PresenceStartStop(t *testing.T) {
	s, err := newServer(testConfig(t))
	require.NoError(t, err)

	require.NoError(t, s.presence.Start(t.Context()))
	assert.Eventually(t, func() bool { return s.presence.Status().LastCheckTime != nil }, 2*time.Second, 10*time.Millisecond)

	s.close()
	assert.False(t, s.presence.IsRunning())
}

func TestMigrateCommand(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("METRICSHUB_DATABASE_DSN", filepath.Join(dir, "migrate.db"))

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"migrate"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "migrations complete")
	assert.FileExists(t, filepath.Join(dir, "migrate.db"))
}

func TestRootCommand_BadConfig(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "migrate"})

	assert.Error(t, cmd.Execute())
}
