package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/jaredcannon/device-metrics-hub/internal/db"
	"github.com/jaredcannon/device-metrics-hub/internal/services"
	"github.com/stretchr/testify/require"
)

// setupTestApp creates a Fiber app with real database and services for testing
func setupTestApp(t *testing.T) (*fiber.App, Dependencies) {
	gdb, err := db.Open(db.DriverSQLite, ":memory:", true)
	require.NoError(t, err, "Failed to open in-memory database")
	require.NoError(t, db.Migrate(gdb), "Failed to run migrations")
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})

	identity := services.NewIdentityService(gdb)
	deps := Dependencies{
		DB:       gdb,
		Identity: identity,
		Metrics:  services.NewMetricsService(gdb, identity, nil),
		Stocks:   services.NewStockService(gdb),
		Mailbox:  services.NewSymbolMailbox(),
		Presence: services.NewPresenceService(gdb, nil),
	}
	return NewApp(deps), deps
}

// doJSON sends body (marshaled unless it is a string) and decodes the JSON response into out
func doJSON(t *testing.T, app *fiber.App, method, path string, body interface{}, out interface{}) int {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, out), "body: %s", raw)
	}
	return resp.StatusCode
}
