package api

import (
	"io"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jaredcannon/device-metrics-hub/internal/models"
	"github.com/jaredcannon/device-metrics-hub/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDashboardHandler(t *testing.T) {
	app, deps := setupTestApp(t)

	_, err := deps.Metrics.Ingest(services.Identity{DeviceID: "run-1", MACAddress: "aa:aa", Hostname: "office-pc"}, map[string]float64{"cpu_usage": 42})
	require.NoError(t, err)
	_, err = deps.Stocks.RecordPrice("AAPL", 187.25)
	require.NoError(t, err)

	get := func(t *testing.T) (int, string) {
		resp, err := app.Test(httptest.NewRequest("GET", "/dashboard", nil), -1)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	post := func(t *testing.T, symbol string) (int, string) {
		form := url.Values{"symbol": {symbol}}
		req := httptest.NewRequest("POST", "/dashboard/symbols", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	t.Run("Renders devices, metrics and prices", func(t *testing.T) {
		status, body := get(t)
		assert.Equal(t, 200, status)
		assert.Contains(t, body, "office-pc")
		assert.Contains(t, body, "42.0")
		assert.Contains(t, body, "AAPL")
		assert.Contains(t, body, "187.25")
	})

	t.Run("Queues a symbol", func(t *testing.T) {
		status, body := post(t, "msft")
		assert.Equal(t, 200, status)
		assert.Contains(t, body, "Queued MSFT")

		symbol, ok := deps.Mailbox.Peek()
		assert.True(t, ok)
		assert.Equal(t, "MSFT", symbol)
	})

	t.Run("Invalid symbol is an inline error panel", func(t *testing.T) {
		status, body := post(t, "<b>")
		assert.Equal(t, 400, status)
		assert.Contains(t, body, `class="panel error"`)
		assert.NotContains(t, body, "<b>")

		symbol, _ := deps.Mailbox.Peek()
		assert.Equal(t, "MSFT", symbol)
	})

	t.Run("Storage failure renders error panels", func(t *testing.T) {
		sqlDB, err := deps.DB.DB()
		require.NoError(t, err)
		require.NoError(t, sqlDB.Close())

		status, body := get(t)
		assert.Equal(t, 200, status)
		assert.Contains(t, body, "Could not load devices")
		assert.Contains(t, body, "Could not load stock symbols")
	})
}

func TestDashboardHandler_DevicesSharingMAC(t *testing.T) {
	app, deps := setupTestApp(t)
	now := time.Now().UTC()

	first := models.Device{ClientID: "old-1", MACAddress: "aa:aa", Hostname: "first-host", LastSeen: now}
	second := models.Device{ClientID: "old-2", MACAddress: "aa:aa", Hostname: "second-host", LastSeen: now.Add(time.Minute)}
	require.NoError(t, deps.DB.Create(&first).Error)
	require.NoError(t, deps.DB.Create(&second).Error)
	require.NoError(t, deps.DB.Create(&models.MetricSample{DeviceID: first.ID, MetricName: "cpu_usage", MetricValue: 11, RecordedAt: now}).Error)
	require.NoError(t, deps.DB.Create(&models.MetricSample{DeviceID: second.ID, MetricName: "cpu_usage", MetricValue: 22, RecordedAt: now}).Error)

	resp, err := app.Test(httptest.NewRequest("GET", "/dashboard", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, string(body), "11.0")
	assert.Contains(t, string(body), "22.0")
}

func TestHealthHandler(t *testing.T) {
	app, deps := setupTestApp(t)

	assert.Equal(t, 200, doJSON(t, app, "GET", "/health", nil, nil))
	assert.Equal(t, 200, doJSON(t, app, "GET", "/readyz", nil, nil))

	var status services.PresenceStatus
	assert.Equal(t, 200, doJSON(t, app, "GET", "/presence/status", nil, &status))
	assert.False(t, status.Running)

	var resp ErrorResponse
	assert.Equal(t, 404, doJSON(t, app, "GET", "/nope", nil, &resp))
	assert.Equal(t, "NOT_FOUND", resp.Code)

	sqlDB, err := deps.DB.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
	assert.Equal(t, 503, doJSON(t, app, "GET", "/readyz", nil, nil))
}
