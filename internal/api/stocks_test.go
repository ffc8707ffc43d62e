package api

import (
	"testing"

	"github.com/jaredcannon/device-metrics-hub/internal/models"
	"github.com/jaredcannon/device-metrics-hub/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStockHandler_Prices(t *testing.T) {
	app, _ := setupTestApp(t)

	t.Run("Negative price is rejected, positive price is stored", func(t *testing.T) {
		var errResp ErrorResponse
		assert.Equal(t, 400, doJSON(t, app, "PUT", "/metrics/stock/AAPL", `{"price": -5}`, &errResp))
		assert.Equal(t, models.ErrCodeValidationFailed, errResp.Code)

		assert.Equal(t, 200, doJSON(t, app, "PUT", "/metrics/stock/AAPL", `{"price": 123.45}`, nil))

		var history []models.PricePoint
		assert.Equal(t, 200, doJSON(t, app, "GET", "/metrics/stock/history/AAPL", nil, &history))
		require.Len(t, history, 1)
		assert.Equal(t, 123.45, history[0].Price)
	})

	t.Run("Rejects missing, zero and non-numeric prices", func(t *testing.T) {
		for _, body := range []string{`{}`, `{"price": 0}`, `{"price": "abc"}`, `{"price": true}`, `{"price": null}`} {
			assert.Equal(t, 400, doJSON(t, app, "PUT", "/metrics/stock/AAPL", body, nil), body)
		}
	})

	t.Run("Rejects invalid symbols", func(t *testing.T) {
		assert.Equal(t, 400, doJSON(t, app, "PUT", "/metrics/stock/A%20B", `{"price": 10}`, nil))
	})

	t.Run("Legacy form carries the symbol in the body", func(t *testing.T) {
		assert.Equal(t, 200, doJSON(t, app, "PUT", "/metrics/stock", `{"symbol": "msft", "price": 300}`, nil))
		assert.Equal(t, 400, doJSON(t, app, "PUT", "/metrics/stock", `{"price": 300}`, nil))

		var latest models.LatestPrice
		assert.Equal(t, 200, doJSON(t, app, "GET", "/metrics/stock/latest/MSFT", nil, &latest))
		assert.Equal(t, "MSFT", latest.Symbol)
		assert.Equal(t, 300.0, latest.Price)
	})

	t.Run("Lists symbols", func(t *testing.T) {
		var symbols []string
		assert.Equal(t, 200, doJSON(t, app, "GET", "/metrics/stock/symbols", nil, &symbols))
		assert.Equal(t, []string{"AAPL", "MSFT"}, symbols)
	})

	t.Run("Unknown symbol history is 404", func(t *testing.T) {
		assert.Equal(t, 404, doJSON(t, app, "GET", "/metrics/stock/history/ZZZZ", nil, nil))
		assert.Equal(t, 404, doJSON(t, app, "GET", "/metrics/stock/latest/ZZZZ", nil, nil))
	})
}

func TestStockHandler_Mailbox(t *testing.T) {
	app, deps := setupTestApp(t)

	_, err := deps.Identity.Resolve(services.Identity{DeviceID: "run-1", MACAddress: "aa:aa"}, services.CreateAlways)
	require.NoError(t, err)

	t.Run("Poll drains the pending symbol once", func(t *testing.T) {
		var set SymbolResponse
		assert.Equal(t, 200, doJSON(t, app, "POST", "/metrics/stock/pending", `{"symbol": "aapl"}`, &set))
		require.NotNil(t, set.Symbol)
		assert.Equal(t, "AAPL", *set.Symbol)

		var pending services.PendingSymbol
		assert.Equal(t, 200, doJSON(t, app, "GET", "/metrics/stock/pending", nil, &pending))
		require.NotNil(t, pending.Symbol)
		assert.Equal(t, "AAPL", *pending.Symbol)

		var first, second SymbolResponse
		assert.Equal(t, 200, doJSON(t, app, "GET", "/metrics/stock/poll?device_id=run-1", nil, &first))
		require.NotNil(t, first.Symbol)
		assert.Equal(t, "AAPL", *first.Symbol)

		assert.Equal(t, 200, doJSON(t, app, "GET", "/metrics/stock/poll?mac_address=aa:aa", nil, &second))
		assert.Nil(t, second.Symbol)
	})

	t.Run("Rejected poll keeps the pending symbol", func(t *testing.T) {
		_, err := deps.Mailbox.Set("MSFT")
		require.NoError(t, err)

		assert.Equal(t, 400, doJSON(t, app, "GET", "/metrics/stock/poll", nil, nil))
		assert.Equal(t, 404, doJSON(t, app, "GET", "/metrics/stock/poll?device_id=ghost", nil, nil))

		symbol, ok := deps.Mailbox.Peek()
		assert.True(t, ok)
		assert.Equal(t, "MSFT", symbol)
	})

	t.Run("Poll with a new MAC registers the device", func(t *testing.T) {
		var resp SymbolResponse
		assert.Equal(t, 200, doJSON(t, app, "GET", "/metrics/stock/poll?device_id=run-9&mac_address=bb:bb&hostname=new", nil, &resp))
		require.NotNil(t, resp.Symbol)
		assert.Equal(t, "MSFT", *resp.Symbol)

		d, err := deps.Identity.Lookup(services.Identity{MACAddress: "bb:bb"})
		require.NoError(t, err)
		assert.Equal(t, "new", d.Hostname)
	})

	t.Run("Rejects invalid pending symbol", func(t *testing.T) {
		assert.Equal(t, 400, doJSON(t, app, "POST", "/metrics/stock/pending", `{"symbol": ""}`, nil))
		assert.Equal(t, 400, doJSON(t, app, "POST", "/metrics/stock/pending", `{"symbol": "no way"}`, nil))
	})
}
