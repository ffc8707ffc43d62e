package api

import (
	"testing"

	"github.com/jaredcannon/device-metrics-hub/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandler(t *testing.T) {
	app, _ := setupTestApp(t)

	submit := func(body interface{}, out interface{}) int {
		return doJSON(t, app, "PUT", "/metrics/system", body, out)
	}

	t.Run("Stores recognized metrics for a new MAC", func(t *testing.T) {
		var resp map[string]interface{}
		status := submit(map[string]interface{}{
			"device_id":   "run-1",
			"mac_address": "aa:aa",
			"hostname":    "box",
			"metrics":     map[string]interface{}{"cpu_usage": 12.5, "ram_usage": "40", "fan_speed": "fast"},
		}, &resp)
		assert.Equal(t, 200, status)
		assert.EqualValues(t, 2, resp["stored"])
		assert.Equal(t, []interface{}{"fan_speed"}, resp["dropped"])
	})

	t.Run("Requires an identifier", func(t *testing.T) {
		var resp ErrorResponse
		status := submit(map[string]interface{}{"metrics": map[string]interface{}{"cpu_usage": 1}}, &resp)
		assert.Equal(t, 400, status)
		assert.Equal(t, models.ErrCodeIdentityRequired, resp.Code)
	})

	t.Run("Rejects a body without metrics", func(t *testing.T) {
		var resp ErrorResponse
		status := submit(map[string]interface{}{"device_id": "run-9", "mac_address": "cc:cc"}, &resp)
		assert.Equal(t, 400, status)
		assert.Equal(t, models.ErrCodeValidationFailed, resp.Code)
		assert.Equal(t, []interface{}{"metrics"}, resp.Details["invalid_fields"])

		var devices []models.Device
		require.Equal(t, 200, doJSON(t, app, "GET", "/devices", nil, &devices))
		for _, d := range devices {
			assert.NotEqual(t, "cc:cc", d.MACAddress, "rejected submission must not create a device")
		}
	})

	t.Run("Unknown device id without MAC is 404", func(t *testing.T) {
		var resp ErrorResponse
		status := submit(map[string]interface{}{"device_id": "ghost", "metrics": map[string]interface{}{"cpu_usage": 1}}, &resp)
		assert.Equal(t, 404, status)
		assert.Equal(t, models.ErrCodeNotFound, resp.Code)
	})

	t.Run("Rejects non-numeric recognized values", func(t *testing.T) {
		var resp ErrorResponse
		status := submit(map[string]interface{}{"mac_address": "aa:aa", "metrics": map[string]interface{}{"cpu_usage": true}}, &resp)
		assert.Equal(t, 400, status)
		assert.Equal(t, models.ErrCodeValidationFailed, resp.Code)
	})

	t.Run("History and latest", func(t *testing.T) {
		require.Equal(t, 200, submit(map[string]interface{}{
			"device_id": "run-1",
			"metrics":   map[string]interface{}{"cpu_usage": 20},
		}, nil))

		var points []models.MetricPoint
		assert.Equal(t, 200, doJSON(t, app, "GET", "/metrics/system/history/cpu_usage?device_id=run-1", nil, &points))
		require.Len(t, points, 2)
		assert.Equal(t, 12.5, points[0].MetricValue)
		assert.Equal(t, 20.0, points[1].MetricValue)

		var latest map[string]models.MetricPoint
		assert.Equal(t, 200, doJSON(t, app, "GET", "/metrics/system/latest?mac_address=aa:aa", nil, &latest))
		assert.Equal(t, 20.0, latest["cpu_usage"].MetricValue)
		assert.Equal(t, 40.0, latest["ram_usage"].MetricValue)
	})

	t.Run("History 404s", func(t *testing.T) {
		var resp ErrorResponse
		assert.Equal(t, 404, doJSON(t, app, "GET", "/metrics/system/history/fan_speed", nil, &resp))
		assert.Equal(t, 404, doJSON(t, app, "GET", "/metrics/system/history/cpu_usage?device_id=ghost", nil, &resp))
	})

	t.Run("Lists metric names", func(t *testing.T) {
		var names []string
		assert.Equal(t, 200, doJSON(t, app, "GET", "/metrics/system/names", nil, &names))
		assert.ElementsMatch(t, models.DefaultMetricNames, names)
	})
}
