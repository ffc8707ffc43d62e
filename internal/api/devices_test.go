package api

import (
	"testing"

	"github.com/jaredcannon/device-metrics-hub/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceHandler_Register(t *testing.T) {
	app, _ := setupTestApp(t)

	t.Run("Creates then updates", func(t *testing.T) {
		var created RegisterDeviceResponse
		status := doJSON(t, app, "POST", "/devices/register", RegisterDeviceRequest{
			DeviceID: "run-1", MACAddress: "aa:bb:cc:dd:ee:ff", Hostname: "box", OSInfo: "linux",
		}, &created)
		assert.Equal(t, 201, status)
		assert.Equal(t, "run-1", created.DeviceID)
		assert.Equal(t, "aa:bb:cc:dd:ee:ff", created.MACAddress)
		assert.Equal(t, "box", created.Hostname)

		var updated RegisterDeviceResponse
		status = doJSON(t, app, "POST", "/devices/register", RegisterDeviceRequest{
			DeviceID: "run-2", MACAddress: "aa:bb:cc:dd:ee:ff", Hostname: "box",
		}, &updated)
		assert.Equal(t, 200, status)
		assert.Equal(t, created.ID, updated.ID)
		assert.Equal(t, "run-2", updated.DeviceID)

		var devices []models.Device
		assert.Equal(t, 200, doJSON(t, app, "GET", "/devices", nil, &devices))
		assert.Len(t, devices, 1)
	})

	t.Run("Rejects missing identifiers", func(t *testing.T) {
		var resp ErrorResponse
		status := doJSON(t, app, "POST", "/devices/register", RegisterDeviceRequest{Hostname: "box"}, &resp)
		assert.Equal(t, 400, status)
		assert.Equal(t, models.ErrCodeIdentityRequired, resp.Code)
		assert.NotEmpty(t, resp.Error)
	})

	t.Run("Rejects malformed body", func(t *testing.T) {
		var resp ErrorResponse
		status := doJSON(t, app, "POST", "/devices/register", "{not json", &resp)
		assert.Equal(t, 400, status)
		assert.Equal(t, "Invalid request body", resp.Error)
	})

	t.Run("Rejects oversized fields", func(t *testing.T) {
		long := make([]byte, 65)
		for i := range long {
			long[i] = 'a'
		}
		var resp ErrorResponse
		status := doJSON(t, app, "POST", "/devices/register", RegisterDeviceRequest{DeviceID: string(long)}, &resp)
		assert.Equal(t, 400, status)
		assert.Equal(t, models.ErrCodeValidationFailed, resp.Code)
		require.Contains(t, resp.Details, "invalid_fields")
		assert.Contains(t, resp.Details["invalid_fields"], "device_id")
	})
}
