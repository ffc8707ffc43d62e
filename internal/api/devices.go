package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jaredcannon/device-metrics-hub/internal/services"
)

// DeviceHandler handles device registration and listing
type DeviceHandler struct {
	identity *services.IdentityService
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(identity *services.IdentityService) *DeviceHandler {
	return &DeviceHandler{identity: identity}
}

// RegisterDeviceRequest represents the request body for registering a device
type RegisterDeviceRequest struct {
	DeviceID   string `json:"device_id" validate:"max=64"`
	MACAddress string `json:"mac_address" validate:"max=64"`
	Hostname   string `json:"hostname" validate:"max=255"`
	OSInfo     string `json:"os_info,omitempty" validate:"max=255"`
}

func (r RegisterDeviceRequest) identity() services.Identity {
	return services.Identity{
		DeviceID:   r.DeviceID,
		MACAddress: r.MACAddress,
		Hostname:   r.Hostname,
		OSInfo:     r.OSInfo,
	}
}

// RegisterDeviceResponse is returned by POST /devices/register
type RegisterDeviceResponse struct {
	ID         uuid.UUID              `json:"id"`
	DeviceID   string                 `json:"device_id"`
	MACAddress string                 `json:"mac_address"`
	Hostname   string                 `json:"hostname"`
	Action     services.ResolveAction `json:"action"`
}

// RegisterDevice handles POST /devices/register
func (h *DeviceHandler) RegisterDevice(c *fiber.Ctx) error {
	var req RegisterDeviceRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}
	if err := ValidateRequest(&req); err != nil {
		return HandleError(c, err, "Invalid registration")
	}

	res, err := h.identity.Resolve(req.identity(), services.CreateAlways)
	if err != nil {
		return HandleError(c, err, "Failed to register device")
	}

	status := fiber.StatusOK
	if res.Created() {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(RegisterDeviceResponse{
		ID:         res.Device.ID,
		DeviceID:   res.Device.ClientID,
		MACAddress: res.Device.MACAddress,
		Hostname:   res.Device.Hostname,
		Action:     res.Action,
	})
}

// ListDevices handles GET /devices
func (h *DeviceHandler) ListDevices(c *fiber.Ctx) error {
	devices, err := h.identity.ListDevices()
	if err != nil {
		return HandleError(c, err, "Failed to list devices")
	}
	return c.JSON(devices)
}

// RegisterRoutes registers device routes
func (h *DeviceHandler) RegisterRoutes(router fiber.Router) {
	devices := router.Group("/devices")
	devices.Get("/", h.ListDevices)
	devices.Post("/register", h.RegisterDevice)
}
