package api

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/jaredcannon/device-metrics-hub/internal/models"
	"github.com/jaredcannon/device-metrics-hub/internal/services"
)

// MetricsHandler handles system metric submission and queries
type MetricsHandler struct {
	metrics *services.MetricsService
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(metrics *services.MetricsService) *MetricsHandler {
	return &MetricsHandler{metrics: metrics}
}

// SubmitMetricsRequest represents the request body for PUT /metrics/system
type SubmitMetricsRequest struct {
	DeviceID   string                 `json:"device_id,omitempty" validate:"max=64"`
	MACAddress string                 `json:"mac_address,omitempty" validate:"max=64"`
	Hostname   string                 `json:"hostname,omitempty" validate:"max=255"`
	Metrics    map[string]interface{} `json:"metrics" validate:"required"`
}

// numericValues converts metric values to floats. A recognized name with a
// non-numeric value is reported as invalid; an unrecognized one is passed on
// as NaN so ingest drops it.
func (h *MetricsHandler) numericValues(raw map[string]interface{}) (map[string]float64, []string) {
	values := make(map[string]float64, len(raw))
	var invalid []string
	for name, v := range raw {
		f, ok := toFloat(v)
		switch {
		case ok:
			values[name] = f
		case h.metrics.IsRecognized(name):
			invalid = append(invalid, "metrics."+name)
		default:
			values[name] = math.NaN()
		}
	}
	sort.Strings(invalid)
	return values, invalid
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// SubmitMetrics handles PUT /metrics/system
func (h *MetricsHandler) SubmitMetrics(c *fiber.Ctx) error {
	var req SubmitMetricsRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}
	if err := ValidateRequest(&req); err != nil {
		return HandleError(c, err, "Invalid metrics submission")
	}

	values, invalid := h.numericValues(req.Metrics)
	if len(invalid) > 0 {
		return HandleError(c, models.NewValidationError("Metric values must be numbers", invalid), "Invalid metrics submission")
	}

	result, err := h.metrics.Ingest(services.Identity{
		DeviceID:   req.DeviceID,
		MACAddress: req.MACAddress,
		Hostname:   req.Hostname,
	}, values)
	if err != nil {
		return HandleError(c, err, "Failed to store metrics")
	}

	return c.JSON(fiber.Map{
		"message":   "Metrics stored",
		"device_id": result.Device.ClientID,
		"stored":    result.Stored,
		"dropped":   result.Dropped,
	})
}

func identityFromQuery(c *fiber.Ctx) services.Identity {
	return services.Identity{
		DeviceID:   c.Query("device_id"),
		MACAddress: c.Query("mac_address"),
		Hostname:   c.Query("hostname"),
	}
}

// GetHistory handles GET /metrics/system/history/:metric_name
func (h *MetricsHandler) GetHistory(c *fiber.Ctx) error {
	points, err := h.metrics.History(c.Params("metric_name"), identityFromQuery(c), c.QueryInt("limit", 0))
	if err != nil {
		return HandleError(c, err, "Failed to load metric history")
	}
	return c.JSON(points)
}

// GetLatest handles GET /metrics/system/latest
func (h *MetricsHandler) GetLatest(c *fiber.Ctx) error {
	latest, err := h.metrics.Latest(identityFromQuery(c))
	if err != nil {
		return HandleError(c, err, "Failed to load latest metrics")
	}
	return c.JSON(latest)
}

// ListMetricNames handles GET /metrics/system/names
func (h *MetricsHandler) ListMetricNames(c *fiber.Ctx) error {
	return c.JSON(h.metrics.RecognizedNames())
}

// RegisterRoutes registers system metric routes
func (h *MetricsHandler) RegisterRoutes(router fiber.Router) {
	system := router.Group("/metrics/system")
	system.Put("/", h.SubmitMetrics)
	system.Get("/names", h.ListMetricNames)
	system.Get("/latest", h.GetLatest)
	system.Get("/history/:metric_name", h.GetHistory)
}
