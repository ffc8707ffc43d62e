package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jaredcannon/device-metrics-hub/internal/services"
	"gorm.io/gorm"
)

// HealthHandler serves liveness, readiness and presence monitor status
type HealthHandler struct {
	db       *gorm.DB
	presence *services.PresenceService
}

// NewHealthHandler creates a new health handler. presence may be nil
func NewHealthHandler(db *gorm.DB, presence *services.PresenceService) *HealthHandler {
	return &HealthHandler{db: db, presence: presence}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
	})
}

// Ready handles GET /readyz by pinging the database
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	sqlDB, err := h.db.DB()
	if err == nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unavailable",
			"error":  "Database is not reachable",
		})
	}
	return c.JSON(fiber.Map{
		"status": "ready",
	})
}

// PresenceStatus handles GET /presence/status
func (h *HealthHandler) PresenceStatus(c *fiber.Ctx) error {
	if h.presence == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{
			Error: "Presence monitor is not configured",
		})
	}
	return c.JSON(h.presence.Status())
}

// RegisterRoutes registers health routes
func (h *HealthHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/health", h.Health)
	router.Get("/readyz", h.Ready)
	router.Get("/presence/status", h.PresenceStatus)
}
