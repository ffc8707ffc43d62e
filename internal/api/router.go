package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/jaredcannon/device-metrics-hub/internal/logs"
	"github.com/jaredcannon/device-metrics-hub/internal/models"
	"github.com/jaredcannon/device-metrics-hub/internal/services"
	"github.com/jaredcannon/device-metrics-hub/internal/websocket"
	"gorm.io/gorm"
)

// Dependencies are the services the HTTP layer is built on. Presence and Hub
// are optional.
type Dependencies struct {
	DB       *gorm.DB
	Identity *services.IdentityService
	Metrics  *services.MetricsService
	Stocks   *services.StockService
	Mailbox  *services.SymbolMailbox
	Presence *services.PresenceService
	Hub      *websocket.Hub

	// AccessLog enables the request logger middleware
	AccessLog bool
}

// errorHandler renders errors that escape handlers, including fiber's own
// 404/405, as JSON
func errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code := models.ErrCodeInternalError
		switch fe.Code {
		case fiber.StatusNotFound:
			code = models.ErrCodeNotFound
		case fiber.StatusBadRequest, fiber.StatusUnprocessableEntity:
			code = models.ErrCodeValidationFailed
		}
		return c.Status(fe.Code).JSON(ErrorResponse{Error: fe.Message, Code: code})
	}
	return HandleError(c, err, "Internal server error")
}

// NewApp builds the fiber application with middleware and every route
func NewApp(deps Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "Device Metrics Hub",
		ErrorHandler: errorHandler,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	if deps.AccessLog {
		app.Use(logger.New(logger.Config{
			Format: "${time} ${locals:requestid} ${status} - ${method} ${path} ${latency}\n",
			Output: logs.Logger.Writer(),
		}))
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	NewHealthHandler(deps.DB, deps.Presence).RegisterRoutes(app)
	NewDeviceHandler(deps.Identity).RegisterRoutes(app)
	NewMetricsHandler(deps.Metrics).RegisterRoutes(app)
	NewStockHandler(deps.Stocks, deps.Mailbox, deps.Identity).RegisterRoutes(app)
	NewDashboardHandler(deps.Identity, deps.Metrics, deps.Stocks, deps.Mailbox).RegisterRoutes(app)
	if deps.Hub != nil {
		NewWebSocketHandler(deps.Hub).RegisterRoutes(app)
	}

	return app
}
