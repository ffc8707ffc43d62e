package api

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jaredcannon/device-metrics-hub/internal/logs"
	"github.com/jaredcannon/device-metrics-hub/internal/models"
	"github.com/jaredcannon/device-metrics-hub/internal/services"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var dashboardTemplate = template.Must(template.ParseFS(templateFS, "templates/dashboard.tmpl"))

// DashboardHandler renders the operator dashboard
type DashboardHandler struct {
	identity *services.IdentityService
	metrics  *services.MetricsService
	stocks   *services.StockService
	mailbox  *services.SymbolMailbox
	refresh  time.Duration
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(identity *services.IdentityService, metrics *services.MetricsService, stocks *services.StockService, mailbox *services.SymbolMailbox) *DashboardHandler {
	return &DashboardHandler{
		identity: identity,
		metrics:  metrics,
		stocks:   stocks,
		mailbox:  mailbox,
		refresh:  30 * time.Second,
	}
}

type dashboardDevice struct {
	Name     string
	MAC      string
	Status   models.DeviceStatus
	LastSeen time.Time
	Latest   map[string]string
}

type dashboardData struct {
	RefreshSeconds int
	Flash          string
	Errors         []string
	MetricNames    []string
	Devices        []dashboardDevice
	Stocks         []models.LatestPrice
	Pending        string
}

// load gathers everything the page shows. Failures become error panels
// instead of failing the page.
func (h *DashboardHandler) load() *dashboardData {
	data := &dashboardData{
		RefreshSeconds: int(h.refresh.Seconds()),
		MetricNames:    h.metrics.RecognizedNames(),
	}

	devices, err := h.identity.ListDevices()
	if err != nil {
		data.Errors = append(data.Errors, "Could not load devices: storage is unavailable")
		logs.Component("dashboard").WithError(err).Warn("failed to list devices")
	}
	for _, d := range devices {
		row := dashboardDevice{
			Name:     d.DisplayName(),
			MAC:      d.MACAddress,
			Status:   d.Status,
			LastSeen: d.LastSeen,
		}
		latest, err := h.metrics.LatestForDevice(d.ID)
		if err == nil {
			row.Latest = make(map[string]string, len(latest))
			for name, p := range latest {
				row.Latest[name] = fmt.Sprintf("%.1f", p.MetricValue)
			}
		}
		data.Devices = append(data.Devices, row)
	}

	symbols, err := h.stocks.Symbols()
	if err != nil {
		data.Errors = append(data.Errors, "Could not load stock symbols: storage is unavailable")
		logs.Component("dashboard").WithError(err).Warn("failed to list symbols")
	}
	for _, symbol := range symbols {
		latest, err := h.stocks.Latest(symbol)
		if err != nil {
			if !errors.Is(err, models.ErrNotFound) {
				data.Errors = append(data.Errors, "Could not load price for "+symbol)
			}
			continue
		}
		data.Stocks = append(data.Stocks, *latest)
	}

	if symbol, ok := h.mailbox.Peek(); ok {
		data.Pending = symbol
	}
	return data
}

func (h *DashboardHandler) render(c *fiber.Ctx, status int, data *dashboardData) error {
	var buf bytes.Buffer
	if err := dashboardTemplate.Execute(&buf, data); err != nil {
		logs.Component("dashboard").WithError(err).Error("failed to render dashboard")
		return c.Status(fiber.StatusInternalServerError).SendString("Dashboard rendering failed")
	}
	c.Type("html", "utf-8")
	return c.Status(status).Send(buf.Bytes())
}

// Show handles GET /dashboard
func (h *DashboardHandler) Show(c *fiber.Ctx) error {
	return h.render(c, fiber.StatusOK, h.load())
}

// SetSymbol handles POST /dashboard/symbols from the dashboard form
func (h *DashboardHandler) SetSymbol(c *fiber.Ctx) error {
	symbol, err := h.mailbox.Set(c.FormValue("symbol"))
	data := h.load()
	if err != nil {
		var apiErr *models.APIError
		msg := "Could not queue symbol"
		if errors.As(err, &apiErr) {
			msg = apiErr.Message
		}
		data.Errors = append(data.Errors, msg)
		return h.render(c, fiber.StatusBadRequest, data)
	}
	data.Flash = "Queued " + symbol + " for the next polling agent"
	return h.render(c, fiber.StatusOK, data)
}

// RegisterRoutes registers dashboard routes
func (h *DashboardHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/dashboard", h.Show)
	router.Post("/dashboard/symbols", h.SetSymbol)
	router.Get("/", func(c *fiber.Ctx) error {
		return c.Redirect("/dashboard")
	})
}
