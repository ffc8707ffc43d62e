package api

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/jaredcannon/device-metrics-hub/internal/models"
	"github.com/jaredcannon/device-metrics-hub/internal/services"
)

// StockHandler handles stock prices and the pending symbol mailbox
type StockHandler struct {
	stocks   *services.StockService
	mailbox  *services.SymbolMailbox
	identity *services.IdentityService
}

// NewStockHandler creates a new stock handler
func NewStockHandler(stocks *services.StockService, mailbox *services.SymbolMailbox, identity *services.IdentityService) *StockHandler {
	return &StockHandler{stocks: stocks, mailbox: mailbox, identity: identity}
}

// SubmitPriceRequest represents the request body for PUT /metrics/stock/:symbol.
// The legacy PUT /metrics/stock form carries the symbol in the body.
type SubmitPriceRequest struct {
	Symbol string      `json:"symbol,omitempty"`
	Price  json.Number `json:"price"`
}

// SetPendingRequest represents the request body for POST /metrics/stock/pending
type SetPendingRequest struct {
	Symbol string `json:"symbol" validate:"required"`
}

// SymbolResponse is the mailbox view returned to pollers; Symbol is null when empty
type SymbolResponse struct {
	Symbol *string `json:"symbol"`
}

func parsePrice(raw json.Number) (float64, error) {
	if raw == "" {
		return 0, models.NewValidationError("Price is required", []string{"price"})
	}
	price, err := raw.Float64()
	if err != nil || !services.ValidPrice(price) {
		return 0, models.NewValidationError("Price must be a positive number", []string{"price"})
	}
	return price, nil
}

func (h *StockHandler) recordPrice(c *fiber.Ctx, symbol string, raw json.Number) error {
	price, err := parsePrice(raw)
	if err != nil {
		return HandleError(c, err, "Invalid price")
	}
	latest, err := h.stocks.RecordPrice(symbol, price)
	if err != nil {
		return HandleError(c, err, "Failed to store price")
	}
	return c.JSON(fiber.Map{
		"message":   "Price stored",
		"symbol":    latest.Symbol,
		"price":     latest.Price,
		"timestamp": latest.Timestamp,
	})
}

// SubmitPrice handles PUT /metrics/stock/:symbol
func (h *StockHandler) SubmitPrice(c *fiber.Ctx) error {
	var req SubmitPriceRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}
	return h.recordPrice(c, c.Params("symbol"), req.Price)
}

// SubmitPriceLegacy handles PUT /metrics/stock with the symbol in the body
func (h *StockHandler) SubmitPriceLegacy(c *fiber.Ctx) error {
	var req SubmitPriceRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}
	return h.recordPrice(c, req.Symbol, req.Price)
}

// Poll handles GET /metrics/stock/poll. The caller is resolved before the
// mailbox is drained, so a rejected poll leaves the pending symbol in place.
func (h *StockHandler) Poll(c *fiber.Ctx) error {
	if _, err := h.identity.Resolve(identityFromQuery(c), services.CreateWithMAC); err != nil {
		return HandleError(c, err, "Failed to poll")
	}

	var resp SymbolResponse
	if symbol, ok := h.mailbox.Poll(); ok {
		resp.Symbol = &symbol
	}
	return c.JSON(resp)
}

// SetPending handles POST /metrics/stock/pending
func (h *StockHandler) SetPending(c *fiber.Ctx) error {
	var req SetPendingRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}
	if err := ValidateRequest(&req); err != nil {
		return HandleError(c, err, "Invalid symbol")
	}

	symbol, err := h.mailbox.Set(req.Symbol)
	if err != nil {
		return HandleError(c, err, "Invalid symbol")
	}
	return c.JSON(SymbolResponse{Symbol: &symbol})
}

// GetPending handles GET /metrics/stock/pending without draining the mailbox
func (h *StockHandler) GetPending(c *fiber.Ctx) error {
	return c.JSON(h.mailbox.Pending())
}

// ListSymbols handles GET /metrics/stock/symbols
func (h *StockHandler) ListSymbols(c *fiber.Ctx) error {
	symbols, err := h.stocks.Symbols()
	if err != nil {
		return HandleError(c, err, "Failed to list symbols")
	}
	return c.JSON(symbols)
}

// GetHistory handles GET /metrics/stock/history/:symbol
func (h *StockHandler) GetHistory(c *fiber.Ctx) error {
	points, err := h.stocks.History(c.Params("symbol"), c.QueryInt("limit", 0))
	if err != nil {
		return HandleError(c, err, "Failed to load price history")
	}
	return c.JSON(points)
}

// GetLatest handles GET /metrics/stock/latest/:symbol
func (h *StockHandler) GetLatest(c *fiber.Ctx) error {
	latest, err := h.stocks.Latest(c.Params("symbol"))
	if err != nil {
		return HandleError(c, err, "Failed to load latest price")
	}
	return c.JSON(latest)
}

// RegisterRoutes registers stock routes
func (h *StockHandler) RegisterRoutes(router fiber.Router) {
	stock := router.Group("/metrics/stock")
	stock.Put("/", h.SubmitPriceLegacy)
	stock.Get("/poll", h.Poll)
	stock.Get("/pending", h.GetPending)
	stock.Post("/pending", h.SetPending)
	stock.Get("/symbols", h.ListSymbols)
	stock.Get("/history/:symbol", h.GetHistory)
	stock.Get("/latest/:symbol", h.GetLatest)
	stock.Put("/:symbol", h.SubmitPrice)
}
