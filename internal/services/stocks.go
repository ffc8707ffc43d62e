package services

import (
	"errors"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/jaredcannon/device-metrics-hub/internal/logs"
	"github.com/jaredcannon/device-metrics-hub/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxSymbolLength = 16

var symbolPattern = regexp.MustCompile(`^[A-Z0-9.\-]+$`)

// NormalizeSymbol trims and uppercases a ticker and checks it only contains
// letters, digits, '.' and '-'.
func NormalizeSymbol(raw string) (string, error) {
	symbol := strings.ToUpper(strings.TrimSpace(raw))
	if symbol == "" {
		return "", models.NewValidationError("Symbol is required", []string{"symbol"})
	}
	if len(symbol) > maxSymbolLength || !symbolPattern.MatchString(symbol) {
		return "", models.NewValidationError("Symbol may only contain letters, digits, '.' and '-'", []string{"symbol"})
	}
	return symbol, nil
}

// ValidPrice reports whether p is a finite positive number
func ValidPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}

// StockService stores and queries stock price samples
type StockService struct {
	db            *gorm.DB
	now           func() time.Time
	broadcastFunc BroadcastFunc
	log           *logrus.Entry
}

// NewStockService creates a new stock service
func NewStockService(db *gorm.DB) *StockService {
	return &StockService{
		db:  db,
		now: time.Now,
		log: logs.Component("stocks"),
	}
}

// SetBroadcastFunc sets the WebSocket broadcast function
func (s *StockService) SetBroadcastFunc(fn BroadcastFunc) {
	s.broadcastFunc = fn
}

// RecordPrice stores a price for symbol, creating the symbol on first use
func (s *StockService) RecordPrice(symbol string, price float64) (*models.LatestPrice, error) {
	symbol, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if !ValidPrice(price) {
		return nil, models.NewValidationError("Price must be a positive number", []string{"price"})
	}

	sample := models.StockPriceSample{Price: price, RecordedAt: s.now()}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.StockSymbol{Symbol: symbol}).Error; err != nil {
			return models.NewStorageError("create symbol", err)
		}
		var row models.StockSymbol
		if err := tx.Where("symbol = ?", symbol).First(&row).Error; err != nil {
			return models.NewStorageError("load symbol", err)
		}
		sample.SymbolID = row.ID
		if err := tx.Create(&sample).Error; err != nil {
			return models.NewStorageError("store price", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	latest := &models.LatestPrice{Symbol: symbol, Price: sample.Price, Timestamp: sample.RecordedAt}
	s.log.WithFields(logrus.Fields{"symbol": symbol, "price": price}).Debug("price recorded")
	if s.broadcastFunc != nil {
		s.broadcastFunc("stocks", "price", latest)
	}
	return latest, nil
}

// Symbols lists every symbol a price was ever stored for, alphabetically
func (s *StockService) Symbols() ([]string, error) {
	var symbols []string
	if err := s.db.Model(&models.StockSymbol{}).Order("symbol asc").Pluck("symbol", &symbols).Error; err != nil {
		return nil, models.NewStorageError("list symbols", err)
	}
	if symbols == nil {
		symbols = []string{}
	}
	return symbols, nil
}

// History returns the prices of symbol in ascending time order. limit <= 0
// returns every sample.
func (s *StockService) History(symbol string, limit int) ([]models.PricePoint, error) {
	row, err := s.findSymbol(symbol)
	if err != nil {
		return nil, err
	}

	var samples []models.StockPriceSample
	query := s.db.Where("symbol_id = ?", row.ID)
	if limit > 0 {
		query = query.Order("recorded_at desc").Limit(limit)
	} else {
		query = query.Order("recorded_at asc")
	}
	if err := query.Find(&samples).Error; err != nil {
		return nil, models.NewStorageError("query price history", err)
	}

	points := make([]models.PricePoint, len(samples))
	for i, p := range samples {
		idx := i
		if limit > 0 {
			idx = len(samples) - 1 - i
		}
		points[idx] = models.PricePoint{Price: p.Price, Timestamp: p.RecordedAt}
	}
	return points, nil
}

// Latest returns the most recent price of symbol
func (s *StockService) Latest(symbol string) (*models.LatestPrice, error) {
	row, err := s.findSymbol(symbol)
	if err != nil {
		return nil, err
	}

	var sample models.StockPriceSample
	err = s.db.Where("symbol_id = ?", row.ID).Order("recorded_at desc").First(&sample).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewNotFoundError("price")
	}
	if err != nil {
		return nil, models.NewStorageError("query latest price", err)
	}
	return &models.LatestPrice{Symbol: row.Symbol, Price: sample.Price, Timestamp: sample.RecordedAt}, nil
}

func (s *StockService) findSymbol(symbol string) (*models.StockSymbol, error) {
	symbol, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	var row models.StockSymbol
	err = s.db.Where("symbol = ?", symbol).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewNotFoundError("symbol")
	}
	if err != nil {
		return nil, models.NewStorageError("look up symbol", err)
	}
	return &row, nil
}
