package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StockSymbol is a ticker the system has collected at least one price for.
// Symbols are shared by all devices.
type StockSymbol struct {
	ID        uuid.UUID `gorm:"type:char(36);primaryKey" json:"id"`
	Symbol    string    `gorm:"size:16;not null;uniqueIndex" json:"symbol"`
	CreatedAt time.Time `json:"created_at"`
}

// BeforeCreate hook to generate UUID
func (s *StockSymbol) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// TableName overrides the default table name
func (StockSymbol) TableName() string {
	return "stock_symbols"
}

// StockPriceSample is one price observation for a symbol
type StockPriceSample struct {
	ID         uuid.UUID    `gorm:"type:char(36);primaryKey" json:"id"`
	SymbolID   uuid.UUID    `gorm:"type:char(36);not null;index" json:"-"`
	Symbol     *StockSymbol `gorm:"foreignKey:SymbolID" json:"symbol,omitempty"`
	Price      float64      `gorm:"not null" json:"price"`
	RecordedAt time.Time    `gorm:"not null;index" json:"timestamp"`
}

// BeforeCreate hook to generate UUID
func (s *StockPriceSample) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.RecordedAt.IsZero() {
		s.RecordedAt = time.Now()
	}
	return nil
}

// TableName overrides the default table name
func (StockPriceSample) TableName() string {
	return "stock_data"
}

// PricePoint is the history view of a price sample
type PricePoint struct {
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// LatestPrice is the most recent price recorded for a symbol
type LatestPrice struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}
