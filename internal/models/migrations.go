package models

import (
	"fmt"

	"gorm.io/gorm"
)

// legacyMACPrefix marks addresses synthesized for rows that predate the mac_address column
const legacyMACPrefix = "auto-"

// AllModels lists every table managed by AutoMigrate
func AllModels() []interface{} {
	return []interface{}{
		&Device{},
		&MetricSample{},
		&StockSymbol{},
		&StockPriceSample{},
	}
}

// LegacyMAC builds the placeholder address assigned to a legacy device row
func LegacyMAC(clientID string) string {
	id := clientID
	if len(id) > 12 {
		id = id[:12]
	}
	return legacyMACPrefix + id
}

// MigrateMACAddresses backfills devices created before mac_address existed.
// Uses GORM's Migrator API for database independence. Returns the number of
// rows updated; running it again is a no-op.
func MigrateMACAddresses(db *gorm.DB) (int, error) {
	migrator := db.Migrator()

	// Add mac_address column if it doesn't exist
	if !migrator.HasColumn(&Device{}, "mac_address") {
		if err := migrator.AddColumn(&Device{}, "MACAddress"); err != nil {
			return 0, fmt.Errorf("failed to add mac_address column: %w", err)
		}
	}

	var legacy []Device
	if err := db.Where("mac_address = ? OR mac_address IS NULL", "").Find(&legacy).Error; err != nil {
		return 0, fmt.Errorf("failed to list devices without mac_address: %w", err)
	}

	updated := 0
	err := db.Transaction(func(tx *gorm.DB) error {
		for _, d := range legacy {
			if d.ClientID == "" {
				continue
			}
			if err := tx.Model(&Device{}).Where("id = ?", d.ID).Update("mac_address", LegacyMAC(d.ClientID)).Error; err != nil {
				return fmt.Errorf("failed to backfill mac_address for %s: %w", d.ID, err)
			}
			updated++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}
