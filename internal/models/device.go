package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DeviceStatus represents the current status of a device
type DeviceStatus string

const (
	DeviceStatusOnline  DeviceStatus = "online"
	DeviceStatusOffline DeviceStatus = "offline"
	DeviceStatusUnknown DeviceStatus = "unknown"
)

// PlaceholderMAC is reported by agents that could not detect a hardware address.
// Several machines may share it, so a match on it is not proof of identity.
const PlaceholderMAC = "00:00:00:00:00:01"

// Device represents one machine running a client agent.
//
// ClientID is the identifier the agent generates on every process start. It is
// a lookup hint only; MACAddress is the durable dedup key when present.
type Device struct {
	ID         uuid.UUID    `gorm:"type:char(36);primaryKey" json:"id"`
	ClientID   string       `gorm:"column:device_id;size:64;index" json:"device_id"`
	MACAddress string       `gorm:"column:mac_address;size:64;index" json:"mac_address"`
	Hostname   string       `gorm:"size:255" json:"hostname"`
	OSInfo     string       `gorm:"size:255" json:"os_info,omitempty"`
	Status     DeviceStatus `gorm:"size:16;default:unknown" json:"status"`
	LastSeen   time.Time    `gorm:"not null;index" json:"last_seen"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// BeforeCreate hook to generate UUID
func (d *Device) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Status == "" {
		d.Status = DeviceStatusUnknown
	}
	return nil
}

// TableName overrides the default table name
func (Device) TableName() string {
	return "devices"
}

// HasPlaceholderMAC reports whether the stored MAC is the shared fallback value.
func (d *Device) HasPlaceholderMAC() bool {
	return d.MACAddress == PlaceholderMAC
}

// DisplayName returns the hostname, or the client id when no hostname was reported
func (d *Device) DisplayName() string {
	if d.Hostname != "" {
		return d.Hostname
	}
	return d.ClientID
}
