package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Known system metric names reported by the agent
const (
	MetricCPUUsage     = "cpu_usage"
	MetricRAMUsage     = "ram_usage"
	MetricDiskUsage    = "disk_usage"
	MetricNetBytesSent = "net_bytes_sent"
	MetricNetBytesRecv = "net_bytes_recv"
)

// DefaultMetricNames is the recognized metric set when none is configured
var DefaultMetricNames = []string{
	MetricCPUUsage,
	MetricRAMUsage,
	MetricDiskUsage,
	MetricNetBytesSent,
	MetricNetBytesRecv,
}

// MetricSample is one observation of a named metric for a device. Rows are
// append-only.
type MetricSample struct {
	ID          uuid.UUID `gorm:"type:char(36);primaryKey" json:"id"`
	DeviceID    uuid.UUID `gorm:"type:char(36);not null;index:idx_metric_device_name" json:"-"`
	Device      *Device   `gorm:"foreignKey:DeviceID" json:"device,omitempty"`
	MetricName  string    `gorm:"size:64;not null;index:idx_metric_device_name" json:"metric_name"`
	MetricValue float64   `gorm:"not null" json:"metric_value"`
	RecordedAt  time.Time `gorm:"not null;index" json:"timestamp"`
}

// BeforeCreate hook to generate UUID
func (m *MetricSample) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.RecordedAt.IsZero() {
		m.RecordedAt = time.Now()
	}
	return nil
}

// TableName overrides the default table name
func (MetricSample) TableName() string {
	return "system_metrics"
}

// MetricPoint is the history view of a metric sample
type MetricPoint struct {
	MetricValue float64   `json:"metric_value"`
	Timestamp   time.Time `json:"timestamp"`
}
