package services

import (
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/jaredcannon/device-metrics-hub/internal/logs"
	"github.com/jaredcannon/device-metrics-hub/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MetricsService stores and queries system metric samples
type MetricsService struct {
	db            *gorm.DB
	identity      *IdentityService
	recognized    map[string]bool
	names         []string
	broadcastFunc BroadcastFunc
	log           *logrus.Entry
}

// IngestResult summarizes one metrics submission
type IngestResult struct {
	Device  *models.Device `json:"device"`
	Action  ResolveAction  `json:"action"`
	Stored  int            `json:"stored"`
	Dropped []string       `json:"dropped,omitempty"`
}

// NewMetricsService creates a metrics service accepting the given metric
// names. An empty list falls back to models.DefaultMetricNames.
func NewMetricsService(db *gorm.DB, identity *IdentityService, recognized []string) *MetricsService {
	if len(recognized) == 0 {
		recognized = models.DefaultMetricNames
	}
	s := &MetricsService{
		db:         db,
		identity:   identity,
		recognized: make(map[string]bool, len(recognized)),
		log:        logs.Component("metrics"),
	}
	for _, name := range recognized {
		if !s.recognized[name] {
			s.recognized[name] = true
			s.names = append(s.names, name)
		}
	}
	sort.Strings(s.names)
	return s
}

// SetBroadcastFunc sets the WebSocket broadcast function
func (s *MetricsService) SetBroadcastFunc(fn BroadcastFunc) {
	s.broadcastFunc = fn
}

// RecognizedNames returns the accepted metric names in sorted order
func (s *MetricsService) RecognizedNames() []string {
	return append([]string(nil), s.names...)
}

// IsRecognized reports whether name is an accepted metric name
func (s *MetricsService) IsRecognized(name string) bool {
	return s.recognized[name]
}

// Ingest resolves the identity and stores one sample per recognized metric.
// Unrecognized names and non-finite values are dropped. An unknown device
// is created only when the identity carries a MAC address.
func (s *MetricsService) Ingest(in Identity, values map[string]float64) (*IngestResult, error) {
	result := &IngestResult{}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	res, err := s.identity.Within(in, CreateWithMAC, func(tx *gorm.DB, res Resolution) error {
		samples := make([]models.MetricSample, 0, len(names))
		for _, name := range names {
			v := values[name]
			if !s.recognized[name] || math.IsNaN(v) || math.IsInf(v, 0) {
				result.Dropped = append(result.Dropped, name)
				continue
			}
			samples = append(samples, models.MetricSample{
				DeviceID:    res.Device.ID,
				MetricName:  name,
				MetricValue: v,
				RecordedAt:  res.Device.LastSeen,
			})
		}
		if len(samples) == 0 {
			return nil
		}
		if err := tx.Create(&samples).Error; err != nil {
			return models.NewStorageError("store metrics", err)
		}
		result.Stored = len(samples)
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Device = res.Device
	result.Action = res.Action

	if len(result.Dropped) > 0 {
		s.log.WithFields(logrus.Fields{
			"device":  res.Device.ID,
			"dropped": result.Dropped,
		}).Debug("dropped unrecognized metrics")
	}

	if s.broadcastFunc != nil && result.Stored > 0 {
		s.broadcastFunc("metrics", "ingested", map[string]interface{}{
			"device_id": res.Device.ID,
			"hostname":  res.Device.Hostname,
			"stored":    result.Stored,
		})
	}
	return result, nil
}

// History returns samples of one metric in ascending time order. A filter with
// a device id or MAC address restricts the result to that device. limit <= 0
// returns every sample.
func (s *MetricsService) History(name string, filter Identity, limit int) ([]models.MetricPoint, error) {
	if !s.recognized[name] {
		return nil, models.NewNotFoundError("metric")
	}

	query := s.db.Model(&models.MetricSample{}).Where("metric_name = ?", name)

	filter = filter.Normalize()
	if !filter.Empty() {
		device, err := s.identity.Lookup(filter)
		if err != nil {
			return nil, err
		}
		query = query.Where("device_id = ?", device.ID)
	}

	var samples []models.MetricSample
	if limit > 0 {
		// newest N, returned oldest first
		sub := query.Order("recorded_at desc").Limit(limit)
		if err := sub.Find(&samples).Error; err != nil {
			return nil, models.NewStorageError("query metric history", err)
		}
		sort.SliceStable(samples, func(i, j int) bool {
			return samples[i].RecordedAt.Before(samples[j].RecordedAt)
		})
	} else if err := query.Order("recorded_at asc").Find(&samples).Error; err != nil {
		return nil, models.NewStorageError("query metric history", err)
	}

	points := make([]models.MetricPoint, 0, len(samples))
	for _, m := range samples {
		points = append(points, models.MetricPoint{MetricValue: m.MetricValue, Timestamp: m.RecordedAt})
	}
	return points, nil
}

// Latest returns the most recent sample of every recognized metric the device
// has reported.
func (s *MetricsService) Latest(filter Identity) (map[string]models.MetricPoint, error) {
	device, err := s.identity.Lookup(filter)
	if err != nil {
		return nil, err
	}
	return s.LatestForDevice(device.ID)
}

// LatestForDevice is Latest keyed by the device row id
func (s *MetricsService) LatestForDevice(id uuid.UUID) (map[string]models.MetricPoint, error) {
	latest := make(map[string]models.MetricPoint)
	for _, name := range s.names {
		var samples []models.MetricSample
		err := s.db.Where("device_id = ? AND metric_name = ?", id, name).
			Order("recorded_at desc").
			Limit(1).
			Find(&samples).Error
		if err != nil {
			return nil, models.NewStorageError("query latest metrics", err)
		}
		if len(samples) == 1 {
			latest[name] = models.MetricPoint{MetricValue: samples[0].MetricValue, Timestamp: samples[0].RecordedAt}
		}
	}
	return latest, nil
}
