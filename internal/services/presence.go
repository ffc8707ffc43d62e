package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jaredcannon/device-metrics-hub/internal/logs"
	"github.com/jaredcannon/device-metrics-hub/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// PresenceService marks devices offline when they stop contacting the server
type PresenceService struct {
	db            *gorm.DB
	checkInterval time.Duration
	offlineAfter  time.Duration
	now           func() time.Time
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	running       bool
	mu            sync.RWMutex
	broadcastFunc BroadcastFunc
	log           *logrus.Entry

	// Observability metrics
	lastCheckTime time.Time
	lastMarked    int
	totalChecks   int64
	totalMarked   int64
	totalErrors   int64
	statsMu       sync.RWMutex
}

// PresenceConfig holds configuration for the presence monitor
type PresenceConfig struct {
	CheckInterval time.Duration // How often to sweep devices (default: 30s)
	OfflineAfter  time.Duration // Silence before a device is offline (default: 2m)
}

// NewPresenceService creates a new presence monitor
func NewPresenceService(db *gorm.DB, config *PresenceConfig) *PresenceService {
	if config == nil {
		config = &PresenceConfig{}
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = 30 * time.Second
	}
	if config.OfflineAfter <= 0 {
		config.OfflineAfter = 2 * time.Minute
	}
	return &PresenceService{
		db:            db,
		checkInterval: config.CheckInterval,
		offlineAfter:  config.OfflineAfter,
		now:           time.Now,
		log:           logs.Component("presence"),
	}
}

// SetBroadcastFunc sets the WebSocket broadcast function
func (p *PresenceService) SetBroadcastFunc(fn BroadcastFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.broadcastFunc = fn
}

// Start begins the background presence sweep
func (p *PresenceService) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("presence monitor is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(1)
	go p.loop(ctx)

	p.log.WithFields(logrus.Fields{
		"check_interval": p.checkInterval,
		"offline_after":  p.offlineAfter,
	}).Info("presence monitor started")
	return nil
}

// Stop stops the sweep and waits for the loop to exit
func (p *PresenceService) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return fmt.Errorf("presence monitor is not running")
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info("presence monitor stopped")
	case <-time.After(10 * time.Second):
		return fmt.Errorf("timeout waiting for presence monitor to stop")
	}

	p.running = false
	return nil
}

// IsRunning returns whether the monitor is currently running
func (p *PresenceService) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

func (p *PresenceService) loop(ctx context.Context) {
	defer p.wg.Done()

	p.sweep()

	ticker := time.NewTicker(p.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *PresenceService) sweep() {
	if _, err := p.CheckNow(); err != nil {
		p.log.WithError(err).Warn("presence sweep failed")
	}
}

// CheckNow marks every online device silent for longer than offlineAfter as
// offline and returns how many changed.
func (p *PresenceService) CheckNow() (int, error) {
	cutoff := p.now().Add(-p.offlineAfter)

	var stale []models.Device
	err := p.db.Transaction(func(tx *gorm.DB) error {
		var candidates []models.Device
		if err := tx.Where("status = ? AND last_seen < ?", models.DeviceStatusOnline, cutoff).Find(&candidates).Error; err != nil {
			return err
		}
		for _, d := range candidates {
			// a device that reported after the select keeps its status
			res := tx.Model(&models.Device{}).
				Where("id = ? AND status = ? AND last_seen < ?", d.ID, models.DeviceStatusOnline, cutoff).
				Update("status", models.DeviceStatusOffline)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				stale = append(stale, d)
			}
		}
		return nil
	})

	p.statsMu.Lock()
	p.totalChecks++
	p.lastCheckTime = p.now()
	if err != nil {
		p.totalErrors++
		p.statsMu.Unlock()
		return 0, models.NewStorageError("update device presence", err)
	}
	p.lastMarked = len(stale)
	p.totalMarked += int64(len(stale))
	p.statsMu.Unlock()

	p.mu.RLock()
	broadcast := p.broadcastFunc
	p.mu.RUnlock()

	for i := range stale {
		stale[i].Status = models.DeviceStatusOffline
		p.log.WithFields(logrus.Fields{
			"device":    stale[i].ID,
			"hostname":  stale[i].Hostname,
			"last_seen": stale[i].LastSeen,
		}).Info("device went offline")
		if broadcast != nil {
			broadcast("devices", "status_changed", stale[i])
		}
	}
	return len(stale), nil
}

// PresenceStatus represents the health of the presence monitor
type PresenceStatus struct {
	Running        bool       `json:"running"`
	CheckInterval  string     `json:"check_interval"`
	OfflineAfter   string     `json:"offline_after"`
	LastCheckTime  *time.Time `json:"last_check_time,omitempty"`
	LastMarked     int        `json:"last_marked_offline"`
	TotalChecks    int64      `json:"total_checks"`
	TotalMarked    int64      `json:"total_marked_offline"`
	TotalErrors    int64      `json:"total_errors"`
	OnlineDevices  int64      `json:"online_devices"`
	OfflineDevices int64      `json:"offline_devices"`
	Healthy        bool       `json:"healthy"`
	HealthMessage  string     `json:"health_message,omitempty"`
}

// Status returns the monitor's counters and the current device totals
func (p *PresenceService) Status() *PresenceStatus {
	running := p.IsRunning()

	p.statsMu.RLock()
	status := &PresenceStatus{
		Running:       running,
		CheckInterval: p.checkInterval.String(),
		OfflineAfter:  p.offlineAfter.String(),
		LastMarked:    p.lastMarked,
		TotalChecks:   p.totalChecks,
		TotalMarked:   p.totalMarked,
		TotalErrors:   p.totalErrors,
	}
	lastCheck := p.lastCheckTime
	p.statsMu.RUnlock()

	if !lastCheck.IsZero() {
		status.LastCheckTime = &lastCheck
	}

	countErr := p.db.Model(&models.Device{}).Where("status = ?", models.DeviceStatusOnline).Count(&status.OnlineDevices).Error
	if countErr == nil {
		countErr = p.db.Model(&models.Device{}).Where("status = ?", models.DeviceStatusOffline).Count(&status.OfflineDevices).Error
	}

	switch {
	case countErr != nil:
		status.HealthMessage = fmt.Sprintf("Failed to count devices: %v", countErr)
	case !running:
		status.HealthMessage = "Presence monitor is not running"
	case lastCheck.IsZero():
		status.HealthMessage = "No checks completed yet"
	case p.now().Sub(lastCheck) > 2*p.checkInterval:
		status.HealthMessage = fmt.Sprintf("Last check was %v ago (expected every %v)", p.now().Sub(lastCheck).Round(time.Second), p.checkInterval)
	default:
		status.Healthy = true
		status.HealthMessage = "Presence monitor is healthy"
	}
	return status
}
