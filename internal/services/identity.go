package services

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jaredcannon/device-metrics-hub/internal/logs"
	"github.com/jaredcannon/device-metrics-hub/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// BroadcastFunc publishes an event to live dashboard subscribers
type BroadcastFunc func(channel, event string, data interface{})

// Identity is the set of identifiers a client reports about itself
type Identity struct {
	DeviceID   string
	MACAddress string
	Hostname   string
	OSInfo     string
}

// Normalize trims surrounding whitespace from every field
func (i Identity) Normalize() Identity {
	return Identity{
		DeviceID:   strings.TrimSpace(i.DeviceID),
		MACAddress: strings.TrimSpace(i.MACAddress),
		Hostname:   strings.TrimSpace(i.Hostname),
		OSInfo:     strings.TrimSpace(i.OSInfo),
	}
}

// Empty reports whether neither a MAC address nor a device id is set
func (i Identity) Empty() bool {
	return i.DeviceID == "" && i.MACAddress == ""
}

// ResolveAction describes how an identity was mapped to a device row
type ResolveAction string

const (
	ActionCreated         ResolveAction = "created"
	ActionMatchedMAC      ResolveAction = "matched_mac"
	ActionMatchedDeviceID ResolveAction = "matched_device_id"
)

// Resolution is the outcome of resolving an identity
type Resolution struct {
	Device *models.Device
	Action ResolveAction
}

// Created reports whether the resolution produced a new device
func (r Resolution) Created() bool {
	return r.Action == ActionCreated
}

// CreatePolicy controls whether an unmatched identity may create a device
type CreatePolicy int

const (
	// CreateAlways creates a device whenever nothing matches (registration)
	CreateAlways CreatePolicy = iota
	// CreateWithMAC creates only when the identity carries a MAC address
	CreateWithMAC
)

// ResolveIdentity maps an incoming identity onto the stored state. byMAC is the
// device stored under in.MACAddress and byID the device stored under
// in.DeviceID; either may be nil. The inputs are not modified.
//
// A MAC match wins and takes over the incoming device id. A device id match
// takes over a non-empty incoming MAC. Otherwise a new device is built.
func ResolveIdentity(byMAC, byID *models.Device, in Identity, now time.Time) (Resolution, error) {
	in = in.Normalize()
	if in.Empty() {
		return Resolution{}, models.NewIdentityError()
	}

	var res Resolution
	switch {
	case in.MACAddress != "" && byMAC != nil:
		d := *byMAC
		if in.DeviceID != "" && d.ClientID != in.DeviceID {
			d.ClientID = in.DeviceID
		}
		res = Resolution{Device: &d, Action: ActionMatchedMAC}

	case in.DeviceID != "" && byID != nil:
		d := *byID
		if in.MACAddress != "" && d.MACAddress != in.MACAddress {
			d.MACAddress = in.MACAddress
		}
		res = Resolution{Device: &d, Action: ActionMatchedDeviceID}

	default:
		res = Resolution{
			Device: &models.Device{
				ClientID:   in.DeviceID,
				MACAddress: in.MACAddress,
			},
			Action: ActionCreated,
		}
	}

	if in.Hostname != "" {
		res.Device.Hostname = in.Hostname
	}
	if in.OSInfo != "" {
		res.Device.OSInfo = in.OSInfo
	}
	res.Device.LastSeen = now
	res.Device.Status = models.DeviceStatusOnline
	return res, nil
}

// IdentityService resolves client identities against the devices table.
// Resolutions are serialized so concurrent contacts from one machine cannot
// create two rows.
type IdentityService struct {
	db            *gorm.DB
	mu            sync.Mutex
	now           func() time.Time
	broadcastFunc BroadcastFunc
	log           *logrus.Entry
}

// NewIdentityService creates a new identity service
func NewIdentityService(db *gorm.DB) *IdentityService {
	return &IdentityService{
		db:  db,
		now: time.Now,
		log: logs.Component("identity"),
	}
}

// SetBroadcastFunc sets the WebSocket broadcast function
func (s *IdentityService) SetBroadcastFunc(fn BroadcastFunc) {
	s.broadcastFunc = fn
}

// Resolve maps the identity to a device, creating or merging as needed
func (s *IdentityService) Resolve(in Identity, policy CreatePolicy) (Resolution, error) {
	return s.Within(in, policy, nil)
}

// Within resolves the identity and runs fn in the same transaction. If fn
// fails nothing is committed, including the device update.
func (s *IdentityService) Within(in Identity, policy CreatePolicy, fn func(tx *gorm.DB, res Resolution) error) (Resolution, error) {
	in = in.Normalize()
	if in.Empty() {
		return Resolution{}, models.NewIdentityError()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var res Resolution
	err := s.db.Transaction(func(tx *gorm.DB) error {
		byMAC, err := findDevice(tx, "mac_address", in.MACAddress)
		if err != nil {
			return err
		}
		var byID *models.Device
		if byMAC == nil {
			if byID, err = findDevice(tx, "device_id", in.DeviceID); err != nil {
				return err
			}
		}

		if byMAC == nil && byID == nil && policy == CreateWithMAC && in.MACAddress == "" {
			return models.NewNotFoundError("device")
		}

		res, err = ResolveIdentity(byMAC, byID, in, s.now())
		if err != nil {
			return err
		}

		if res.Created() {
			err = tx.Create(res.Device).Error
		} else {
			err = tx.Save(res.Device).Error
		}
		if err != nil {
			return models.NewStorageError("save device", err)
		}

		if fn != nil {
			return fn(tx, res)
		}
		return nil
	})
	if err != nil {
		return Resolution{}, err
	}

	if res.Device.HasPlaceholderMAC() && res.Action == ActionMatchedMAC {
		s.log.WithField("device", res.Device.ID).Warn("matched on placeholder MAC; distinct machines may share this row")
	}
	s.log.WithFields(logrus.Fields{
		"device":    res.Device.ID,
		"device_id": res.Device.ClientID,
		"mac":       res.Device.MACAddress,
		"action":    res.Action,
	}).Debug("identity resolved")

	if s.broadcastFunc != nil {
		event := "updated"
		if res.Created() {
			event = "registered"
		}
		s.broadcastFunc("devices", event, res.Device)
	}
	return res, nil
}

// Lookup finds the device for an identity without changing it. The MAC
// address takes precedence over the device id.
func (s *IdentityService) Lookup(in Identity) (*models.Device, error) {
	in = in.Normalize()
	if in.Empty() {
		return nil, models.NewIdentityError()
	}
	device, err := findDevice(s.db, "mac_address", in.MACAddress)
	if err != nil {
		return nil, err
	}
	if device == nil {
		if device, err = findDevice(s.db, "device_id", in.DeviceID); err != nil {
			return nil, err
		}
	}
	if device == nil {
		return nil, models.NewNotFoundError("device")
	}
	return device, nil
}

// ListDevices retrieves all devices, most recently seen first
func (s *IdentityService) ListDevices() ([]models.Device, error) {
	var devices []models.Device
	if err := s.db.Order("last_seen desc").Find(&devices).Error; err != nil {
		return nil, models.NewStorageError("list devices", err)
	}
	return devices, nil
}

// findDevice returns the most recently seen device whose column equals
// value, or nil when value is empty or nothing matches.
func findDevice(db *gorm.DB, column, value string) (*models.Device, error) {
	if value == "" {
		return nil, nil
	}
	var device models.Device
	err := db.Where(column+" = ?", value).Order("last_seen desc").First(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, models.NewStorageError("look up device", err)
	}
	return &device, nil
}
