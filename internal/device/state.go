package device

import (
	"time"

	"github.com/nerrad567/watchme-core/internal/backend"
)

// Phase is the registration state of this installation.
type Phase string

const (
	PhaseUnregistered       Phase = "unregistered"
	PhaseRegistering        Phase = "registering"
	PhaseRegistered         Phase = "registered"
	PhaseRegistrationFailed Phase = "registration_failed"
)

// State is an immutable snapshot of the manager.
//
// ActualDeviceID is a device confirmed to belong to the signed-in user and
// wins over CurrentDeviceID (this installation's own registration) where
// both are set. SelectedDeviceID, when set, is always the id of an entry
// in UserDevices.
type State struct {
	Phase              Phase            `json:"phase"`
	IsDeviceRegistered bool             `json:"is_device_registered"`
	CurrentDeviceID    string           `json:"current_device_id,omitempty"`
	ActualDeviceID     string           `json:"actual_device_id,omitempty"`
	UserDevices        []backend.Device `json:"user_devices"`
	SelectedDeviceID   string           `json:"selected_device_id,omitempty"`
	RegistrationError  string           `json:"registration_error,omitempty"`
	IsLoading          bool             `json:"is_loading"`

	// Version increases by one with every published change.
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// clone returns a copy that shares no slice with s.
func (s State) clone() State {
	c := s
	c.UserDevices = make([]backend.Device, len(s.UserDevices))
	copy(c.UserDevices, s.UserDevices)
	return c
}

// ActiveDeviceID returns the selected device, else the actual device.
func (s State) ActiveDeviceID() (string, bool) {
	if s.SelectedDeviceID != "" {
		return s.SelectedDeviceID, true
	}
	if s.ActualDeviceID != "" {
		return s.ActualDeviceID, true
	}
	return "", false
}

// HasDevice reports whether id is in UserDevices.
func (s State) HasDevice(id string) bool {
	for _, d := range s.UserDevices {
		if d.DeviceID == id {
			return true
		}
	}
	return false
}

// Info describes this installation's device for display and diagnostics.
type Info struct {
	DeviceID           string `json:"device_id"`
	PlatformIdentifier string `json:"platform_identifier"`
	DeviceType         string `json:"device_type"`
	PlatformType       string `json:"platform_type"`
}
