package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/watchme-core/internal/backend"
	"github.com/nerrad567/watchme-core/internal/identity"
	"github.com/nerrad567/watchme-core/internal/platform"
)

// DefaultOperationTimeout bounds a register or fetch when Deps leaves it zero.
const DefaultOperationTimeout = 15 * time.Second

// Operation names passed to OperationRecorder.
const (
	OpRegister = "register"
	OpFetch    = "fetch_devices"
	OpReset    = "reset"
)

// Operation outcomes passed to OperationRecorder.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
)

// Logger defines the logging interface used by the Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Backend is the subset of the REST client the manager calls.
type Backend interface {
	UpsertDevice(ctx context.Context, in backend.DeviceInsert) (*backend.Device, error)
	ListDevicesByOwner(ctx context.Context, ownerUserID string) ([]backend.Device, error)
}

// RecordStore persists the registration record.
type RecordStore interface {
	Load(ctx context.Context) (identity.Record, bool, error)
	Save(ctx context.Context, rec identity.Record) error
	Clear(ctx context.Context) error
}

// OperationRecorder receives one call per finished operation.
type OperationRecorder interface {
	RecordOperation(op, outcome string, duration time.Duration, deviceCount int)
}

// Deps are the collaborators of a Manager.
type Deps struct {
	Store    RecordStore
	Platform platform.Provider
	Backend  Backend

	// DeviceType and PlatformType classify this installation on upsert.
	DeviceType   string
	PlatformType string

	// OperationTimeout bounds each register or fetch. Zero means 15s.
	OperationTimeout time.Duration

	Recorder OperationRecorder
	Logger   Logger
	Now      func() time.Time
}

// Manager owns the reconciliation state of one installation.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - RegisterDevice, FetchUserDevices and ResetDeviceRegistration run one
//     at a time; a second call waits for the first.
//   - Observers run synchronously in publish order and must not call the
//     mutating methods.
type Manager struct {
	deps Deps

	opMu sync.Mutex // serialises operations

	mu         sync.RWMutex // guards state and platformID
	state      State
	platformID string

	pubMu       sync.Mutex // orders publishes; guards subscribers
	subscribers map[int]chan State
	nextSubID   int
	observers   []func(State)
}

// NewManager builds a Manager from the stored registration record.
//
// A registered record with a device id puts the manager straight into
// PhaseRegistered; the backend is not called. Any other stored data is
// partial and is cleared.
func NewManager(ctx context.Context, deps Deps) (*Manager, error) {
	if deps.Store == nil || deps.Backend == nil {
		return nil, ErrInvalidDeps
	}
	if deps.OperationTimeout <= 0 {
		deps.OperationTimeout = DefaultOperationTimeout
	}
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	m := &Manager{
		deps:        deps,
		subscribers: make(map[int]chan State),
	}
	m.state = State{
		Phase:       PhaseUnregistered,
		UserDevices: []backend.Device{},
		UpdatedAt:   deps.Now(),
	}

	rec, found, err := deps.Store.Load(ctx)
	switch {
	case errors.Is(err, identity.ErrCorruptRecord):
		deps.Logger.Warn("discarding unreadable registration record", "error", err)
		found = true
		rec = identity.Record{}
	case err != nil:
		return nil, fmt.Errorf("loading registration record: %w", err)
	}

	if found && rec.Valid() {
		m.state.Phase = PhaseRegistered
		m.state.IsDeviceRegistered = true
		m.state.CurrentDeviceID = rec.DeviceID
		m.platformID = rec.PlatformIdentifier
		deps.Logger.Info("device registration restored", "device_id", rec.DeviceID)
		return m, nil
	}

	if found {
		if err := deps.Store.Clear(ctx); err != nil {
			return nil, fmt.Errorf("purging partial registration: %w", err)
		}
		deps.Logger.Info("purged partial registration record")
	}
	return m, nil
}

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.clone()
}

// update applies fn to the state under the lock and publishes the result.
func (m *Manager) update(fn func(s *State)) State {
	m.mu.Lock()
	fn(&m.state)
	m.state.Version++
	m.state.UpdatedAt = m.deps.Now()
	snap := m.state.clone()

	// Taking pubMu before releasing mu keeps publishes in version order.
	m.pubMu.Lock()
	m.mu.Unlock()
	defer m.pubMu.Unlock()

	m.publishLocked(snap)
	return snap
}

// RegisterDevice upserts this installation on the backend and stores the
// returned device id. An empty ownerUserID registers a guest device.
//
// Without a platform identifier it records ErrMissingPlatformIdentifier
// as the registration error, leaves the phase alone and does not call the
// backend. A backend failure moves to PhaseRegistrationFailed and leaves
// the stored record untouched. Retrying is allowed from any phase.
func (m *Manager) RegisterDevice(ctx context.Context, ownerUserID string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	start := time.Now()

	platformID, ok := "", false
	if m.deps.Platform != nil {
		platformID, ok = m.deps.Platform.Identifier(ctx)
	}
	if !ok {
		m.update(func(s *State) {
			s.RegistrationError = ErrMissingPlatformIdentifier.Error()
		})
		m.deps.Logger.Error("device registration refused", "error", ErrMissingPlatformIdentifier)
		m.record(OpRegister, OutcomeRejected, start, 0)
		return ErrMissingPlatformIdentifier
	}

	m.update(func(s *State) {
		s.Phase = PhaseRegistering
		s.IsLoading = true
		s.RegistrationError = ""
	})

	opCtx, cancel := context.WithTimeout(ctx, m.deps.OperationTimeout)
	defer cancel()

	dev, err := m.deps.Backend.UpsertDevice(opCtx, backend.DeviceInsert{
		PlatformIdentifier: platformID,
		DeviceType:         m.deps.DeviceType,
		PlatformType:       m.deps.PlatformType,
		OwnerUserID:        ownerUserID,
	})
	if err == nil {
		err = m.deps.Store.Save(opCtx, identity.Record{
			DeviceID:           dev.DeviceID,
			PlatformIdentifier: platformID,
			Registered:         true,
		})
	}
	if err != nil {
		m.update(func(s *State) {
			s.Phase = PhaseRegistrationFailed
			s.IsLoading = false
			s.RegistrationError = fmt.Sprintf("device registration failed: %v", err)
		})
		m.deps.Logger.Error("device registration failed",
			"platform_identifier", platform.Prefix(platformID),
			"error", err,
		)
		m.record(OpRegister, OutcomeFailure, start, 0)
		return fmt.Errorf("registering device: %w", err)
	}

	m.mu.Lock()
	m.platformID = platformID
	m.mu.Unlock()

	m.update(func(s *State) {
		s.Phase = PhaseRegistered
		s.IsLoading = false
		s.IsDeviceRegistered = true
		s.CurrentDeviceID = dev.DeviceID
	})
	m.deps.Logger.Info("device registered",
		"device_id", dev.DeviceID,
		"platform_identifier", platform.Prefix(platformID),
		"guest", ownerUserID == "",
	)
	m.record(OpRegister, OutcomeSuccess, start, 1)
	return nil
}

// ResetDeviceRegistration clears the stored record and this
// installation's identity, returning to PhaseUnregistered. The user's
// device list and selection are kept.
func (m *Manager) ResetDeviceRegistration(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	start := time.Now()

	if err := m.deps.Store.Clear(ctx); err != nil {
		m.record(OpReset, OutcomeFailure, start, 0)
		return fmt.Errorf("resetting device registration: %w", err)
	}

	m.mu.Lock()
	m.platformID = ""
	m.mu.Unlock()

	m.update(func(s *State) {
		s.Phase = PhaseUnregistered
		s.IsDeviceRegistered = false
		s.CurrentDeviceID = ""
		s.RegistrationError = ""
		s.IsLoading = false
	})
	m.deps.Logger.Info("device registration reset")
	m.record(OpReset, OutcomeSuccess, start, 0)
	return nil
}

// FetchUserDevices replaces UserDevices with the user's devices. With at
// least one device the first is selected and becomes the actual device;
// with none the selection is left as it was. Failures are recorded as the
// registration error and the device list is kept.
func (m *Manager) FetchUserDevices(ctx context.Context, ownerUserID string) error {
	if ownerUserID == "" {
		return ErrEmptyOwner
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	start := time.Now()

	m.update(func(s *State) {
		s.IsLoading = true
	})

	opCtx, cancel := context.WithTimeout(ctx, m.deps.OperationTimeout)
	defer cancel()

	devices, err := m.deps.Backend.ListDevicesByOwner(opCtx, ownerUserID)
	if err != nil {
		m.update(func(s *State) {
			s.IsLoading = false
			s.RegistrationError = fmt.Sprintf("device list fetch failed: %v", err)
		})
		m.deps.Logger.Error("device list fetch failed", "owner_user_id", ownerUserID, "error", err)
		m.record(OpFetch, OutcomeFailure, start, 0)
		return fmt.Errorf("fetching user devices: %w", err)
	}

	snap := m.update(func(s *State) {
		s.IsLoading = false
		s.UserDevices = make([]backend.Device, len(devices))
		copy(s.UserDevices, devices)
		if len(devices) > 0 {
			s.SelectedDeviceID = devices[0].DeviceID
			s.ActualDeviceID = devices[0].DeviceID
		}
	})
	m.deps.Logger.Info("user devices fetched",
		"owner_user_id", ownerUserID,
		"count", len(devices),
		"selected_device_id", snap.SelectedDeviceID,
	)
	m.record(OpFetch, OutcomeSuccess, start, len(devices))
	return nil
}

// SelectDevice makes id the selected and actual device if it is one of
// UserDevices. Unknown ids are ignored. Reports whether id was accepted.
func (m *Manager) SelectDevice(id string) bool {
	m.mu.RLock()
	known := id != "" && m.state.HasDevice(id)
	same := m.state.SelectedDeviceID == id && m.state.ActualDeviceID == id
	m.mu.RUnlock()

	if !known {
		m.deps.Logger.Debug("ignoring selection of unknown device", "device_id", id)
		return false
	}
	if same {
		return true
	}

	m.update(func(s *State) {
		// Re-check: the list may have been replaced since the read above.
		if s.HasDevice(id) {
			s.SelectedDeviceID = id
			s.ActualDeviceID = id
		}
	})
	return true
}

// DeviceInfo describes this installation's device, preferring the actual
// device id over the registered one. It is absent when either the id or
// the stored platform identifier is missing.
func (m *Manager) DeviceInfo() (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id := m.state.ActualDeviceID
	if id == "" {
		id = m.state.CurrentDeviceID
	}
	if id == "" || m.platformID == "" {
		return Info{}, false
	}
	return Info{
		DeviceID:           id,
		PlatformIdentifier: m.platformID,
		DeviceType:         m.deps.DeviceType,
		PlatformType:       m.deps.PlatformType,
	}, true
}

// ActiveDeviceID returns the selected device, else the actual device.
func (m *Manager) ActiveDeviceID() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ActiveDeviceID()
}

func (m *Manager) record(op, outcome string, start time.Time, count int) {
	if m.deps.Recorder != nil {
		m.deps.Recorder.RecordOperation(op, outcome, time.Since(start), count)
	}
}
