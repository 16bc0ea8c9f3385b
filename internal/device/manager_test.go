package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/watchme-core/internal/backend"
	"github.com/nerrad567/watchme-core/internal/identity"
	"github.com/nerrad567/watchme-core/internal/platform"
)

// fakeBackend keys devices on platform identifier like the real upsert.
type fakeBackend struct {
	mu          sync.Mutex
	byPlatform  map[string]backend.Device
	owned       map[string][]backend.Device
	upsertCalls int
	listCalls   int
	lastInsert  backend.DeviceInsert
	upsertErr   error
	listErr     error
	emptyUpsert bool
	block       chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		byPlatform: make(map[string]backend.Device),
		owned:      make(map[string][]backend.Device),
	}
}

func (f *fakeBackend) UpsertDevice(ctx context.Context, in backend.DeviceInsert) (*backend.Device, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertCalls++
	f.lastInsert = in
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	if f.emptyUpsert {
		return nil, backend.ErrNoDeviceReturned
	}
	d, ok := f.byPlatform[in.PlatformIdentifier]
	if !ok {
		d = backend.Device{
			DeviceID:           fmt.Sprintf("d%d", len(f.byPlatform)+1),
			PlatformIdentifier: in.PlatformIdentifier,
		}
	}
	d.DeviceType, d.PlatformType = in.DeviceType, in.PlatformType
	if in.OwnerUserID != "" {
		d.OwnerUserID = in.OwnerUserID
	}
	f.byPlatform[in.PlatformIdentifier] = d
	return &d, nil
}

func (f *fakeBackend) ListDevicesByOwner(_ context.Context, owner string) ([]backend.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]backend.Device{}, f.owned[owner]...), nil
}

func (f *fakeBackend) calls() (upserts, lists int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upsertCalls, f.listCalls
}

type fakeRecorder struct {
	mu   sync.Mutex
	ops  []string
	seen map[string]int
}

func (r *fakeRecorder) RecordOperation(op, outcome string, _ time.Duration, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op+":"+outcome)
	if r.seen == nil {
		r.seen = make(map[string]int)
	}
	r.seen[op] = count
}

type testEnv struct {
	kv       *identity.MemoryKV
	store    *identity.Store
	backend  *fakeBackend
	recorder *fakeRecorder
	provider platform.Provider
}

func newTestEnv(platformID string) *testEnv {
	kv := identity.NewMemoryKV()
	return &testEnv{
		kv:       kv,
		store:    identity.NewStore(kv),
		backend:  newFakeBackend(),
		recorder: &fakeRecorder{},
		provider: platform.Static(platformID),
	}
}

func (e *testEnv) manager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(context.Background(), Deps{
		Store:            e.store,
		Platform:         e.provider,
		Backend:          e.backend,
		DeviceType:       "ios",
		PlatformType:     "iOS",
		OperationTimeout: 2 * time.Second,
		Recorder:         e.recorder,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m
}

func TestNewManager_InvalidDeps(t *testing.T) {
	_, err := NewManager(context.Background(), Deps{})
	if !errors.Is(err, ErrInvalidDeps) {
		t.Errorf("NewManager() error = %v, want ErrInvalidDeps", err)
	}
}

func TestNewManager_FreshInstall(t *testing.T) {
	env := newTestEnv("ABC-123")
	m := env.manager(t)

	s := m.Snapshot()
	if s.Phase != PhaseUnregistered || s.IsDeviceRegistered || s.CurrentDeviceID != "" {
		t.Errorf("fresh state = %+v", s)
	}
	if s.UserDevices == nil {
		t.Error("UserDevices should be an empty, non-nil slice")
	}
}

func TestNewManager_RestoresRegisteredRecordWithoutNetwork(t *testing.T) {
	env := newTestEnv("ABC-123")
	ctx := context.Background()
	if err := env.store.Save(ctx, identity.Record{DeviceID: "d9", PlatformIdentifier: "ABC-123", Registered: true}); err != nil {
		t.Fatal(err)
	}

	m := env.manager(t)

	s := m.Snapshot()
	if s.Phase != PhaseRegistered || !s.IsDeviceRegistered || s.CurrentDeviceID != "d9" {
		t.Errorf("restored state = %+v", s)
	}
	if u, l := env.backend.calls(); u != 0 || l != 0 {
		t.Errorf("backend calls = %d upserts, %d lists; want none", u, l)
	}
	info, ok := m.DeviceInfo()
	if !ok || info.DeviceID != "d9" || info.PlatformIdentifier != "ABC-123" {
		t.Errorf("DeviceInfo() = %+v, %v", info, ok)
	}
}

func TestNewManager_PurgesPartialRecord(t *testing.T) {
	tests := []struct {
		name string
		seed func(ctx context.Context, e *testEnv) error
	}{
		{
			name: "unregistered record",
			seed: func(ctx context.Context, e *testEnv) error {
				return e.store.Save(ctx, identity.Record{DeviceID: "d1", PlatformIdentifier: "p"})
			},
		},
		{
			name: "legacy device id without flag",
			seed: func(ctx context.Context, e *testEnv) error {
				return e.kv.Set(ctx, "watchme_device_id", "d-old")
			},
		},
		{
			name: "corrupt record",
			seed: func(ctx context.Context, e *testEnv) error {
				return e.kv.Set(ctx, identity.RecordKey, "{")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv("ABC-123")
			ctx := context.Background()
			if err := tt.seed(ctx, env); err != nil {
				t.Fatal(err)
			}

			m := env.manager(t)

			if s := m.Snapshot(); s.Phase != PhaseUnregistered || s.IsDeviceRegistered || s.CurrentDeviceID != "" {
				t.Errorf("state = %+v, want unregistered", s)
			}
			if env.kv.Len() != 0 {
				t.Errorf("partial record not purged, %d keys remain", env.kv.Len())
			}
		})
	}
}

func TestRegisterDevice_FreshInstallEndToEnd(t *testing.T) {
	env := newTestEnv("ABC-123")
	m := env.manager(t)
	ctx := context.Background()

	if err := m.RegisterDevice(ctx, "u1"); err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}

	s := m.Snapshot()
	if !s.IsDeviceRegistered || s.CurrentDeviceID != "d1" || s.Phase != PhaseRegistered {
		t.Errorf("state = %+v", s)
	}
	if s.IsLoading || s.RegistrationError != "" {
		t.Errorf("loading/error not cleared: %+v", s)
	}

	in := env.backend.lastInsert
	if in.PlatformIdentifier != "ABC-123" || in.DeviceType != "ios" || in.PlatformType != "iOS" || in.OwnerUserID != "u1" {
		t.Errorf("upsert payload = %+v", in)
	}

	rec, ok, err := env.store.Load(ctx)
	if err != nil || !ok || !rec.Registered || rec.DeviceID != "d1" || rec.PlatformIdentifier != "ABC-123" {
		t.Errorf("persisted record = %+v, %v, %v", rec, ok, err)
	}
	if got := env.recorder.ops; len(got) != 1 || got[0] != "register:success" {
		t.Errorf("recorded ops = %v", got)
	}
}

func TestRegisterDevice_Idempotent(t *testing.T) {
	env := newTestEnv("ABC-123")
	m := env.manager(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := m.RegisterDevice(ctx, ""); err != nil {
			t.Fatalf("RegisterDevice() #%d error = %v", i, err)
		}
		if id := m.Snapshot().CurrentDeviceID; id != "d1" {
			t.Fatalf("RegisterDevice() #%d device id = %q, want d1", i, id)
		}
	}
	if len(env.backend.byPlatform) != 1 {
		t.Errorf("backend holds %d devices, want 1", len(env.backend.byPlatform))
	}
	if env.backend.lastInsert.OwnerUserID != "" {
		t.Error("guest registration should send no owner")
	}
}

func TestRegisterDevice_MissingPlatformIdentifier(t *testing.T) {
	env := newTestEnv("")
	m := env.manager(t)
	before := m.Snapshot()

	err := m.RegisterDevice(context.Background(), "u1")
	if !errors.Is(err, ErrMissingPlatformIdentifier) {
		t.Fatalf("RegisterDevice() error = %v, want ErrMissingPlatformIdentifier", err)
	}

	s := m.Snapshot()
	if s.IsDeviceRegistered != before.IsDeviceRegistered || s.Phase != before.Phase {
		t.Errorf("state changed: %+v -> %+v", before, s)
	}
	if s.RegistrationError == "" {
		t.Error("RegistrationError should be set")
	}
	if u, _ := env.backend.calls(); u != 0 {
		t.Errorf("backend upsert called %d times, want 0", u)
	}
	if env.recorder.ops[0] != "register:rejected" {
		t.Errorf("recorded ops = %v", env.recorder.ops)
	}
}

func TestRegisterDevice_BackendFailure(t *testing.T) {
	tests := []struct {
		name string
		prep func(*fakeBackend)
		want error
	}{
		{"network", func(b *fakeBackend) { b.upsertErr = fmt.Errorf("%w: refused", backend.ErrNetwork) }, backend.ErrNetwork},
		{"empty result", func(b *fakeBackend) { b.emptyUpsert = true }, backend.ErrNoDeviceReturned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv("ABC-123")
			tt.prep(env.backend)
			m := env.manager(t)
			ctx := context.Background()

			err := m.RegisterDevice(ctx, "u1")
			if !errors.Is(err, tt.want) {
				t.Fatalf("RegisterDevice() error = %v, want %v", err, tt.want)
			}

			s := m.Snapshot()
			if s.Phase != PhaseRegistrationFailed || s.IsLoading || s.IsDeviceRegistered {
				t.Errorf("state = %+v", s)
			}
			if s.RegistrationError == "" {
				t.Error("RegistrationError should describe the failure")
			}
			if _, ok, _ := env.store.Load(ctx); ok {
				t.Error("failed registration must not persist a record")
			}

			// Retry from RegistrationFailed.
			env.backend.upsertErr = nil
			env.backend.emptyUpsert = false
			if err := m.RegisterDevice(ctx, "u1"); err != nil {
				t.Fatalf("retry error = %v", err)
			}
			if s := m.Snapshot(); s.Phase != PhaseRegistered || s.RegistrationError != "" {
				t.Errorf("state after retry = %+v", s)
			}
		})
	}
}

func TestRegisterDevice_Timeout(t *testing.T) {
	env := newTestEnv("ABC-123")
	env.backend.block = make(chan struct{})
	m, err := NewManager(context.Background(), Deps{
		Store:            env.store,
		Platform:         env.provider,
		Backend:          env.backend,
		OperationTimeout: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	err = m.RegisterDevice(context.Background(), "")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("RegisterDevice() error = %v, want deadline exceeded", err)
	}
	if s := m.Snapshot(); s.Phase != PhaseRegistrationFailed || s.IsLoading {
		t.Errorf("state = %+v", s)
	}
}

func TestResetDeviceRegistration(t *testing.T) {
	env := newTestEnv("ABC-123")
	m := env.manager(t)
	ctx := context.Background()

	if err := m.RegisterDevice(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if err := env.kv.Set(ctx, "watchme_device_registered", "true"); err != nil {
		t.Fatal(err)
	}

	if err := m.ResetDeviceRegistration(ctx); err != nil {
		t.Fatalf("ResetDeviceRegistration() error = %v", err)
	}

	s := m.Snapshot()
	if s.IsDeviceRegistered || s.CurrentDeviceID != "" || s.Phase != PhaseUnregistered || s.RegistrationError != "" {
		t.Errorf("state after reset = %+v", s)
	}
	if env.kv.Len() != 0 {
		t.Errorf("reset left %d persisted keys", env.kv.Len())
	}
	if _, ok := m.DeviceInfo(); ok {
		t.Error("DeviceInfo() should be absent after reset")
	}

	// Callable from any state, including already unregistered.
	if err := m.ResetDeviceRegistration(ctx); err != nil {
		t.Errorf("second reset error = %v", err)
	}
}

func TestFetchUserDevices_Selection(t *testing.T) {
	tests := []struct {
		name         string
		devices      []backend.Device
		preselect    string
		wantSelected string
		wantCount    int
	}{
		{
			name:         "one device is auto-selected",
			devices:      []backend.Device{{DeviceID: "d1", PlatformIdentifier: "p1"}},
			wantSelected: "d1",
			wantCount:    1,
		},
		{
			name: "first of many is selected",
			devices: []backend.Device{
				{DeviceID: "d1", PlatformIdentifier: "p1"},
				{DeviceID: "d2", PlatformIdentifier: "p2"},
			},
			wantSelected: "d1",
			wantCount:    2,
		},
		{
			name:         "zero devices keeps selection",
			devices:      nil,
			preselect:    "d7",
			wantSelected: "d7",
			wantCount:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv("ABC-123")
			env.backend.owned["u1"] = tt.devices
			m := env.manager(t)
			ctx := context.Background()

			if tt.preselect != "" {
				env.backend.owned["u-pre"] = []backend.Device{{DeviceID: tt.preselect, PlatformIdentifier: "px"}}
				if err := m.FetchUserDevices(ctx, "u-pre"); err != nil {
					t.Fatal(err)
				}
			}

			if err := m.FetchUserDevices(ctx, "u1"); err != nil {
				t.Fatalf("FetchUserDevices() error = %v", err)
			}

			s := m.Snapshot()
			if len(s.UserDevices) != tt.wantCount {
				t.Errorf("len(UserDevices) = %d, want %d", len(s.UserDevices), tt.wantCount)
			}
			if s.SelectedDeviceID != tt.wantSelected {
				t.Errorf("SelectedDeviceID = %q, want %q", s.SelectedDeviceID, tt.wantSelected)
			}
			if tt.wantCount > 0 && s.ActualDeviceID != tt.wantSelected {
				t.Errorf("ActualDeviceID = %q, want %q", s.ActualDeviceID, tt.wantSelected)
			}
			if s.IsLoading {
				t.Error("IsLoading should be cleared")
			}
		})
	}
}

func TestFetchUserDevices_IndependentOfRegistration(t *testing.T) {
	env := newTestEnv("")
	env.backend.owned["u1"] = []backend.Device{{DeviceID: "d1", PlatformIdentifier: "p1"}}
	m := env.manager(t)

	if err := m.FetchUserDevices(context.Background(), "u1"); err != nil {
		t.Fatalf("FetchUserDevices() error = %v", err)
	}
	s := m.Snapshot()
	if s.Phase != PhaseUnregistered || s.SelectedDeviceID != "d1" {
		t.Errorf("state = %+v", s)
	}
	if id, ok := m.ActiveDeviceID(); !ok || id != "d1" {
		t.Errorf("ActiveDeviceID() = %q, %v", id, ok)
	}
}

func TestFetchUserDevices_Failure(t *testing.T) {
	env := newTestEnv("ABC-123")
	env.backend.owned["u1"] = []backend.Device{{DeviceID: "d1", PlatformIdentifier: "p1"}}
	m := env.manager(t)
	ctx := context.Background()

	if err := m.FetchUserDevices(ctx, "u1"); err != nil {
		t.Fatal(err)
	}

	env.backend.listErr = &backend.StatusError{StatusCode: 500}
	err := m.FetchUserDevices(ctx, "u1")
	if !errors.Is(err, backend.ErrUnexpectedStatus) {
		t.Fatalf("FetchUserDevices() error = %v, want ErrUnexpectedStatus", err)
	}

	s := m.Snapshot()
	if s.RegistrationError == "" || s.IsLoading {
		t.Errorf("state = %+v, want error set and loading cleared", s)
	}
	if len(s.UserDevices) != 1 || s.SelectedDeviceID != "d1" {
		t.Errorf("failed fetch should keep the previous list: %+v", s)
	}

	if err := m.FetchUserDevices(ctx, ""); !errors.Is(err, ErrEmptyOwner) {
		t.Errorf("FetchUserDevices(\"\") error = %v, want ErrEmptyOwner", err)
	}
}

func TestSelectDevice(t *testing.T) {
	env := newTestEnv("ABC-123")
	env.backend.owned["u1"] = []backend.Device{
		{DeviceID: "d1", PlatformIdentifier: "p1"},
		{DeviceID: "d2", PlatformIdentifier: "p2"},
	}
	m := env.manager(t)
	if err := m.FetchUserDevices(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}

	if !m.SelectDevice("d2") {
		t.Error("SelectDevice(d2) = false, want true")
	}
	s := m.Snapshot()
	if s.SelectedDeviceID != "d2" || s.ActualDeviceID != "d2" {
		t.Errorf("selection = %q/%q, want d2", s.SelectedDeviceID, s.ActualDeviceID)
	}

	version := s.Version
	if m.SelectDevice("unknown") {
		t.Error("SelectDevice(unknown) = true, want false")
	}
	s = m.Snapshot()
	if s.SelectedDeviceID != "d2" || s.Version != version {
		t.Errorf("unknown selection mutated state: %+v", s)
	}

	if !m.SelectDevice("d2") || m.Snapshot().Version != version {
		t.Error("reselecting the current device should be accepted without a publish")
	}
}

func TestDeviceInfo_PrefersActualDevice(t *testing.T) {
	env := newTestEnv("ABC-123")
	env.backend.owned["u1"] = []backend.Device{{DeviceID: "d-user", PlatformIdentifier: "px"}}
	m := env.manager(t)
	ctx := context.Background()

	if _, ok := m.DeviceInfo(); ok {
		t.Error("DeviceInfo() should be absent before registration")
	}

	if err := m.RegisterDevice(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	info, ok := m.DeviceInfo()
	if !ok || info.DeviceID != "d1" || info.DeviceType != "ios" || info.PlatformType != "iOS" {
		t.Errorf("DeviceInfo() = %+v, %v", info, ok)
	}

	if err := m.FetchUserDevices(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	info, _ = m.DeviceInfo()
	if info.DeviceID != "d-user" {
		t.Errorf("DeviceInfo().DeviceID = %q, want actual device d-user", info.DeviceID)
	}
}

func TestSubscribe(t *testing.T) {
	env := newTestEnv("ABC-123")
	m := env.manager(t)

	ch, cancel := m.Subscribe(1)

	if err := m.RegisterDevice(context.Background(), ""); err != nil {
		t.Fatal(err)
	}

	// Buffer of one: only the newest snapshot is left.
	select {
	case s := <-ch:
		if s.Phase != PhaseRegistered || s.CurrentDeviceID != "d1" {
			t.Errorf("latest snapshot = %+v", s)
		}
	default:
		t.Fatal("no snapshot delivered")
	}

	cancel()
	cancel() // idempotent
	if _, open := <-ch; open {
		t.Error("channel should be closed after cancel")
	}
}

func TestAddObserver_OrderAndIsolation(t *testing.T) {
	env := newTestEnv("ABC-123")
	m := env.manager(t)

	var phases []Phase
	var lastVersion uint64
	m.AddObserver(func(s State) {
		if s.Version <= lastVersion {
			t.Errorf("version %d after %d", s.Version, lastVersion)
		}
		lastVersion = s.Version
		phases = append(phases, s.Phase)
		s.UserDevices = append(s.UserDevices, backend.Device{DeviceID: "injected"})
	})
	m.AddObserver(func(State) { panic("observer bug") })

	if err := m.RegisterDevice(context.Background(), ""); err != nil {
		t.Fatal(err)
	}

	want := []Phase{PhaseRegistering, PhaseRegistered}
	if len(phases) != len(want) || phases[0] != want[0] || phases[1] != want[1] {
		t.Errorf("observed phases = %v, want %v", phases, want)
	}
	if len(m.Snapshot().UserDevices) != 0 {
		t.Error("observer mutation leaked into manager state")
	}
}

func TestManager_ConcurrentOperations(t *testing.T) {
	env := newTestEnv("ABC-123")
	env.backend.owned["u1"] = []backend.Device{{DeviceID: "d1", PlatformIdentifier: "ABC-123"}}
	m := env.manager(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = m.RegisterDevice(ctx, "u1")
		}()
		go func() {
			defer wg.Done()
			_ = m.FetchUserDevices(ctx, "u1")
		}()
	}
	wg.Wait()

	s := m.Snapshot()
	if s.IsLoading || s.Phase != PhaseRegistered || s.CurrentDeviceID != "d1" {
		t.Errorf("final state = %+v", s)
	}
	if len(env.backend.byPlatform) != 1 {
		t.Errorf("backend holds %d devices, want 1", len(env.backend.byPlatform))
	}
}
