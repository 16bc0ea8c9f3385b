package report

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSession bool

func (s fakeSession) IsAuthenticated() bool { return bool(s) }

type fakeDevices struct {
	id string
}

func (d fakeDevices) ActiveDeviceID() (string, bool) { return d.id, d.id != "" }

type fakeFetcher struct {
	mu     sync.Mutex
	calls  []string
	report *Report
	err    error
}

func (f *fakeFetcher) FetchBehaviorReport(_ context.Context, deviceID, date string) (*Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, deviceID+"@"+date)
	return f.report, f.err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestView(t *testing.T, authed bool, deviceID string, f *fakeFetcher) *View {
	t.Helper()
	tokyo := time.FixedZone("JST", 9*60*60)
	return NewView(ViewDeps{
		Session:  fakeSession(authed),
		Devices:  fakeDevices{id: deviceID},
		Fetcher:  f,
		Location: tokyo,
		// 2026-10-15 23:30 UTC is already the 16th in JST.
		Now: func() time.Time { return time.Date(2026, 10, 15, 23, 30, 0, 0, time.UTC) },
	})
}

func TestView_SelectedDateUsesLocation(t *testing.T) {
	v := newTestView(t, true, "d1", &fakeFetcher{})

	if got := v.DateString(); got != "2026-10-16" {
		t.Errorf("DateString() = %q, want 2026-10-16", got)
	}
	sel := v.SelectedDate()
	if sel.Hour() != 0 || sel.Minute() != 0 {
		t.Errorf("SelectedDate() = %v, want midnight", sel)
	}
}

func TestView_LoadGuards(t *testing.T) {
	tests := []struct {
		name     string
		authed   bool
		deviceID string
		wantErr  error
	}{
		{"no session", false, "d1", ErrNoActiveSession},
		{"no device", true, "", ErrNoDeviceRegistered},
		{"session checked first", false, "", ErrNoActiveSession},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeFetcher{}
			v := newTestView(t, tt.authed, tt.deviceID, f)

			err := v.Load(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Load() error = %v, want %v", err, tt.wantErr)
			}
			if f.callCount() != 0 {
				t.Error("guard failure must not call the backend")
			}
			if v.ErrorMessage() != tt.wantErr.Error() {
				t.Errorf("ErrorMessage() = %q", v.ErrorMessage())
			}
			if v.IsLoading() {
				t.Error("IsLoading() = true after guard failure")
			}
		})
	}
}

func TestView_LoadSuccess(t *testing.T) {
	rep := &Report{DeviceID: "d1", Date: "2026-10-16"}
	f := &fakeFetcher{report: rep}
	v := newTestView(t, true, "d1", f)

	if err := v.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if v.Report() != rep {
		t.Error("Report() should return the fetched report")
	}
	if f.calls[0] != "d1@2026-10-16" {
		t.Errorf("fetch call = %q", f.calls[0])
	}
	if v.ErrorMessage() != "" {
		t.Errorf("ErrorMessage() = %q, want empty", v.ErrorMessage())
	}
}

func TestView_LoadNoData(t *testing.T) {
	v := newTestView(t, true, "d1", &fakeFetcher{})

	if err := v.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v, no data is not an error", err)
	}
	if v.Report() != nil {
		t.Error("Report() should be nil when the day has no data")
	}
}

func TestView_LoadFailureKeepsReport(t *testing.T) {
	rep := &Report{DeviceID: "d1"}
	f := &fakeFetcher{report: rep}
	v := newTestView(t, true, "d1", f)
	if err := v.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	f.err = errors.New("connection refused")
	err := v.Load(context.Background())
	if err == nil {
		t.Fatal("Load() error = nil, want fetch failure")
	}
	if v.ErrorMessage() != "connection refused" {
		t.Errorf("ErrorMessage() = %q", v.ErrorMessage())
	}
	if v.Report() != rep {
		t.Error("failed reload should keep the current report")
	}
}

func TestView_ChangeDate(t *testing.T) {
	f := &fakeFetcher{report: &Report{}}
	v := newTestView(t, true, "d1", f)

	v.ToggleTimeBlock("08-30")
	if !v.IsExpanded("08-30") {
		t.Fatal("ToggleTimeBlock should expand")
	}

	if err := v.ChangeDate(context.Background(), -1); err != nil {
		t.Fatalf("ChangeDate() error = %v", err)
	}
	if got := v.DateString(); got != "2026-10-15" {
		t.Errorf("DateString() = %q, want 2026-10-15", got)
	}
	if v.IsExpanded("08-30") {
		t.Error("ChangeDate should collapse expanded blocks")
	}
	if f.callCount() != 1 || f.calls[0] != "d1@2026-10-15" {
		t.Errorf("fetch calls = %v", f.calls)
	}
}

func TestView_SetDate(t *testing.T) {
	f := &fakeFetcher{}
	v := newTestView(t, true, "d1", f)

	day := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)
	if err := v.SetDate(context.Background(), day); err != nil {
		t.Fatalf("SetDate() error = %v", err)
	}
	if got := v.DateString(); got != "2026-01-03" {
		t.Errorf("DateString() = %q, want 2026-01-03 (JST)", got)
	}
}

func TestView_ToggleTimeBlock(t *testing.T) {
	v := newTestView(t, true, "d1", &fakeFetcher{})

	v.ToggleTimeBlock("10-00")
	v.ToggleTimeBlock("09-30")
	state := v.State()
	if len(state.Expanded) != 2 || state.Expanded[0] != "09-30" {
		t.Errorf("State().Expanded = %v, want time ordered", state.Expanded)
	}

	v.ToggleTimeBlock("10-00")
	if v.IsExpanded("10-00") {
		t.Error("second toggle should collapse")
	}
}

// switchableDevices is a DeviceSource whose active device can change.
type switchableDevices struct {
	mu sync.Mutex
	id string
}

func (d *switchableDevices) ActiveDeviceID() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.id, d.id != ""
}

func (d *switchableDevices) set(id string) {
	d.mu.Lock()
	d.id = id
	d.mu.Unlock()
}

// gatedFetcher holds each device's fetch open until its gate is closed.
type gatedFetcher struct {
	started chan string
	gates   map[string]chan struct{}
}

func (f *gatedFetcher) FetchBehaviorReport(_ context.Context, deviceID, date string) (*Report, error) {
	f.started <- deviceID
	<-f.gates[deviceID]
	return &Report{DeviceID: deviceID, Date: date}, nil
}

func TestView_LateLoadForPreviousDeviceDiscarded(t *testing.T) {
	devices := &switchableDevices{id: "d1"}
	f := &gatedFetcher{
		started: make(chan string, 2),
		gates:   map[string]chan struct{}{"d1": make(chan struct{}), "d2": make(chan struct{})},
	}
	v := NewView(ViewDeps{
		Session:  fakeSession(true),
		Devices:  devices,
		Fetcher:  f,
		Location: time.UTC,
		Now:      func() time.Time { return time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC) },
	})

	firstDone := make(chan error, 1)
	go func() { firstDone <- v.Load(context.Background()) }()
	if got := <-f.started; got != "d1" {
		t.Fatalf("first fetch for %q, want d1", got)
	}

	// The user selects another device while d1's fetch is in flight.
	devices.set("d2")
	close(f.gates["d2"])
	if err := v.Load(context.Background()); err != nil {
		t.Fatalf("Load(d2) error = %v", err)
	}

	close(f.gates["d1"])
	if err := <-firstDone; err != nil {
		t.Fatalf("Load(d1) error = %v", err)
	}

	st := v.State()
	if st.DeviceID != "d2" || st.Report == nil || st.Report.DeviceID != "d2" {
		t.Errorf("state = device %q report %+v, want d2's report", st.DeviceID, st.Report)
	}
	if st.IsLoading {
		t.Error("IsLoading should be false once the latest load finished")
	}
}

func TestView_GuardFailureDiscardsPendingLoad(t *testing.T) {
	devices := &switchableDevices{id: "d1"}
	f := &gatedFetcher{
		started: make(chan string, 1),
		gates:   map[string]chan struct{}{"d1": make(chan struct{})},
	}
	v := NewView(ViewDeps{
		Session:  fakeSession(true),
		Devices:  devices,
		Fetcher:  f,
		Location: time.UTC,
	})

	done := make(chan error, 1)
	go func() { done <- v.Load(context.Background()) }()
	<-f.started

	devices.set("")
	if err := v.Load(context.Background()); !errors.Is(err, ErrNoDeviceRegistered) {
		t.Fatalf("Load() error = %v, want ErrNoDeviceRegistered", err)
	}

	close(f.gates["d1"])
	<-done
	if v.Report() != nil {
		t.Error("a load started before the device went away should not apply")
	}
	if v.ErrorMessage() != ErrNoDeviceRegistered.Error() {
		t.Errorf("ErrorMessage() = %q", v.ErrorMessage())
	}
}
