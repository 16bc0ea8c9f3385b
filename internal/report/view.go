package report

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Session reports whether a user is signed in.
type Session interface {
	IsAuthenticated() bool
}

// DeviceSource resolves the device whose report is shown: the selected
// device if any, else the actual device confirmed for the user.
type DeviceSource interface {
	ActiveDeviceID() (string, bool)
}

// Fetcher retrieves one day's report. A nil report with a nil error means
// there is no data for that day.
type Fetcher interface {
	FetchBehaviorReport(ctx context.Context, deviceID, date string) (*Report, error)
}

// Logger defines the logging interface used by the View.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// ViewDeps are the collaborators of a View. Location and Now default to
// time.Local and time.Now.
type ViewDeps struct {
	Session  Session
	Devices  DeviceSource
	Fetcher  Fetcher
	Location *time.Location
	Now      func() time.Time
	Logger   Logger
}

// ViewState is a copy of everything a renderer needs.
type ViewState struct {
	Date         string   `json:"date"`
	DeviceID     string   `json:"device_id,omitempty"`
	Report       *Report  `json:"report"`
	Expanded     []string `json:"expanded"`
	IsLoading    bool     `json:"is_loading"`
	ErrorMessage string   `json:"error_message,omitempty"`
}

// View is the headless model of the daily behaviour screen.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Only the most recently
//     started Load may apply its result; an older one that finishes late
//     (after a date or device change) is discarded.
type View struct {
	deps ViewDeps

	mu       sync.Mutex
	date     time.Time
	expanded map[string]bool
	report   *Report
	deviceID string
	loading  bool
	errMsg   string

	loadSeq uint64 // bumped by every Load; identifies the latest one
}

// NewView creates a View showing today.
func NewView(deps ViewDeps) *View {
	if deps.Location == nil {
		deps.Location = time.Local
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}
	v := &View{
		deps:     deps,
		expanded: make(map[string]bool),
	}
	v.date = v.midnight(deps.Now())
	return v
}

func (v *View) midnight(t time.Time) time.Time {
	t = t.In(v.deps.Location)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, v.deps.Location)
}

// SelectedDate returns midnight of the selected day in the view's zone.
func (v *View) SelectedDate() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.date
}

// DateString returns the selected day as yyyy-MM-dd.
func (v *View) DateString() string {
	return v.SelectedDate().Format(DateLayout)
}

// ChangeDate moves the selection by days, collapses every time block and
// reloads.
func (v *View) ChangeDate(ctx context.Context, days int) error {
	v.mu.Lock()
	v.date = v.date.AddDate(0, 0, days)
	v.expanded = make(map[string]bool)
	v.report = nil
	v.mu.Unlock()
	return v.Load(ctx)
}

// SetDate selects the given day, collapses every time block and reloads.
func (v *View) SetDate(ctx context.Context, day time.Time) error {
	v.mu.Lock()
	v.date = v.midnight(day)
	v.expanded = make(map[string]bool)
	v.report = nil
	v.mu.Unlock()
	return v.Load(ctx)
}

// ToggleTimeBlock flips the expanded state of the slot "HH-MM".
func (v *View) ToggleTimeBlock(time string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.expanded[time] {
		delete(v.expanded, time)
	} else {
		v.expanded[time] = true
	}
}

// IsExpanded reports whether the slot is expanded.
func (v *View) IsExpanded(time string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.expanded[time]
}

// Load fetches the report for the selected day.
//
// It returns ErrNoActiveSession or ErrNoDeviceRegistered without touching
// the network when a guard fails. Every failure is also stored as the
// view's ErrorMessage and leaves the current report in place.
func (v *View) Load(ctx context.Context) error {
	if v.deps.Session == nil || !v.deps.Session.IsAuthenticated() {
		return v.fail(ErrNoActiveSession)
	}

	var deviceID string
	var ok bool
	if v.deps.Devices != nil {
		deviceID, ok = v.deps.Devices.ActiveDeviceID()
	}
	if !ok || deviceID == "" {
		return v.fail(ErrNoDeviceRegistered)
	}

	v.mu.Lock()
	v.loadSeq++
	seq := v.loadSeq
	day := v.date
	v.loading = true
	v.errMsg = ""
	v.mu.Unlock()

	date := day.Format(DateLayout)
	v.deps.Logger.Debug("loading behaviour report", "device_id", deviceID, "date", date)

	rep, err := v.deps.Fetcher.FetchBehaviorReport(ctx, deviceID, date)

	v.mu.Lock()
	defer v.mu.Unlock()

	if seq != v.loadSeq {
		// Superseded by a later load; that load owns the state now.
		return nil
	}
	v.loading = false
	if err != nil {
		v.errMsg = err.Error()
		v.deps.Logger.Warn("behaviour report fetch failed", "device_id", deviceID, "date", date, "error", err)
		return fmt.Errorf("fetching report for %s: %w", date, err)
	}
	v.report = rep
	v.deviceID = deviceID
	return nil
}

func (v *View) fail(err error) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.loadSeq++
	v.errMsg = err.Error()
	v.loading = false
	return err
}

// Report returns the loaded report, or nil when the day has no data.
func (v *View) Report() *Report {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.report
}

// ErrorMessage returns the last failure message, or "".
func (v *View) ErrorMessage() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.errMsg
}

// IsLoading reports whether a fetch is in flight.
func (v *View) IsLoading() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loading
}

// State returns a copy of the view's current state.
func (v *View) State() ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()

	expanded := make([]string, 0, len(v.expanded))
	for i := 0; i < SlotsPerDay; i++ {
		if t := SlotTime(i); v.expanded[t] {
			expanded = append(expanded, t)
		}
	}
	return ViewState{
		Date:         v.date.Format(DateLayout),
		DeviceID:     v.deviceID,
		Report:       v.report,
		Expanded:     expanded,
		IsLoading:    v.loading,
		ErrorMessage: v.errMsg,
	}
}
