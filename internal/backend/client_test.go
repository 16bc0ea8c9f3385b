package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeBackend is an in-process stand-in for the devices and
// behavior_summary tables.
type fakeBackend struct {
	t *testing.T

	mu       sync.Mutex
	devices  []Device
	nextID   int
	requests []*http.Request
	reports  map[string]string // "device|date" -> JSON row
	status   int               // forced status when non-zero
}

func newFakeBackend(t *testing.T) (*fakeBackend, *Client) {
	t.Helper()
	fb := &fakeBackend{t: t, reports: make(map[string]string)}
	srv := httptest.NewServer(fb)
	t.Cleanup(srv.Close)

	client, err := New(Config{URL: srv.URL + "/", APIKey: "anon-key", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return fb, client
}

func (fb *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.requests = append(fb.requests, r.Clone(context.Background()))

	if fb.status != 0 {
		w.WriteHeader(fb.status)
		_, _ = io.WriteString(w, `{"message":"forced failure"}`)
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/rest/v1/devices":
		var in DeviceInsert
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		row := fb.upsertLocked(in)
		writeJSON(w, []Device{row})

	case r.Method == http.MethodGet && r.URL.Path == "/rest/v1/devices":
		owner := strings.TrimPrefix(r.URL.Query().Get("owner_user_id"), "eq.")
		out := []Device{}
		for _, d := range fb.devices {
			if d.OwnerUserID == owner {
				out = append(out, d)
			}
		}
		writeJSON(w, out)

	case r.Method == http.MethodGet && r.URL.Path == "/rest/v1/behavior_summary":
		q := r.URL.Query()
		key := strings.TrimPrefix(q.Get("device_id"), "eq.") + "|" + strings.TrimPrefix(q.Get("date"), "eq.")
		if row, ok := fb.reports[key]; ok {
			_, _ = io.WriteString(w, "["+row+"]")
			return
		}
		_, _ = io.WriteString(w, "[]")

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (fb *fakeBackend) upsertLocked(in DeviceInsert) Device {
	for i, d := range fb.devices {
		if d.PlatformIdentifier == in.PlatformIdentifier {
			d.DeviceType, d.PlatformType = in.DeviceType, in.PlatformType
			if in.OwnerUserID != "" {
				d.OwnerUserID = in.OwnerUserID
			}
			fb.devices[i] = d
			return d
		}
	}
	fb.nextID++
	d := Device{
		DeviceID:           "d" + string(rune('0'+fb.nextID)),
		PlatformIdentifier: in.PlatformIdentifier,
		DeviceType:         in.DeviceType,
		PlatformType:       in.PlatformType,
		OwnerUserID:        in.OwnerUserID,
	}
	fb.devices = append(fb.devices, d)
	return d
}

func (fb *fakeBackend) lastRequest() *http.Request {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.requests[len(fb.requests)-1]
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing url", Config{APIKey: "k"}},
		{"relative url", Config{URL: "not a url", APIKey: "k"}},
		{"missing key", Config{URL: "https://x.supabase.co"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("New() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestUpsertDevice_Idempotent(t *testing.T) {
	fb, client := newFakeBackend(t)
	ctx := context.Background()
	in := DeviceInsert{PlatformIdentifier: "ABC-123", DeviceType: "ios", PlatformType: "iOS"}

	first, err := client.UpsertDevice(ctx, in)
	if err != nil {
		t.Fatalf("UpsertDevice() error = %v", err)
	}
	second, err := client.UpsertDevice(ctx, in)
	if err != nil {
		t.Fatalf("second UpsertDevice() error = %v", err)
	}

	if first.DeviceID != "d1" || second.DeviceID != first.DeviceID {
		t.Errorf("device ids = %q, %q; want d1 twice", first.DeviceID, second.DeviceID)
	}
	if len(fb.devices) != 1 {
		t.Errorf("backend holds %d rows, want 1", len(fb.devices))
	}

	req := fb.lastRequest()
	if got := req.URL.Query().Get("on_conflict"); got != "platform_identifier" {
		t.Errorf("on_conflict = %q", got)
	}
	if got := req.Header.Get("Prefer"); got != "resolution=merge-duplicates,return=representation" {
		t.Errorf("Prefer = %q", got)
	}
}

func TestUpsertDevice_Headers(t *testing.T) {
	fb, client := newFakeBackend(t)

	if _, err := client.UpsertDevice(context.Background(), DeviceInsert{PlatformIdentifier: "p"}); err != nil {
		t.Fatalf("UpsertDevice() error = %v", err)
	}

	req := fb.lastRequest()
	checks := map[string]string{
		"apikey":        "anon-key",
		"Authorization": "Bearer anon-key",
		"Content-Type":  "application/json",
		"Accept":        "application/json",
	}
	for h, want := range checks {
		if got := req.Header.Get(h); got != want {
			t.Errorf("header %s = %q, want %q", h, got, want)
		}
	}
	if req.Header.Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
}

type fixedToken string

func (f fixedToken) Token(context.Context) (string, error) { return string(f), nil }

func TestClient_TokenSource(t *testing.T) {
	fb := &fakeBackend{t: t, reports: map[string]string{}}
	srv := httptest.NewServer(fb)
	defer srv.Close()

	client, err := New(Config{URL: srv.URL, APIKey: "anon-key", Tokens: fixedToken("user-jwt")})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.ListDevicesByOwner(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
	req := fb.lastRequest()
	if got := req.Header.Get("Authorization"); got != "Bearer user-jwt" {
		t.Errorf("Authorization = %q, want user token", got)
	}
	if got := req.Header.Get("apikey"); got != "anon-key" {
		t.Errorf("apikey = %q, want anon-key", got)
	}
}

func TestUpsertDevice_EmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "[]")
	}))
	defer srv.Close()

	client, _ := New(Config{URL: srv.URL, APIKey: "k"})
	_, err := client.UpsertDevice(context.Background(), DeviceInsert{PlatformIdentifier: "p"})
	if !errors.Is(err, ErrNoDeviceReturned) {
		t.Errorf("UpsertDevice() error = %v, want ErrNoDeviceReturned", err)
	}
}

func TestUpsertDevice_InvalidRow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[{"platform_identifier":"p"}]`)
	}))
	defer srv.Close()

	client, _ := New(Config{URL: srv.URL, APIKey: "k"})
	_, err := client.UpsertDevice(context.Background(), DeviceInsert{PlatformIdentifier: "p"})
	if !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("UpsertDevice() error = %v, want ErrInvalidResponse", err)
	}
}

func TestClient_StatusError(t *testing.T) {
	fb, client := newFakeBackend(t)
	fb.status = http.StatusUnauthorized

	_, err := client.ListDevicesByOwner(context.Background(), "u1")
	if !errors.Is(err, ErrUnexpectedStatus) {
		t.Fatalf("error = %v, want ErrUnexpectedStatus", err)
	}
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error %T is not *StatusError", err)
	}
	if se.StatusCode != http.StatusUnauthorized || !strings.Contains(se.Body, "forced failure") {
		t.Errorf("StatusError = %+v", se)
	}
}

func TestClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, _ := New(Config{URL: url, APIKey: "k", Timeout: time.Second})
	_, err := client.ListDevicesByOwner(context.Background(), "u1")
	if !errors.Is(err, ErrNetwork) {
		t.Errorf("error = %v, want ErrNetwork", err)
	}
}

func TestClient_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "<html>")
	}))
	defer srv.Close()

	client, _ := New(Config{URL: srv.URL, APIKey: "k"})
	_, err := client.ListDevicesByOwner(context.Background(), "u1")
	if !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("error = %v, want ErrInvalidResponse", err)
	}
}

func TestListDevicesByOwner(t *testing.T) {
	fb, client := newFakeBackend(t)
	ctx := context.Background()

	for _, p := range []string{"P1", "P2"} {
		if _, err := client.UpsertDevice(ctx, DeviceInsert{PlatformIdentifier: p, OwnerUserID: "u1"}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := client.UpsertDevice(ctx, DeviceInsert{PlatformIdentifier: "P3", OwnerUserID: "u2"}); err != nil {
		t.Fatal(err)
	}

	devices, err := client.ListDevicesByOwner(ctx, "u1")
	if err != nil {
		t.Fatalf("ListDevicesByOwner() error = %v", err)
	}
	if len(devices) != 2 || devices[0].DeviceID != "d1" || devices[1].DeviceID != "d2" {
		t.Errorf("devices = %+v", devices)
	}

	q := fb.lastRequest().URL.Query()
	if q.Get("owner_user_id") != "eq.u1" || q.Get("select") != "*" {
		t.Errorf("query = %v", q)
	}

	none, err := client.ListDevicesByOwner(ctx, "nobody")
	if err != nil {
		t.Fatalf("ListDevicesByOwner(nobody) error = %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("ListDevicesByOwner(nobody) = %#v, want empty non-nil slice", none)
	}
}

func TestFetchBehaviorReport(t *testing.T) {
	fb, client := newFakeBackend(t)
	fb.reports["d1|2026-10-15"] = `{"device_id":"d1","date":"2026-10-15",
		"summary_ranking":[{"event":"Speech","count":3}],
		"time_blocks":{"08-00":[{"event":"Speech","count":3}]}}`
	ctx := context.Background()

	rep, err := client.FetchBehaviorReport(ctx, "d1", "2026-10-15")
	if err != nil {
		t.Fatalf("FetchBehaviorReport() error = %v", err)
	}
	if rep == nil || rep.TotalEventCount() != 3 || len(rep.ActiveTimeBlocks()) != 1 {
		t.Errorf("report = %+v", rep)
	}

	q := fb.lastRequest().URL.Query()
	if q.Get("device_id") != "eq.d1" || q.Get("date") != "eq.2026-10-15" {
		t.Errorf("query = %v", q)
	}

	missing, err := client.FetchBehaviorReport(ctx, "d1", "2026-10-14")
	if err != nil || missing != nil {
		t.Errorf("FetchBehaviorReport(no data) = %v, %v; want nil, nil", missing, err)
	}
}
