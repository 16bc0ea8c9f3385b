package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// RecordKey is the key holding the serialized registration record.
const RecordKey = "watchme_device_registration"

// Keys written by older clients, one value each.
const (
	legacyDeviceIDKey           = "watchme_device_id"
	legacyPlatformIdentifierKey = "watchme_platform_identifier"
	legacyRegisteredKey         = "watchme_supabase_registered"
	legacyStaleRegisteredKey    = "watchme_device_registered"
)

var legacyKeys = []string{
	legacyDeviceIDKey,
	legacyPlatformIdentifierKey,
	legacyRegisteredKey,
	legacyStaleRegisteredKey,
}

// Record is the locally persisted registration state.
//
// Registered is only written after a successful backend upsert, together
// with both ids. Records imported from the legacy layout may lack the
// platform identifier.
type Record struct {
	DeviceID           string    `json:"device_id,omitempty"`
	PlatformIdentifier string    `json:"platform_identifier,omitempty"`
	Registered         bool      `json:"registered"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Valid reports whether the record describes a usable registration.
func (r Record) Valid() bool {
	return r.Registered && r.DeviceID != ""
}

// Store reads and writes the registration record on a KV.
//
// Thread Safety:
//   - Safe for concurrent use if the KV is. Callers serialise
//     read-modify-write sequences themselves.
type Store struct {
	kv  KV
	now func() time.Time
}

// NewStore creates a Store on kv.
func NewStore(kv KV) *Store {
	return &Store{kv: kv, now: time.Now}
}

// Load returns the stored record. The bool is false when nothing has been
// stored. A record found only under the legacy keys is migrated to
// RecordKey before it is returned.
func (s *Store) Load(ctx context.Context) (Record, bool, error) {
	raw, ok, err := s.kv.Get(ctx, RecordKey)
	if err != nil {
		return Record{}, false, fmt.Errorf("loading registration record: %w", err)
	}
	if ok {
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return Record{}, true, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
		}
		return rec, true, nil
	}
	return s.importLegacy(ctx)
}

// Save writes rec as one value, stamping UpdatedAt.
func (s *Store) Save(ctx context.Context, rec Record) error {
	rec.UpdatedAt = s.now().UTC()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding registration record: %w", err)
	}
	if err := s.kv.Set(ctx, RecordKey, string(data)); err != nil {
		return fmt.Errorf("saving registration record: %w", err)
	}
	return nil
}

// Clear removes the record and every legacy key.
func (s *Store) Clear(ctx context.Context) error {
	keys := append([]string{RecordKey}, legacyKeys...)
	if err := s.kv.Remove(ctx, keys...); err != nil {
		return fmt.Errorf("clearing registration record: %w", err)
	}
	return nil
}

// importLegacy folds the old three-key layout into a Record.
//
// Only a complete legacy registration (device id plus registered flag) is
// written back under RecordKey. Partial data comes back unregistered so
// the caller purges it.
func (s *Store) importLegacy(ctx context.Context) (Record, bool, error) {
	deviceID, hasID, err := s.kv.Get(ctx, legacyDeviceIDKey)
	if err != nil {
		return Record{}, false, fmt.Errorf("reading legacy device id: %w", err)
	}
	platformID, hasPlatform, err := s.kv.Get(ctx, legacyPlatformIdentifierKey)
	if err != nil {
		return Record{}, false, fmt.Errorf("reading legacy platform identifier: %w", err)
	}
	flag, hasFlag, err := s.kv.Get(ctx, legacyRegisteredKey)
	if err != nil {
		return Record{}, false, fmt.Errorf("reading legacy registration flag: %w", err)
	}
	_, hasStale, err := s.kv.Get(ctx, legacyStaleRegisteredKey)
	if err != nil {
		return Record{}, false, fmt.Errorf("reading legacy registration flag: %w", err)
	}

	if !hasID && !hasPlatform && !hasFlag && !hasStale {
		return Record{}, false, nil
	}

	registered, _ := strconv.ParseBool(flag) //nolint:errcheck // Unparseable means not registered
	rec := Record{
		DeviceID:           deviceID,
		PlatformIdentifier: platformID,
		Registered:         hasFlag && registered && deviceID != "",
	}
	if !rec.Registered {
		return rec, true, nil
	}

	if err := s.Save(ctx, rec); err != nil {
		return Record{}, false, err
	}
	if err := s.kv.Remove(ctx, legacyKeys...); err != nil {
		return Record{}, false, fmt.Errorf("removing legacy keys: %w", err)
	}
	return rec, true, nil
}
