package identity

import "errors"

var (
	// ErrCorruptRecord is returned when the stored record cannot be decoded.
	ErrCorruptRecord = errors.New("identity: corrupt registration record")

	// ErrUnknownBackend is returned by Open for an unrecognised backend name.
	ErrUnknownBackend = errors.New("identity: unknown backend")
)
