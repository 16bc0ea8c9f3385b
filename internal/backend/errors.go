package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is returned by New when the URL or API key is missing.
	ErrInvalidConfig = errors.New("backend: invalid config")

	// ErrNetwork wraps transport failures (DNS, connect, timeout, cancel).
	ErrNetwork = errors.New("backend: network error")

	// ErrUnexpectedStatus is wrapped by StatusError for non-2xx responses.
	ErrUnexpectedStatus = errors.New("backend: unexpected status")

	// ErrInvalidResponse is returned when a response body cannot be decoded
	// or a row is missing required fields.
	ErrInvalidResponse = errors.New("backend: invalid response")

	// ErrNoDeviceReturned is returned when an upsert succeeds but the
	// response holds no row.
	ErrNoDeviceReturned = errors.New("backend: upsert returned no device")
)

// StatusError describes a non-2xx response.
type StatusError struct {
	StatusCode int

	// Body is the start of the response body, for diagnostics.
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Unwrap lets errors.Is match ErrUnexpectedStatus.
func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatus
}
