package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrMissingPlatformIdentifier) {
//	    // the OS did not supply an installation identifier
//	}
var (
	// ErrMissingPlatformIdentifier is returned by RegisterDevice when the
	// platform provider has no identifier. The backend is not called.
	ErrMissingPlatformIdentifier = errors.New("device: platform identifier unavailable")

	// ErrInvalidDeps is returned by NewManager when a required
	// collaborator is nil.
	ErrInvalidDeps = errors.New("device: invalid manager dependencies")

	// ErrEmptyOwner is returned by FetchUserDevices for an empty user id.
	ErrEmptyOwner = errors.New("device: owner user id is required")
)
