package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned by Heartbeat when no device is registered
	// for a token. Remove reports absence as found=false instead.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when promoting a token that is already a device.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidKind is returned when a kind value is not recognised.
	ErrInvalidKind = errors.New("device: invalid kind")

	// ErrTokenNotPending is returned when promoting a token that is not a
	// valid pending token.
	ErrTokenNotPending = errors.New("device: token not pending")
)
