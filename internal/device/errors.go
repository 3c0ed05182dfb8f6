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
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrScenarioNotFound is returned when no usable scenario matches a lookup.
	ErrScenarioNotFound = errors.New("device: scenario not found")

	// ErrNoUpdatesURL is returned when the device list carries no push feed address.
	ErrNoUpdatesURL = errors.New("device: no push feed address")

	// ErrMalformedPush is returned when a push frame cannot be interpreted.
	ErrMalformedPush = errors.New("device: malformed push message")

	// ErrRegistryClosed is returned after Close.
	ErrRegistryClosed = errors.New("device: registry closed")
)
