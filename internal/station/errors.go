package station

import "errors"

// Domain errors for the station package.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrLocalFailed is returned when a local-only command fails and there
	// is no cloud form to fall back to.
	ErrLocalFailed = errors.New("station: local command failed")

	// ErrCommandRejected is returned when the speaker answers a local
	// command with a non-success status.
	ErrCommandRejected = errors.New("station: command rejected by speaker")

	// ErrNotSpeaker is returned when a station is requested for a device
	// that is not a smart speaker.
	ErrNotSpeaker = errors.New("station: device is not a speaker")

	// ErrUnknownCommand is returned by Execute for an unrecognised command name.
	ErrUnknownCommand = errors.New("station: unknown command")

	// ErrInvalidArgument is returned by Execute when a required argument is missing.
	ErrInvalidArgument = errors.New("station: invalid argument")

	// ErrClosed is returned after the station or manager has been closed.
	ErrClosed = errors.New("station: closed")
)
