package transport

import (
	"errors"
	"fmt"
)

// Domain errors for the transport package.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidOptions is returned by New when a required hook is missing.
	ErrInvalidOptions = errors.New("transport: invalid options")

	// ErrNoAddress is returned when the resolver has no address to offer.
	// Resolvers wrap it to signal that reconnecting is pointless until the
	// owner explicitly calls Connect again.
	ErrNoAddress = errors.New("transport: no address available")

	// ErrResolveFailed wraps any other resolver error. Background
	// reconnection keeps retrying after it.
	ErrResolveFailed = errors.New("transport: address resolution failed")

	// ErrConnectionFailed is returned when a connection attempt fails.
	ErrConnectionFailed = errors.New("transport: connection failed")

	// ErrConnectionClosed is returned to pending requests when the
	// underlying connection closes before a matching message arrives.
	ErrConnectionClosed = errors.New("transport: connection closed")

	// ErrNotConnected is returned when a write is attempted without a session.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrSendFailed is returned when writing a frame fails.
	ErrSendFailed = errors.New("transport: send failed")

	// ErrEncodingFailed is returned when the Encode hook rejects a payload.
	ErrEncodingFailed = errors.New("transport: encoding failed")

	// ErrTimeout is returned when Connect or Send exceeds its deadline.
	ErrTimeout = errors.New("transport: operation timed out")

	// ErrClosed is returned after Close has been called.
	ErrClosed = errors.New("transport: closed")
)

// CloseError reports a session that ended, or never opened, with a
// WebSocket close code. Dial failures are mapped onto close codes so that
// the terminal-code policy applies uniformly.
type CloseError struct {
	Code int
	Err  error
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("transport: closed with code %d: %v", e.Code, e.Err)
}

// Unwrap exposes both ErrConnectionFailed and the underlying cause.
func (e *CloseError) Unwrap() []error {
	return []error{ErrConnectionFailed, e.Err}
}
