package cloud

import (
	"errors"
	"fmt"
)

// Sentinel errors for cloud control plane operations.
//
// These errors can be checked using errors.Is() for specific handling:
//
//	if errors.Is(err, cloud.ErrRemoteRejected) {
//	    // the backend refused the request; do not retry
//	}
var (
	// ErrRemoteRejected indicates the backend returned a non-success status.
	ErrRemoteRejected = errors.New("cloud: remote rejected")

	// ErrRequestFailed indicates the request never produced a response.
	ErrRequestFailed = errors.New("cloud: request failed")

	// ErrNoCredentials indicates the token provider had no token for a service.
	ErrNoCredentials = errors.New("cloud: no credentials")

	// ErrNoNetworkInfo indicates the backend knows no local address for a device.
	ErrNoNetworkInfo = errors.New("cloud: no local network info")

	// ErrBadResponse indicates a response body could not be decoded.
	ErrBadResponse = errors.New("cloud: bad response")
)

// StatusError describes a rejected request.
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("cloud: %s rejected with status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("cloud: %s rejected with status %d: %s", e.Op, e.StatusCode, e.Message)
}

// Unwrap lets errors.Is match ErrRemoteRejected.
func (e *StatusError) Unwrap() error {
	return ErrRemoteRejected
}
