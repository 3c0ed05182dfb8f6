package influxdb

import "errors"

var (
	// ErrNotConnected is returned when the client is closed.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed is returned when the initial ping fails.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled is returned by Connect when InfluxDB is disabled.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
