package influxdb

import "errors"

var (
	// ErrConnectionFailed is returned by Connect when the server does not answer its ping.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: telemetry disabled")
)
