package influxdb

import "errors"

var (
	// ErrNotConnected indicates the client was closed or never connected.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed indicates the server did not answer the initial ping.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled indicates the reading mirror is switched off in configuration.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
