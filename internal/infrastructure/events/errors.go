package events

import "errors"

// Sentinel errors for event sink operations.
//
// These errors can be checked using errors.Is() for specific handling:
//
//	if errors.Is(err, events.ErrDisabled) {
//	    // Telemetry is off; continue without it
//	}
var (
	// ErrNotConnected indicates the client is not connected to InfluxDB.
	ErrNotConnected = errors.New("events: not connected")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("events: connection failed")

	// ErrDisabled indicates event telemetry is disabled in config.
	ErrDisabled = errors.New("events: disabled in configuration")
)
