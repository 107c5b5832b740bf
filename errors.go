package leapkit

import "errors"

var (
	// ErrBridgeUnavailable means the bridge handle never resolved.
	ErrBridgeUnavailable = errors.New("bridge unavailable")
	// ErrDeviceCommunication means the bridge was reachable but the read or
	// write for the device failed.
	ErrDeviceCommunication = errors.New("device communication error")
	// ErrMalformedNotification is never surfaced to HomeKit, such events are
	// dropped as non-matching.
	ErrMalformedNotification = errors.New("malformed notification")
	ErrInvalidPosition       = errors.New("invalid position value")
)
