package media

import "errors"

// Sentinel errors for the routing pipeline. Callers classify failures
// with errors.Is and wrap these with device or source context.
var (
	// ErrDeviceNotFound indicates a configured device path does not exist.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrPermissionDenied indicates the device node exists but cannot be
	// opened with the required access mode.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNegotiationFailed indicates no acceptable frame format could be
	// agreed on with a device.
	ErrNegotiationFailed = errors.New("format negotiation failed")

	// ErrDeviceDisconnected indicates an opened device stopped delivering
	// frames or its node disappeared.
	ErrDeviceDisconnected = errors.New("device disconnected")

	// ErrSwitchTimeout indicates the target source did not deliver a
	// conforming frame within the switch window.
	ErrSwitchTimeout = errors.New("switch timed out")

	// ErrBusy indicates a switch is already in progress. Concurrent
	// switch requests are rejected, never queued.
	ErrBusy = errors.New("switch already in progress")

	// ErrOutputWrite indicates a write to the virtual output device
	// failed. Output failures end the session.
	ErrOutputWrite = errors.New("output write failed")

	// ErrFormatMismatch indicates a frame does not conform to the frozen
	// session format.
	ErrFormatMismatch = errors.New("frame format mismatch")
)
