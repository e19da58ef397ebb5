// Package devices handles V4L2 device discovery, validation, and hotplug
// monitoring.
package devices

import (
	"context"

	"github.com/vcamlab/camswitch/internal/media"
)

// DeviceInfo represents information about a V4L2 device.
type DeviceInfo struct {
	DevicePath string
	DeviceName string
	Driver     string
	Capture    bool
	Output     bool
	Caps       uint32
}

// Detector provides platform-specific device detection.
type Detector interface {
	// List returns all currently available V4L2 devices.
	List() ([]DeviceInfo, error)

	// Probe returns the frame formats a capture device supports.
	Probe(devicePath string) ([]media.FrameFormat, error)

	// Watch monitors for device hotplug and publishes discovery events
	// until ctx is cancelled.
	Watch(ctx context.Context, publish func(action string, device DeviceInfo)) error
}

// NewDetector creates a platform-specific device detector.
func NewDetector() Detector {
	return newDetector()
}
