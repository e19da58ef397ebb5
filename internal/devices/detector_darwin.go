//go:build darwin

package devices

import (
	"context"
	"fmt"
	"log"

	"github.com/vcamlab/camswitch/internal/media"
)

// Mock device constants for testing on macOS
var mockDevices = []DeviceInfo{
	{
		DevicePath: "/dev/video0",
		DeviceName: "Mock USB Webcam HD",
		Driver:     "uvcvideo",
		Capture:    true,
		Caps:       0x04200001,
	},
	{
		DevicePath: "/dev/video2",
		DeviceName: "Mock HDMI Capture Device",
		Driver:     "uvcvideo",
		Capture:    true,
		Caps:       0x04200001,
	},
	{
		DevicePath: "/dev/video10",
		DeviceName: "Mock Virtual Camera",
		Driver:     "v4l2 loopback",
		Capture:    true,
		Output:     true,
		Caps:       0x04200003,
	},
}

var mockFormats = map[string][]media.FrameFormat{
	"/dev/video0": {
		{Width: 640, Height: 480, PixelFormat: media.PixelFormatYUYV, FPS: 30},
		{Width: 1280, Height: 720, PixelFormat: media.PixelFormatYUYV, FPS: 30},
		{Width: 1280, Height: 720, PixelFormat: media.PixelFormatMJPEG, FPS: 60},
	},
	"/dev/video2": {
		{Width: 1280, Height: 720, PixelFormat: media.PixelFormatYUYV, FPS: 30},
		{Width: 1920, Height: 1080, PixelFormat: media.PixelFormatYUYV, FPS: 30},
		{Width: 1920, Height: 1080, PixelFormat: media.PixelFormatNV12, FPS: 60},
	},
}

type darwinDetector struct{}

func newDetector() Detector {
	log.Println("INFO: Using mock V4L2 devices for testing on macOS")
	return &darwinDetector{}
}

// List returns mock devices for testing on macOS
func (d *darwinDetector) List() ([]DeviceInfo, error) {
	return mockDevices, nil
}

// Probe returns mock formats for the device
func (d *darwinDetector) Probe(devicePath string) ([]media.FrameFormat, error) {
	formats, exists := mockFormats[devicePath]
	if !exists {
		return nil, fmt.Errorf("%s: %w", devicePath, media.ErrDeviceNotFound)
	}
	return formats, nil
}

// Watch is a no-op on macOS
func (d *darwinDetector) Watch(ctx context.Context, publish func(action string, device DeviceInfo)) error {
	log.Println("Device monitoring not available on macOS - V4L2 is Linux-only")
	<-ctx.Done()
	return nil
}
