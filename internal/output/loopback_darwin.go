//go:build darwin

package output

import (
	"fmt"

	"github.com/vcamlab/camswitch/internal/media"
)

// v4l2loopback is Linux-only. The darwin backend exists so the binary
// builds for development on macOS; every operation fails.
type loopbackBackend struct {
	path string
}

// NewLoopbackBackend creates an output backend for a v4l2loopback device.
func NewLoopbackBackend(devicePath string) Backend {
	return &loopbackBackend{path: devicePath}
}

func (b *loopbackBackend) Open(format media.FrameFormat) error {
	return fmt.Errorf("v4l2 output is not available on this platform: %w", media.ErrDeviceNotFound)
}

func (b *loopbackBackend) Write(data []byte) error {
	return fmt.Errorf("v4l2 output is not available on this platform")
}

func (b *loopbackBackend) Close() error { return nil }
