//go:build darwin

package capture

import (
	"fmt"
	"time"

	"github.com/vcamlab/camswitch/internal/media"
)

// V4L2 is Linux-only. The darwin backend exists so the binary builds for
// development on macOS; every operation fails.
type v4l2Backend struct {
	path string
}

// NewV4L2Backend creates a capture backend for the given device node.
func NewV4L2Backend(devicePath string) Backend {
	return &v4l2Backend{path: devicePath}
}

func (b *v4l2Backend) Open() error {
	return fmt.Errorf("v4l2 capture is not available on this platform: %w", media.ErrDeviceNotFound)
}

func (b *v4l2Backend) Formats() ([]media.FrameFormat, error) {
	return nil, fmt.Errorf("v4l2 capture is not available on this platform")
}

func (b *v4l2Backend) Negotiate(want media.FrameFormat) (media.FrameFormat, error) {
	return media.FrameFormat{}, fmt.Errorf("v4l2 capture is not available on this platform")
}

func (b *v4l2Backend) Start() error {
	return fmt.Errorf("v4l2 capture is not available on this platform")
}

func (b *v4l2Backend) ReadFrame(timeout time.Duration) ([]byte, error) {
	return nil, fmt.Errorf("v4l2 capture is not available on this platform")
}

func (b *v4l2Backend) Stop() error { return nil }

func (b *v4l2Backend) Close() error { return nil }
