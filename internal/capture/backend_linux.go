//go:build linux

package capture

import (
	"fmt"
	"os"
	"time"

	"github.com/blackjack/webcam"

	"github.com/vcamlab/camswitch/internal/media"
)

// bufferCount is the number of mmap buffers requested from the driver.
// Two is enough for a single-reader loop and keeps latency low.
const bufferCount = 2

// v4l2Backend captures frames from a V4L2 device via memory-mapped
// streaming I/O.
type v4l2Backend struct {
	path string
	cam  *webcam.Webcam
}

// NewV4L2Backend creates a capture backend for the given device node.
func NewV4L2Backend(devicePath string) Backend {
	return &v4l2Backend{path: devicePath}
}

func (b *v4l2Backend) Open() error {
	cam, err := webcam.Open(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", b.path, media.ErrDeviceNotFound)
		}
		if os.IsPermission(err) {
			return fmt.Errorf("%s: %w", b.path, media.ErrPermissionDenied)
		}
		return fmt.Errorf("failed to open %s: %w", b.path, err)
	}
	b.cam = cam
	return nil
}

func (b *v4l2Backend) Formats() ([]media.FrameFormat, error) {
	if b.cam == nil {
		return nil, fmt.Errorf("%s not open", b.path)
	}

	var formats []media.FrameFormat
	for pixelFormat := range b.cam.GetSupportedFormats() {
		for _, size := range b.cam.GetSupportedFrameSizes(pixelFormat) {
			width, height := size.MaxWidth, size.MaxHeight
			for _, rate := range b.cam.GetSupportedFramerates(pixelFormat, width, height) {
				if rate.MaxNumerator == 0 {
					continue
				}
				formats = append(formats, media.FrameFormat{
					Width:       width,
					Height:      height,
					PixelFormat: media.PixelFormat(pixelFormat),
					FPS:         rate.MaxDenominator / rate.MaxNumerator,
				})
			}
		}
	}
	return formats, nil
}

func (b *v4l2Backend) Negotiate(want media.FrameFormat) (media.FrameFormat, error) {
	if b.cam == nil {
		return media.FrameFormat{}, fmt.Errorf("%s not open", b.path)
	}

	gotFormat, gotWidth, gotHeight, err := b.cam.SetImageFormat(
		webcam.PixelFormat(want.PixelFormat), want.Width, want.Height)
	if err != nil {
		return media.FrameFormat{}, fmt.Errorf("failed to set format on %s: %w", b.path, media.ErrNegotiationFailed)
	}

	// Frame rate is best effort. Drivers that reject VIDIOC_S_PARM run
	// at their native rate, which the read loop tolerates.
	if err := b.cam.SetFramerate(float32(want.FPS)); err != nil {
		return media.FrameFormat{}, fmt.Errorf("failed to set framerate on %s: %w", b.path, media.ErrNegotiationFailed)
	}

	if err := b.cam.SetBufferCount(bufferCount); err != nil {
		return media.FrameFormat{}, fmt.Errorf("failed to set buffer count on %s: %w", b.path, err)
	}

	return media.FrameFormat{
		Width:       gotWidth,
		Height:      gotHeight,
		PixelFormat: media.PixelFormat(gotFormat),
		FPS:         want.FPS,
	}, nil
}

func (b *v4l2Backend) Start() error {
	if b.cam == nil {
		return fmt.Errorf("%s not open", b.path)
	}
	if err := b.cam.StartStreaming(); err != nil {
		return fmt.Errorf("failed to start streaming on %s: %w", b.path, err)
	}
	return nil
}

func (b *v4l2Backend) ReadFrame(timeout time.Duration) ([]byte, error) {
	seconds := uint32(timeout / time.Second)
	if seconds == 0 {
		seconds = 1
	}

	err := b.cam.WaitForFrame(seconds)
	switch err.(type) {
	case nil:
	case *webcam.Timeout:
		return nil, errFrameTimeout
	default:
		return nil, fmt.Errorf("frame wait on %s failed: %w", b.path, err)
	}

	frame, err := b.cam.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("frame read on %s failed: %w", b.path, err)
	}
	if len(frame) == 0 {
		return nil, errFrameTimeout
	}

	// The driver recycles the mmap buffer after the next dequeue, so hand
	// out a copy.
	data := make([]byte, len(frame))
	copy(data, frame)
	return data, nil
}

func (b *v4l2Backend) Stop() error {
	if b.cam == nil {
		return nil
	}
	return b.cam.StopStreaming()
}

func (b *v4l2Backend) Close() error {
	if b.cam == nil {
		return nil
	}
	err := b.cam.Close()
	b.cam = nil
	return err
}
