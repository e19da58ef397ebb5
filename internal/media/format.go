// Package media defines the frame and format types shared by the capture,
// routing, and output layers.
package media

import (
	"fmt"
	"time"
)

// PixelFormat is a V4L2 fourcc pixel format code.
type PixelFormat uint32

// Pixel formats the router understands. YUYV is the packed 4:2:2 layout
// every UVC webcam and v4l2loopback build supports.
const (
	PixelFormatYUYV  PixelFormat = 0x56595559 // 'YUYV'
	PixelFormatMJPEG PixelFormat = 0x47504A4D // 'MJPG'
	PixelFormatNV12  PixelFormat = 0x3231564E // 'NV12'
)

// String returns the fourcc as text, e.g. "YUYV".
func (p PixelFormat) String() string {
	b := []byte{byte(p), byte(p >> 8), byte(p >> 16), byte(p >> 24)}
	for _, c := range b {
		if c < ' ' || c > '~' {
			return fmt.Sprintf("0x%08x", uint32(p))
		}
	}
	return string(b)
}

// FrameFormat describes the negotiated frame geometry, pixel layout, and rate.
// Once the output sink is opened with a FrameFormat it is frozen for the session.
type FrameFormat struct {
	Width       uint32      `json:"width" example:"1280" doc:"Frame width in pixels"`
	Height      uint32      `json:"height" example:"720" doc:"Frame height in pixels"`
	PixelFormat PixelFormat `json:"pixel_format" example:"1448695129" doc:"V4L2 fourcc pixel format"`
	FPS         uint32      `json:"fps" example:"30" doc:"Frames per second"`
}

// DefaultFormat is the negotiation fallback: the format the original
// GStreamer pipeline pinned with a capsfilter.
var DefaultFormat = FrameFormat{
	Width:       1280,
	Height:      720,
	PixelFormat: PixelFormatYUYV,
	FPS:         30,
}

// IsZero reports whether the format is unset.
func (f FrameFormat) IsZero() bool {
	return f.Width == 0 && f.Height == 0 && f.PixelFormat == 0 && f.FPS == 0
}

// Equal reports whether two formats match exactly. The output sink only
// accepts frames whose format Equal its session format.
func (f FrameFormat) Equal(other FrameFormat) bool {
	return f == other
}

// FrameInterval returns the nominal time between frames.
func (f FrameFormat) FrameInterval() time.Duration {
	if f.FPS == 0 {
		return 0
	}
	return time.Second / time.Duration(f.FPS)
}

// FrameSize returns the byte size of one packed frame, or 0 for
// compressed formats whose size varies per frame.
func (f FrameFormat) FrameSize() int {
	switch f.PixelFormat {
	case PixelFormatYUYV:
		return int(f.Width) * int(f.Height) * 2
	case PixelFormatNV12:
		return int(f.Width) * int(f.Height) * 3 / 2
	default:
		return 0
	}
}

// String renders the format as "YUYV 1280x720@30".
func (f FrameFormat) String() string {
	return fmt.Sprintf("%s %dx%d@%d", f.PixelFormat, f.Width, f.Height, f.FPS)
}

// Frame is a timestamped buffer of pixel data conforming to a FrameFormat.
// Frames flow through the pipeline transiently; no component retains them
// beyond a single-slot handoff.
type Frame struct {
	Data      []byte
	Format    FrameFormat
	Sequence  uint64
	Timestamp time.Time
}

// Negotiate picks the best format both capability sets support, preferring
// the highest resolution*rate, and falls back to DefaultFormat when the
// sets do not intersect but both sides are otherwise usable. Compressed
// formats without a fixed frame size are never candidates: the loopback
// sink needs sizeimage up front and refuses to open with them.
func Negotiate(a, b []FrameFormat) FrameFormat {
	var best FrameFormat
	var bestScore uint64
	for _, fa := range a {
		if fa.FrameSize() == 0 {
			continue
		}
		for _, fb := range b {
			if !fa.Equal(fb) {
				continue
			}
			score := uint64(fa.Width) * uint64(fa.Height) * uint64(fa.FPS)
			if score > bestScore {
				best = fa
				bestScore = score
			}
		}
	}
	if best.IsZero() {
		return DefaultFormat
	}
	return best
}
