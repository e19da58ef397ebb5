package media

import (
	"testing"
	"time"
)

func TestPixelFormatString(t *testing.T) {
	tests := []struct {
		format PixelFormat
		want   string
	}{
		{PixelFormatYUYV, "YUYV"},
		{PixelFormatMJPEG, "MJPG"},
		{PixelFormatNV12, "NV12"},
		{PixelFormat(0x01020304), "0x01020304"},
	}

	for _, tt := range tests {
		if got := tt.format.String(); got != tt.want {
			t.Errorf("PixelFormat(%#x).String() = %q, want %q", uint32(tt.format), got, tt.want)
		}
	}
}

func TestFrameInterval(t *testing.T) {
	f := FrameFormat{Width: 1280, Height: 720, PixelFormat: PixelFormatYUYV, FPS: 30}
	want := time.Second / 30
	if got := f.FrameInterval(); got != want {
		t.Errorf("FrameInterval() = %v, want %v", got, want)
	}

	var zero FrameFormat
	if got := zero.FrameInterval(); got != 0 {
		t.Errorf("zero format FrameInterval() = %v, want 0", got)
	}
}

func TestFrameSize(t *testing.T) {
	tests := []struct {
		name   string
		format FrameFormat
		want   int
	}{
		{"yuyv 720p", FrameFormat{Width: 1280, Height: 720, PixelFormat: PixelFormatYUYV}, 1280 * 720 * 2},
		{"nv12 720p", FrameFormat{Width: 1280, Height: 720, PixelFormat: PixelFormatNV12}, 1280 * 720 * 3 / 2},
		{"mjpeg variable", FrameFormat{Width: 1280, Height: 720, PixelFormat: PixelFormatMJPEG}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.format.FrameSize(); got != tt.want {
				t.Errorf("FrameSize() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNegotiate_PicksHighestCommon(t *testing.T) {
	a := []FrameFormat{
		{Width: 640, Height: 480, PixelFormat: PixelFormatYUYV, FPS: 30},
		{Width: 1280, Height: 720, PixelFormat: PixelFormatYUYV, FPS: 30},
		{Width: 1920, Height: 1080, PixelFormat: PixelFormatYUYV, FPS: 30},
	}
	b := []FrameFormat{
		{Width: 640, Height: 480, PixelFormat: PixelFormatYUYV, FPS: 30},
		{Width: 1280, Height: 720, PixelFormat: PixelFormatYUYV, FPS: 30},
	}

	got := Negotiate(a, b)
	want := FrameFormat{Width: 1280, Height: 720, PixelFormat: PixelFormatYUYV, FPS: 30}
	if !got.Equal(want) {
		t.Errorf("Negotiate() = %v, want %v", got, want)
	}
}

func TestNegotiate_SkipsVariableSizeFormats(t *testing.T) {
	// MJPEG at 1080p outscores YUYV at 720p, but has no fixed frame size
	// and therefore cannot be written to the loopback sink.
	shared := []FrameFormat{
		{Width: 1920, Height: 1080, PixelFormat: PixelFormatMJPEG, FPS: 30},
		{Width: 1280, Height: 720, PixelFormat: PixelFormatYUYV, FPS: 30},
	}

	got := Negotiate(shared, shared)
	want := FrameFormat{Width: 1280, Height: 720, PixelFormat: PixelFormatYUYV, FPS: 30}
	if !got.Equal(want) {
		t.Errorf("Negotiate() = %v, want %v", got, want)
	}
}

func TestNegotiate_OnlyVariableSizeFormats(t *testing.T) {
	shared := []FrameFormat{
		{Width: 1920, Height: 1080, PixelFormat: PixelFormatMJPEG, FPS: 30},
	}
	if got := Negotiate(shared, shared); !got.Equal(DefaultFormat) {
		t.Errorf("Negotiate() with MJPEG-only sets = %v, want default %v", got, DefaultFormat)
	}
}

func TestNegotiate_FallsBackToDefault(t *testing.T) {
	a := []FrameFormat{{Width: 1920, Height: 1080, PixelFormat: PixelFormatMJPEG, FPS: 60}}
	b := []FrameFormat{{Width: 640, Height: 480, PixelFormat: PixelFormatYUYV, FPS: 15}}

	got := Negotiate(a, b)
	if !got.Equal(DefaultFormat) {
		t.Errorf("Negotiate() with disjoint sets = %v, want default %v", got, DefaultFormat)
	}
}

func TestNegotiate_EmptySets(t *testing.T) {
	if got := Negotiate(nil, nil); !got.Equal(DefaultFormat) {
		t.Errorf("Negotiate(nil, nil) = %v, want default %v", got, DefaultFormat)
	}
}
