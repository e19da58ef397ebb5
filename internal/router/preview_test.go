package router

import (
	"bytes"
	"context"
	"image/jpeg"
	"testing"
	"time"

	"github.com/vcamlab/camswitch/internal/media"
)

func TestPreview_SnapshotsBothSourcesRegardlessOfRouting(t *testing.T) {
	rig := newRig(t)
	rig.feed(t, "a")
	rig.feed(t, "b")

	preview := NewPreview(rig.router)
	preview.Start(context.Background())
	defer preview.Stop()
	for id, src := range rig.sources {
		preview.Attach(id, src)
	}

	if err := rig.router.Select("a"); err != nil {
		t.Fatalf("Select(a) failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		_, okA := preview.Snapshot("a")
		_, okB := preview.Snapshot("b")
		if okA && okB {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("Previews incomplete: a=%v b=%v", okA, okB)
		case <-time.After(5 * time.Millisecond):
		}
	}

	if preview.Active() != "a" {
		t.Errorf("Active() = %q, want a", preview.Active())
	}
}

func TestPreview_SnapshotMissingSource(t *testing.T) {
	rig := newRig(t)
	preview := NewPreview(rig.router)

	if _, ok := preview.Snapshot("a"); ok {
		t.Error("Expected no snapshot before any frame")
	}
	if _, err := preview.JPEG("a"); err == nil {
		t.Error("Expected JPEG error before any frame")
	}
}

func TestEncodeJPEG_YUYV(t *testing.T) {
	format := media.FrameFormat{Width: 4, Height: 2, PixelFormat: media.PixelFormatYUYV, FPS: 30}
	frame := media.Frame{
		Data:   bytes.Repeat([]byte{0x80}, format.FrameSize()),
		Format: format,
	}

	data, err := EncodeJPEG(frame)
	if err != nil {
		t.Fatalf("EncodeJPEG() failed: %v", err)
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Result is not decodable JPEG: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != 4 || bounds.Dy() != 2 {
		t.Errorf("Decoded size %dx%d, want 4x2", bounds.Dx(), bounds.Dy())
	}
}

func TestEncodeJPEG_NV12(t *testing.T) {
	format := media.FrameFormat{Width: 4, Height: 4, PixelFormat: media.PixelFormatNV12, FPS: 30}
	frame := media.Frame{
		Data:   bytes.Repeat([]byte{0x80}, format.FrameSize()),
		Format: format,
	}

	if _, err := EncodeJPEG(frame); err != nil {
		t.Fatalf("EncodeJPEG() failed: %v", err)
	}
}

func TestEncodeJPEG_MJPEGPassesThrough(t *testing.T) {
	payload := []byte{0xff, 0xd8, 0xff, 0xd9}
	frame := media.Frame{
		Data:   payload,
		Format: media.FrameFormat{Width: 1280, Height: 720, PixelFormat: media.PixelFormatMJPEG, FPS: 30},
	}

	data, err := EncodeJPEG(frame)
	if err != nil {
		t.Fatalf("EncodeJPEG() failed: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Error("MJPEG frame should pass through unchanged")
	}
}

func TestEncodeJPEG_ShortFrame(t *testing.T) {
	frame := media.Frame{
		Data:   []byte{1, 2, 3},
		Format: media.DefaultFormat,
	}
	if _, err := EncodeJPEG(frame); err == nil {
		t.Error("Expected error for truncated frame")
	}
}
