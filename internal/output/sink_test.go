package output

import (
	"errors"
	"testing"

	"github.com/vcamlab/camswitch/internal/media"
)

type fakeBackend struct {
	openFormat media.FrameFormat
	openErr    error
	writeErr   error
	writes     [][]byte
	closed     bool
}

func (f *fakeBackend) Open(format media.FrameFormat) error {
	if f.openErr != nil {
		return f.openErr
	}
	f.openFormat = format
	return nil
}

func (f *fakeBackend) Write(data []byte) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, data)
	return nil
}

func (f *fakeBackend) Close() error {
	f.closed = true
	return nil
}

func conformingFrame() media.Frame {
	return media.Frame{
		Data:   make([]byte, media.DefaultFormat.FrameSize()),
		Format: media.DefaultFormat,
	}
}

func TestSink_WriteConformingFrame(t *testing.T) {
	backend := &fakeBackend{}
	sink := NewSink("/dev/video10", backend)

	if err := sink.Open(media.DefaultFormat); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := sink.Write(conformingFrame()); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	if len(backend.writes) != 1 {
		t.Errorf("Expected 1 backend write, got %d", len(backend.writes))
	}
	writes, errs := sink.Stats()
	if writes != 1 || errs != 0 {
		t.Errorf("Stats() = %d writes, %d errors", writes, errs)
	}
}

func TestSink_RejectsNonconformingFrame(t *testing.T) {
	sink := NewSink("/dev/video10", &fakeBackend{})
	if err := sink.Open(media.DefaultFormat); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	frame := media.Frame{
		Data:   make([]byte, 100),
		Format: media.FrameFormat{Width: 640, Height: 480, PixelFormat: media.PixelFormatYUYV, FPS: 30},
	}
	err := sink.Write(frame)
	if !errors.Is(err, media.ErrFormatMismatch) {
		t.Errorf("Expected ErrFormatMismatch, got: %v", err)
	}
}

func TestSink_WriteBeforeOpenFails(t *testing.T) {
	sink := NewSink("/dev/video10", &fakeBackend{})
	if err := sink.Write(conformingFrame()); err == nil {
		t.Error("Expected error writing to unopened sink")
	}
}

func TestSink_BackendWriteFailure(t *testing.T) {
	backend := &fakeBackend{writeErr: errors.New("no such device")}
	sink := NewSink("/dev/video10", backend)
	if err := sink.Open(media.DefaultFormat); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	err := sink.Write(conformingFrame())
	if !errors.Is(err, media.ErrOutputWrite) {
		t.Errorf("Expected ErrOutputWrite, got: %v", err)
	}
	_, errs := sink.Stats()
	if errs != 1 {
		t.Errorf("Expected 1 write error, got %d", errs)
	}
}

func TestSink_FormatFrozenUntilClose(t *testing.T) {
	sink := NewSink("/dev/video10", &fakeBackend{})
	if err := sink.Open(media.DefaultFormat); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	if err := sink.Open(media.DefaultFormat); err == nil {
		t.Error("Expected error reopening an open sink")
	}
	if !sink.Format().Equal(media.DefaultFormat) {
		t.Errorf("Format() = %s, want %s", sink.Format(), media.DefaultFormat)
	}

	if err := sink.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if !sink.Format().IsZero() {
		t.Error("Format should reset on close")
	}
	if err := sink.Open(media.DefaultFormat); err != nil {
		t.Errorf("Reopen after close failed: %v", err)
	}
}

func TestSink_OpenRequiresFormat(t *testing.T) {
	sink := NewSink("/dev/video10", &fakeBackend{})
	if err := sink.Open(media.FrameFormat{}); err == nil {
		t.Error("Expected error opening with zero format")
	}
}
