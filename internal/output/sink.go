// Package output writes routed frames to the virtual camera device. The
// sink's format is frozen when it opens; every frame must conform.
package output

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/vcamlab/camswitch/internal/logging"
	"github.com/vcamlab/camswitch/internal/media"
)

// Backend abstracts the platform output implementation.
type Backend interface {
	// Open opens the device and configures it for the given format.
	Open(format media.FrameFormat) error

	// Write pushes one frame of raw pixel data to the device.
	Write(data []byte) error

	// Close releases the device.
	Close() error
}

// Sink is the single consumer-facing output. Exactly one writer (the
// route worker) calls Write.
type Sink struct {
	DevicePath string

	backend Backend
	logger  *slog.Logger

	mu     sync.Mutex
	open   bool
	format media.FrameFormat

	writes    atomic.Uint64
	writeErrs atomic.Uint64
}

// NewSink creates a sink for the given virtual output device.
func NewSink(devicePath string, backend Backend) *Sink {
	return &Sink{
		DevicePath: devicePath,
		backend:    backend,
		logger:     logging.GetLogger("output").With("device", devicePath),
	}
}

// Open opens the device with the session format. The format is frozen
// until Close; nonconforming frames are rejected, never converted.
func (s *Sink) Open(format media.FrameFormat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open {
		return fmt.Errorf("output %s already open", s.DevicePath)
	}
	if format.IsZero() {
		return fmt.Errorf("output %s: no session format", s.DevicePath)
	}
	if err := s.backend.Open(format); err != nil {
		return err
	}
	s.format = format
	s.open = true
	s.logger.Info("Output opened", "format", format.String())
	return nil
}

// Write pushes one frame to the device. The frame's format must equal the
// frozen session format exactly.
func (s *Sink) Write(frame media.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return fmt.Errorf("output %s not open", s.DevicePath)
	}
	if !frame.Format.Equal(s.format) {
		return fmt.Errorf("output %s: frame is %s, session is %s: %w",
			s.DevicePath, frame.Format, s.format, media.ErrFormatMismatch)
	}
	if err := s.backend.Write(frame.Data); err != nil {
		s.writeErrs.Add(1)
		return fmt.Errorf("output %s: %w (%w)", s.DevicePath, media.ErrOutputWrite, err)
	}
	s.writes.Add(1)
	return nil
}

// Format returns the frozen session format.
func (s *Sink) Format() media.FrameFormat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

// Stats returns total successful writes and write errors.
func (s *Sink) Stats() (writes, errs uint64) {
	return s.writes.Load(), s.writeErrs.Load()
}

// Close releases the device. The sink may be reopened with a new format.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return nil
	}
	s.open = false
	s.format = media.FrameFormat{}
	return s.backend.Close()
}
