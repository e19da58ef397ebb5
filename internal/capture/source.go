// Package capture owns one physical camera device per Source: opening,
// format negotiation, the frame read loop, and fanout to subscriber taps.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vcamlab/camswitch/internal/events"
	"github.com/vcamlab/camswitch/internal/logging"
	"github.com/vcamlab/camswitch/internal/media"
)

// State is the lifecycle state of a Source.
type State int32

// Source lifecycle states. Transitions only move forward except through
// Error, which a supervisor may resolve by closing and reopening.
const (
	StateUnopened State = iota
	StateNegotiating
	StateRunning
	StateError
	StateClosed
)

// String returns the lowercase state name used in events and the API.
func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateNegotiating:
		return "negotiating"
	case StateRunning:
		return "running"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// errFrameTimeout marks a frame wait that expired without data. The read
// loop tolerates a bounded streak of these before declaring the device dead.
var errFrameTimeout = errors.New("frame wait timed out")

// timeoutStreakLimit is how many consecutive frame timeouts the read loop
// tolerates before treating the device as disconnected.
const timeoutStreakLimit = 3

// Backend abstracts the platform capture implementation so the Source
// lifecycle and fanout can be tested without hardware.
type Backend interface {
	// Open opens the device node.
	Open() error

	// Formats enumerates the frame formats the device supports.
	Formats() ([]media.FrameFormat, error)

	// Negotiate configures the device for the wanted format and returns
	// the format actually applied.
	Negotiate(want media.FrameFormat) (media.FrameFormat, error)

	// Start begins streaming.
	Start() error

	// ReadFrame blocks for the next frame up to timeout. Returns
	// errFrameTimeout (possibly wrapped) when no frame arrived in time.
	ReadFrame(timeout time.Duration) ([]byte, error)

	// Stop halts streaming. The device stays open for renegotiation.
	Stop() error

	// Close releases the device node.
	Close() error
}

// Source manages one capture device and fans its frames out to taps.
type Source struct {
	ID         string
	DevicePath string

	backend Backend
	bus     *events.Bus
	logger  *slog.Logger

	mu      sync.Mutex
	state   State
	format  media.FrameFormat
	taps    []*Tap
	lastErr error
	cancel  context.CancelFunc
	done    chan struct{}

	seq    atomic.Uint64
	frames atomic.Uint64
}

// NewSource creates a Source for the given device. The bus may be nil in
// tests; health events are then skipped.
func NewSource(id, devicePath string, backend Backend, bus *events.Bus) *Source {
	return &Source{
		ID:         id,
		DevicePath: devicePath,
		backend:    backend,
		bus:        bus,
		logger:     logging.GetLogger("capture").With("source", id, "device", devicePath),
	}
}

// Open opens the underlying device.
func (s *Source) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUnopened {
		return fmt.Errorf("source %s: cannot open in state %s", s.ID, s.state)
	}
	if err := s.backend.Open(); err != nil {
		s.toErrorLocked(err)
		return err
	}
	s.setStateLocked(StateNegotiating, nil)
	return nil
}

// Formats enumerates the device's supported frame formats.
func (s *Source) Formats() ([]media.FrameFormat, error) {
	return s.backend.Formats()
}

// Negotiate configures the device for the wanted format. The applied
// format must match exactly; a near miss fails negotiation because the
// output sink rejects nonconforming frames.
func (s *Source) Negotiate(want media.FrameFormat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateNegotiating {
		return fmt.Errorf("source %s: cannot negotiate in state %s", s.ID, s.state)
	}
	got, err := s.backend.Negotiate(want)
	if err != nil {
		s.toErrorLocked(err)
		return err
	}
	if !got.Equal(want) {
		err := fmt.Errorf("source %s: device applied %s instead of %s: %w", s.ID, got, want, media.ErrNegotiationFailed)
		s.toErrorLocked(err)
		return err
	}
	s.format = got
	s.logger.Info("Format negotiated", "format", got.String())
	return nil
}

// Start begins streaming and launches the read loop.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRunning {
		return nil
	}
	if s.state != StateNegotiating {
		return fmt.Errorf("source %s: cannot start in state %s", s.ID, s.state)
	}
	if s.format.IsZero() {
		return fmt.Errorf("source %s: no format negotiated", s.ID)
	}
	if err := s.backend.Start(); err != nil {
		s.toErrorLocked(err)
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.setStateLocked(StateRunning, nil)

	go s.readLoop(loopCtx)
	return nil
}

// readLoop pulls frames from the backend until cancelled or the device
// fails, stamping each with a monotonic sequence and delivering to taps.
func (s *Source) readLoop(ctx context.Context) {
	defer close(s.done)

	timeout := 2 * s.format.FrameInterval()
	if timeout < time.Second {
		timeout = time.Second
	}

	timeouts := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		data, err := s.backend.ReadFrame(timeout)
		if err != nil {
			if errors.Is(err, errFrameTimeout) {
				timeouts++
				if timeouts < timeoutStreakLimit {
					s.logger.Debug("Frame wait timed out", "streak", timeouts)
					continue
				}
				err = fmt.Errorf("source %s: no frames for %s: %w", s.ID, time.Duration(timeouts)*timeout, media.ErrDeviceDisconnected)
			} else {
				err = fmt.Errorf("source %s: read failed: %w (%w)", s.ID, media.ErrDeviceDisconnected, err)
			}

			if ctx.Err() != nil {
				return
			}
			s.mu.Lock()
			s.toErrorLocked(err)
			s.mu.Unlock()
			s.logger.Error("Source failed", "error", err)
			return
		}
		timeouts = 0

		frame := media.Frame{
			Data:      data,
			Format:    s.format,
			Sequence:  s.seq.Add(1),
			Timestamp: time.Now(),
		}
		s.frames.Add(1)

		s.mu.Lock()
		taps := slices.Clone(s.taps)
		s.mu.Unlock()
		for _, tap := range taps {
			tap.deliver(frame)
		}
	}
}

// Subscribe registers a new single-slot tap on the frame stream.
func (s *Source) Subscribe() *Tap {
	tap := newTap()
	s.mu.Lock()
	s.taps = append(s.taps, tap)
	s.mu.Unlock()
	return tap
}

// Unsubscribe removes a tap. Frames already in its slot remain readable.
func (s *Source) Unsubscribe(tap *Tap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.taps {
		if t == tap {
			s.taps = append(s.taps[:i], s.taps[i+1:]...)
			return
		}
	}
}

// Stop halts the read loop and streaming. The device stays open.
func (s *Source) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil
	}
	err := s.backend.Stop()
	if s.state == StateRunning {
		s.setStateLocked(StateNegotiating, nil)
	}
	return err
}

// Close stops the source and releases the device.
func (s *Source) Close() error {
	if err := s.Stop(); err != nil {
		s.logger.Debug("Stop during close failed", "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil
	}
	err := s.backend.Close()
	s.setStateLocked(StateClosed, nil)
	return err
}

// State returns the current lifecycle state.
func (s *Source) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Format returns the negotiated frame format.
func (s *Source) Format() media.FrameFormat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

// Err returns the error that moved the source into StateError, if any.
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// FrameCount returns the number of frames read since Start.
func (s *Source) FrameCount() uint64 {
	return s.frames.Load()
}

func (s *Source) toErrorLocked(err error) {
	s.lastErr = err
	s.setStateLocked(StateError, err)
}

// setStateLocked transitions state and publishes a health event. Callers
// hold s.mu.
func (s *Source) setStateLocked(state State, err error) {
	if s.state == state {
		return
	}
	s.state = state

	if s.bus == nil {
		return
	}
	event := events.SourceHealthEvent{
		Source:     s.ID,
		DevicePath: s.DevicePath,
		State:      state.String(),
		Timestamp:  time.Now().Format(time.RFC3339),
	}
	if err != nil {
		event.Error = err.Error()
	}
	s.bus.Publish(event)
}
