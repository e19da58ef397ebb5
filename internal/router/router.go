// Package router enforces single-active-source routing: exactly one capture
// source feeds the output sink, and swaps between sources are atomic.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vcamlab/camswitch/internal/capture"
	"github.com/vcamlab/camswitch/internal/events"
	"github.com/vcamlab/camswitch/internal/logging"
	"github.com/vcamlab/camswitch/internal/media"
	"github.com/vcamlab/camswitch/internal/metrics"
	"github.com/vcamlab/camswitch/internal/output"
)

// State is the routing state machine position.
type State int32

// Routing states. Switching is transient: entered when a swap begins,
// left when the swap commits or rolls back.
const (
	StateIdle State = iota
	StateRouted
	StateSwitching
)

// String returns the lowercase state name used in events and the API.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRouted:
		return "routed"
	case StateSwitching:
		return "switching"
	default:
		return "unknown"
	}
}

// DefaultSwitchTimeout bounds how long a swap waits for the target source
// to deliver its first conforming frame before rolling back.
const DefaultSwitchTimeout = 500 * time.Millisecond

// SourceProvider resolves source identifiers to live capture sources.
// The supervisor swaps sources behind this when it reconnects a device.
type SourceProvider interface {
	Lookup(id string) *capture.Source
}

// StaticSources is a fixed SourceProvider for tests and simple setups.
type StaticSources map[string]*capture.Source

// Lookup returns the source for id, or nil.
func (s StaticSources) Lookup(id string) *capture.Source {
	return s[id]
}

// command is a routing change processed by the route worker. target ""
// with detach set means deactivate.
type command struct {
	target string
	reason string // select, switch, failover
	detach bool   // drop the current tap before attaching target
	result chan error
}

// Router owns the route worker, the only goroutine that writes to the
// output sink. Sources are referenced, not owned; the supervisor manages
// their lifecycle.
type Router struct {
	sink    *output.Sink
	sources SourceProvider
	bus     *events.Bus
	logger  *slog.Logger

	switchTimeout time.Duration

	commands chan command
	inFlight atomic.Bool
	onFatal  func(error)

	mu     sync.Mutex
	state  State
	active string

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Router over the given sink and sources. A zero
// switchTimeout selects DefaultSwitchTimeout. The bus may be nil in tests.
func New(sink *output.Sink, sources SourceProvider, bus *events.Bus, switchTimeout time.Duration) *Router {
	if switchTimeout <= 0 {
		switchTimeout = DefaultSwitchTimeout
	}
	return &Router{
		sink:          sink,
		sources:       sources,
		bus:           bus,
		logger:        logging.GetLogger("router"),
		switchTimeout: switchTimeout,
		commands:      make(chan command),
	}
}

// SetFatalHandler registers the callback invoked when an output write
// fails. Must be called before Start.
func (r *Router) SetFatalHandler(fn func(error)) {
	r.onFatal = fn
}

// Start launches the route worker.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return fmt.Errorf("router already started")
	}
	workerCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.run(workerCtx)
	return nil
}

// Stop halts the route worker. Routing state resets to idle.
func (r *Router) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Select performs first activation from idle.
func (r *Router) Select(sourceID string) error {
	return r.submit(command{target: sourceID, reason: "select"})
}

// Switch swaps routing to the given source. Returns media.ErrBusy when a
// switch is already in flight; concurrent switches are never queued.
func (r *Router) Switch(sourceID string) error {
	return r.submit(command{target: sourceID, reason: "switch"})
}

// Failover drops the current source unconditionally and activates the
// target. Used by the supervisor when the active source has died.
func (r *Router) Failover(sourceID string) error {
	return r.submit(command{target: sourceID, reason: "failover", detach: true})
}

// Deactivate detaches the current source and leaves the output idle with
// the sink still open.
func (r *Router) Deactivate() error {
	return r.submit(command{detach: true})
}

func (r *Router) submit(cmd command) error {
	if !r.inFlight.CompareAndSwap(false, true) {
		if cmd.reason == "switch" {
			metrics.IncSwitch("busy")
		}
		return media.ErrBusy
	}
	defer r.inFlight.Store(false)

	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return fmt.Errorf("router not started")
	}

	cmd.result = make(chan error, 1)
	select {
	case r.commands <- cmd:
	case <-done:
		return fmt.Errorf("router stopped")
	}

	select {
	case err := <-cmd.result:
		return err
	case <-done:
		return fmt.Errorf("router stopped")
	}
}

// run is the route worker. It exclusively holds the active tap and is the
// only writer to the sink, so a swap can never interleave two sources.
func (r *Router) run(ctx context.Context) {
	defer close(r.done)

	var activeTap *capture.Tap
	detach := func() {
		if activeTap == nil {
			return
		}
		r.mu.Lock()
		src := r.sources.Lookup(r.active)
		r.active = ""
		r.state = StateIdle
		r.mu.Unlock()
		if src != nil {
			src.Unsubscribe(activeTap)
		}
		activeTap = nil
	}
	defer detach()

	for {
		if activeTap == nil {
			select {
			case <-ctx.Done():
				return
			case cmd := <-r.commands:
				activeTap = r.handle(cmd, activeTap, detach)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case cmd := <-r.commands:
			activeTap = r.handle(cmd, activeTap, detach)
		case frame := <-activeTap.Frames():
			if !r.writeFrame(frame) {
				detach()
				return
			}
		}
	}
}

// writeFrame forwards one frame to the sink. Returns false on fatal
// output failure, which ends routing for the session.
func (r *Router) writeFrame(frame media.Frame) bool {
	if err := r.sink.Write(frame); err != nil {
		metrics.IncOutputErrors()
		r.logger.Error("Output write failed", "error", err)
		if r.bus != nil {
			r.bus.Publish(events.OutputFailedEvent{
				DevicePath: r.sink.DevicePath,
				Error:      err.Error(),
				Timestamp:  time.Now().Format(time.RFC3339),
			})
		}
		if r.onFatal != nil {
			r.onFatal(err)
		}
		return false
	}
	metrics.IncOutputWrites()
	r.mu.Lock()
	active := r.active
	r.mu.Unlock()
	metrics.IncFramesRouted(active)
	return true
}

// handle executes one routing command on the worker goroutine and returns
// the tap that is active afterwards.
func (r *Router) handle(cmd command, activeTap *capture.Tap, detach func()) *capture.Tap {
	started := time.Now()
	newTap, err := r.route(cmd, activeTap, detach)
	cmd.result <- err

	if cmd.reason == "switch" {
		metrics.ObserveSwitchDuration(time.Since(started).Seconds())
		if err == nil {
			metrics.IncSwitch("committed")
		} else {
			metrics.IncSwitch("rolled_back")
		}
	}
	return newTap
}

func (r *Router) route(cmd command, activeTap *capture.Tap, detach func()) (*capture.Tap, error) {
	r.mu.Lock()
	previous := r.active
	r.mu.Unlock()

	// Deactivate
	if cmd.target == "" {
		detach()
		r.logger.Info("Routing deactivated", "previous", previous)
		return nil, nil
	}

	src := r.sources.Lookup(cmd.target)
	if src == nil {
		return activeTap, fmt.Errorf("unknown source %q", cmd.target)
	}
	if cmd.target == previous && !cmd.detach {
		return activeTap, nil
	}
	if src.State() != capture.StateRunning {
		return activeTap, fmt.Errorf("source %s is %s, not running", cmd.target, src.State())
	}
	if !src.Format().Equal(r.sink.Format()) {
		return activeTap, fmt.Errorf("source %s format %s does not conform to session format %s: %w",
			cmd.target, src.Format(), r.sink.Format(), media.ErrFormatMismatch)
	}

	if cmd.detach {
		detach()
		activeTap = nil
	}

	if activeTap != nil {
		r.setState(StateSwitching, previous)
	}

	// Buffer the target's first conforming frame before detaching the
	// current source, so the output stream stays continuous. While waiting,
	// the prior source keeps feeding the sink; a nil prevFrames channel
	// blocks forever, so the extra case is inert on first activation.
	tap := src.Subscribe()
	timer := time.NewTimer(r.switchTimeout)
	defer timer.Stop()

	var prevFrames <-chan media.Frame
	if activeTap != nil {
		prevFrames = activeTap.Frames()
	}

	var first media.Frame
waitFirst:
	for {
		select {
		case first = <-tap.Frames():
			break waitFirst
		case frame := <-prevFrames:
			if !r.writeFrame(frame) {
				src.Unsubscribe(tap)
				return nil, fmt.Errorf("output failed during switch: %w", media.ErrOutputWrite)
			}
		case <-timer.C:
			src.Unsubscribe(tap)
			if activeTap != nil {
				// Rollback: the prior source never stopped being attached.
				r.setState(StateRouted, previous)
			}
			r.logger.Warn("Switch rolled back", "target", cmd.target, "timeout", r.switchTimeout)
			return activeTap, fmt.Errorf("source %s produced no frame within %s: %w",
				cmd.target, r.switchTimeout, media.ErrSwitchTimeout)
		}
	}

	// Commit: detach the old tap and immediately forward the buffered
	// frame so the gap stays under one frame interval.
	if activeTap != nil {
		if old := r.sources.Lookup(previous); old != nil {
			old.Unsubscribe(activeTap)
		}
	}

	r.mu.Lock()
	r.active = cmd.target
	r.state = StateRouted
	r.mu.Unlock()

	if !r.writeFrame(first) {
		return nil, fmt.Errorf("output failed during switch: %w", media.ErrOutputWrite)
	}

	r.logger.Info("Routing committed", "active", cmd.target, "previous", previous, "reason", cmd.reason)
	if r.bus != nil {
		r.bus.Publish(events.ActiveSourceChangedEvent{
			Active:    cmd.target,
			Previous:  previous,
			Reason:    cmd.reason,
			Timestamp: time.Now().Format(time.RFC3339),
		})
	}
	return tap, nil
}

func (r *Router) setState(state State, active string) {
	r.mu.Lock()
	r.state = state
	r.active = active
	r.mu.Unlock()
}

// State returns the routing state and the active source ("" when idle).
func (r *Router) State() (State, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.active
}

// ActiveSource returns the currently routed source, "" when idle.
func (r *Router) ActiveSource() string {
	_, active := r.State()
	return active
}
