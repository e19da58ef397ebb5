// Package supervisor owns the pipeline lifecycle: startup and shutdown
// ordering, source reconnects with backoff, failover of the routed source,
// and session termination on output failure.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/vcamlab/camswitch/internal/capture"
	"github.com/vcamlab/camswitch/internal/devices"
	"github.com/vcamlab/camswitch/internal/events"
	"github.com/vcamlab/camswitch/internal/logging"
	"github.com/vcamlab/camswitch/internal/media"
	"github.com/vcamlab/camswitch/internal/metrics"
	"github.com/vcamlab/camswitch/internal/output"
	"github.com/vcamlab/camswitch/internal/router"
	"github.com/vcamlab/camswitch/internal/settings"
)

// Pipeline states surfaced through PipelineStateEvent and Status.
const (
	StateStarting       = "starting"
	StateRunning        = "running"
	StateDegraded       = "degraded"
	StateAllSourcesDown = "all_sources_down"
	StateTerminal       = "terminal"
	StateStopped        = "stopped"
)

// sourceIDs is the fixed pair of capture slots a session routes between.
var sourceIDs = []string{"a", "b"}

// Config controls supervisor timing and the device selection.
type Config struct {
	Selection           devices.Selection
	SwitchTimeout       time.Duration
	ReconnectBaseDelay  time.Duration
	ReconnectMaxRetries int
}

// Deps are the factories the supervisor builds the pipeline from,
// injectable for tests.
type Deps struct {
	CaptureBackend func(devicePath string) capture.Backend
	OutputBackend  func(devicePath string) output.Backend
	ValidateOutput func(devicePath string) error
	Detector       devices.Detector
}

// DefaultDeps returns the production V4L2 wiring.
func DefaultDeps() Deps {
	return Deps{
		CaptureBackend: capture.NewV4L2Backend,
		OutputBackend:  output.NewLoopbackBackend,
		ValidateOutput: func(path string) error {
			return devices.Resolve(path, unix.W_OK)
		},
		Detector: devices.NewDetector(),
	}
}

// SourceStatus is the health snapshot of one capture slot.
type SourceStatus struct {
	DevicePath string `json:"device_path" example:"/dev/video0" doc:"Configured device path"`
	State      string `json:"state" example:"running" doc:"Source lifecycle state"`
	Error      string `json:"error,omitempty" doc:"Last error when state is error"`
	Frames     uint64 `json:"frames" example:"1234" doc:"Frames read since start"`
}

// Status is the full pipeline snapshot served by the status API.
type Status struct {
	State         string                  `json:"state" example:"running" doc:"Pipeline state"`
	ActiveSource  string                  `json:"active_source,omitempty" example:"a" doc:"Source feeding the virtual output"`
	RouteState    string                  `json:"route_state" example:"routed" doc:"Router state machine position"`
	SessionFormat media.FrameFormat       `json:"session_format" doc:"Frozen session frame format"`
	Sources       map[string]SourceStatus `json:"sources" doc:"Per-source health"`
	OutputPath    string                  `json:"output_path" example:"/dev/video10" doc:"Virtual output device"`
	OutputWrites  uint64                  `json:"output_writes" doc:"Successful output writes"`
	OutputErrors  uint64                  `json:"output_errors" doc:"Failed output writes"`
}

// Supervisor wires sources, router, preview, and sink into one session.
type Supervisor struct {
	cfg     Config
	deps    Deps
	store   settings.Store
	bus     *events.Bus
	logger  *slog.Logger
	onFatal func(error)

	mu           sync.Mutex
	state        string
	format       media.FrameFormat
	sources      map[string]*capture.Source
	reconnecting map[string]bool

	sink    *output.Sink
	rtr     *router.Router
	preview *router.Preview

	ctx    context.Context
	cancel context.CancelFunc
	unsubs []func()
}

// New creates a Supervisor. Zero config durations pick defaults.
func New(cfg Config, deps Deps, store settings.Store, bus *events.Bus) *Supervisor {
	if cfg.SwitchTimeout <= 0 {
		cfg.SwitchTimeout = router.DefaultSwitchTimeout
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = 500 * time.Millisecond
	}
	if cfg.ReconnectMaxRetries <= 0 {
		cfg.ReconnectMaxRetries = 5
	}
	return &Supervisor{
		cfg:          cfg,
		deps:         deps,
		store:        store,
		bus:          bus,
		logger:       logging.GetLogger("supervisor"),
		state:        StateStarting,
		sources:      make(map[string]*capture.Source),
		reconnecting: make(map[string]bool),
	}
}

// SetFatalHandler registers the callback invoked on fatal output failure.
// Must be called before Start.
func (s *Supervisor) SetFatalHandler(fn func(error)) {
	s.onFatal = fn
}

// Lookup implements router.SourceProvider.
func (s *Supervisor) Lookup(id string) *capture.Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sources[id]
}

// Start brings the pipeline up: open both sources, agree on a session
// format, open the output, start routing to the persisted source. A source
// that fails to open is retried in the background; an output that fails to
// open is fatal.
func (s *Supervisor) Start(ctx context.Context) error {
	if !s.cfg.Selection.Complete() && s.deps.Detector != nil {
		detected, err := s.deps.Detector.List()
		if err != nil {
			s.logger.Warn("Device enumeration failed, keeping configured selection", "error", err)
		} else {
			s.cfg.Selection = s.cfg.Selection.WithDefaults(detected)
			s.logger.Info("Device selection completed from detected devices",
				"camera_a", s.cfg.Selection.CameraA,
				"camera_b", s.cfg.Selection.CameraB,
				"virtual_output", s.cfg.Selection.VirtualOutput)
		}
	}
	if err := s.cfg.Selection.ValidateStructure(); err != nil {
		return fmt.Errorf("invalid device selection: %w", err)
	}
	if err := s.deps.ValidateOutput(s.cfg.Selection.VirtualOutput); err != nil {
		return fmt.Errorf("virtual output unusable: %w", err)
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.publishState(StateStarting, "")

	// Open what we can; failures retry in the background.
	formats := make(map[string][]media.FrameFormat)
	var failed []string
	for _, id := range sourceIDs {
		src, fmts, err := s.openSource(id)
		if err != nil {
			s.logger.Warn("Source failed to open", "source", id, "error", err)
			failed = append(failed, id)
			continue
		}
		s.mu.Lock()
		s.sources[id] = src
		s.mu.Unlock()
		formats[id] = fmts
	}

	s.mu.Lock()
	s.format = sessionFormat(formats)
	s.mu.Unlock()
	s.logger.Info("Session format chosen", "format", s.format.String())

	// Bring opened sources to Running at the session format.
	for _, id := range sourceIDs {
		src := s.Lookup(id)
		if src == nil {
			continue
		}
		if err := s.bringUp(src); err != nil {
			s.logger.Warn("Source failed to start", "source", id, "error", err)
			src.Close()
			s.mu.Lock()
			delete(s.sources, id)
			s.mu.Unlock()
			failed = append(failed, id)
			continue
		}
		metrics.SetSourceUp(id, true)
	}

	// The output opens with the frozen session format. Failure here is
	// fatal for startup.
	sink := output.NewSink(s.cfg.Selection.VirtualOutput, s.deps.OutputBackend(s.cfg.Selection.VirtualOutput))
	if err := sink.Open(s.format); err != nil {
		s.closeSources()
		return fmt.Errorf("failed to open virtual output: %w", err)
	}
	s.sink = sink

	s.rtr = router.New(sink, s, s.bus, s.cfg.SwitchTimeout)
	s.rtr.SetFatalHandler(s.handleFatal)
	if err := s.rtr.Start(s.ctx); err != nil {
		return err
	}

	s.preview = router.NewPreview(s.rtr)
	s.preview.Start(s.ctx)
	for _, id := range sourceIDs {
		if src := s.Lookup(id); src != nil {
			s.preview.Attach(id, src)
		}
	}

	s.subscribe()
	s.routeInitial()

	for _, id := range failed {
		s.scheduleReconnect(id)
	}
	s.recomputeState()
	return nil
}

func (s *Supervisor) openSource(id string) (*capture.Source, []media.FrameFormat, error) {
	path, err := s.cfg.Selection.DevicePath(id)
	if err != nil {
		return nil, nil, err
	}
	src := capture.NewSource(id, path, s.deps.CaptureBackend(path), s.bus)
	if err := src.Open(); err != nil {
		return nil, nil, err
	}
	fmts, err := src.Formats()
	if err != nil {
		src.Close()
		return nil, nil, err
	}
	return src, fmts, nil
}

// bringUp negotiates the session format and starts the read loop.
func (s *Supervisor) bringUp(src *capture.Source) error {
	s.mu.Lock()
	format := s.format
	s.mu.Unlock()
	if err := src.Negotiate(format); err != nil {
		return err
	}
	return src.Start(s.ctx)
}

// sessionFormat picks the format the session freezes on: the best format
// both sources share, the best of a lone source, or the default.
func sessionFormat(formats map[string][]media.FrameFormat) media.FrameFormat {
	a, b := formats["a"], formats["b"]
	switch {
	case len(a) > 0 && len(b) > 0:
		return media.Negotiate(a, b)
	case len(a) > 0:
		return media.Negotiate(a, a)
	case len(b) > 0:
		return media.Negotiate(b, b)
	default:
		return media.DefaultFormat
	}
}

// routeInitial restores routing to the persisted active source, falling
// back to the standby when it is unavailable.
func (s *Supervisor) routeInitial() {
	preferred := settings.DefaultActiveSource
	if loaded, err := s.store.Load(); err == nil {
		preferred = loaded.LastActiveSource
	}

	for _, id := range []string{preferred, standby(preferred)} {
		err := s.rtr.Select(id)
		if err == nil {
			s.logger.Info("Initial routing established", "source", id)
			return
		}
		s.logger.Warn("Initial routing failed", "source", id, "error", err)
	}
	s.logger.Warn("No source available for initial routing")
}

// subscribe wires the supervisor to health and commit events.
func (s *Supervisor) subscribe() {
	s.unsubs = append(s.unsubs,
		s.bus.Subscribe(func(e events.SourceHealthEvent) {
			if e.State == capture.StateError.String() {
				s.handleSourceError(e.Source)
			}
		}),
		s.bus.Subscribe(func(e events.ActiveSourceChangedEvent) {
			if err := s.store.SetLastActiveSource(e.Active); err != nil {
				s.logger.Error("Failed to persist active source", "source", e.Active, "error", err)
			}
		}),
	)
}

// claimReconnect marks a source as being recovered. Returns false when a
// recovery is already in flight or the session is over.
func (s *Supervisor) claimReconnect(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTerminal || s.state == StateStopped || s.reconnecting[id] {
		return false
	}
	s.reconnecting[id] = true
	return true
}

// handleSourceError reacts to a source entering StateError: fail over if
// it was routed, then reconnect with backoff.
func (s *Supervisor) handleSourceError(id string) {
	if !s.claimReconnect(id) {
		return
	}

	metrics.SetSourceUp(id, false)
	s.logger.Warn("Source down", "source", id)

	if s.rtr.ActiveSource() == id {
		other := standby(id)
		if s.sourceRunning(other) {
			if err := s.rtr.Failover(other); err != nil {
				s.logger.Error("Failover failed", "target", other, "error", err)
				s.deactivate()
			}
		} else {
			s.deactivate()
		}
	}

	s.recomputeState()
	go s.reconnect(id)
}

func (s *Supervisor) deactivate() {
	// The sink stays open while idle so conferencing software does not
	// see the virtual device disappear.
	if err := s.rtr.Deactivate(); err != nil {
		s.logger.Error("Deactivate failed", "error", err)
	}
}

func (s *Supervisor) scheduleReconnect(id string) {
	if s.claimReconnect(id) {
		go s.reconnect(id)
	}
}

// reconnect retries a dead source with exponential backoff up to the
// configured retry budget, then surfaces persistent failure.
func (s *Supervisor) reconnect(id string) {
	delay := s.cfg.ReconnectBaseDelay
	for attempt := 1; attempt <= s.cfg.ReconnectMaxRetries; attempt++ {
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2

		metrics.IncReconnects(id)
		err := s.restartSource(id)
		if err == nil {
			s.logger.Info("Source reconnected", "source", id, "attempt", attempt)
			metrics.SetSourceUp(id, true)
			s.mu.Lock()
			s.reconnecting[id] = false
			s.mu.Unlock()
			s.afterRecovery(id)
			return
		}
		s.logger.Warn("Reconnect attempt failed", "source", id, "attempt", attempt, "error", err)
	}

	s.mu.Lock()
	s.reconnecting[id] = false
	s.mu.Unlock()
	s.logger.Error("Source failed permanently", "source", id, "attempts", s.cfg.ReconnectMaxRetries)
	s.recomputeState()
	if s.bus != nil {
		s.bus.Publish(events.PipelineStateEvent{
			State:     s.currentState(),
			Detail:    fmt.Sprintf("source %s failed after %d reconnect attempts", id, s.cfg.ReconnectMaxRetries),
			Timestamp: time.Now().Format(time.RFC3339),
		})
	}
}

func (s *Supervisor) currentState() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// restartSource tears down the dead source and builds a fresh one at the
// frozen session format.
func (s *Supervisor) restartSource(id string) error {
	path, err := s.cfg.Selection.DevicePath(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	old := s.sources[id]
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}

	src := capture.NewSource(id, path, s.deps.CaptureBackend(path), s.bus)
	if err := src.Open(); err != nil {
		return err
	}
	if err := s.bringUp(src); err != nil {
		src.Close()
		return err
	}

	s.mu.Lock()
	s.sources[id] = src
	s.mu.Unlock()
	s.preview.Attach(id, src)
	return nil
}

// afterRecovery restores routing if nothing is routed.
func (s *Supervisor) afterRecovery(id string) {
	if s.rtr.ActiveSource() == "" {
		if err := s.rtr.Select(id); err != nil {
			s.logger.Warn("Routing to recovered source failed", "source", id, "error", err)
		}
	}
	s.recomputeState()
}

func (s *Supervisor) sourceRunning(id string) bool {
	src := s.Lookup(id)
	return src != nil && src.State() == capture.StateRunning
}

// recomputeState derives the pipeline state from source health.
func (s *Supervisor) recomputeState() {
	s.mu.Lock()
	if s.state == StateTerminal || s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	running := 0
	for _, id := range sourceIDs {
		if s.sourceRunning(id) {
			running++
		}
	}

	switch {
	case running == 0:
		s.publishState(StateAllSourcesDown, "no capture source is delivering frames")
	case running < len(sourceIDs):
		s.publishState(StateDegraded, "one capture source is down")
	default:
		s.publishState(StateRunning, "")
	}
}

// handleFatal terminates the session on output write failure: sources are
// shut down cleanly, then the registered fatal handler decides process exit.
func (s *Supervisor) handleFatal(err error) {
	s.publishState(StateTerminal, err.Error())
	s.logger.Error("Output failed, terminating session", "error", err)
	s.closeSources()
	if s.onFatal != nil {
		s.onFatal(err)
	}
}

func (s *Supervisor) publishState(state, detail string) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()

	s.logger.Info("Pipeline state changed", "state", state, "detail", detail)
	if s.bus != nil {
		s.bus.Publish(events.PipelineStateEvent{
			State:     state,
			Detail:    detail,
			Timestamp: time.Now().Format(time.RFC3339),
		})
	}
}

func (s *Supervisor) closeSources() {
	s.mu.Lock()
	sources := make([]*capture.Source, 0, len(s.sources))
	for _, src := range s.sources {
		sources = append(sources, src)
	}
	s.mu.Unlock()
	for _, src := range sources {
		src.Close()
	}
}

// Switch routes to the given source. Errors map to the command surface:
// media.ErrBusy, media.ErrSwitchTimeout, or a rejection reason.
func (s *Supervisor) Switch(source string) error {
	if s.rtr == nil {
		return fmt.Errorf("pipeline not started")
	}
	return s.rtr.Switch(source)
}

// Preview returns the preview fan-out, nil before Start.
func (s *Supervisor) Preview() *router.Preview {
	return s.preview
}

// SessionFormat returns the frozen session format.
func (s *Supervisor) SessionFormat() media.FrameFormat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

// Status snapshots the whole pipeline for the status API.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	state := s.state
	format := s.format
	s.mu.Unlock()

	status := Status{
		State:         state,
		SessionFormat: format,
		Sources:       make(map[string]SourceStatus, len(sourceIDs)),
		OutputPath:    s.cfg.Selection.VirtualOutput,
	}
	if s.rtr != nil {
		routeState, active := s.rtr.State()
		status.RouteState = routeState.String()
		status.ActiveSource = active
	}
	if s.sink != nil {
		status.OutputWrites, status.OutputErrors = s.sink.Stats()
	}

	for _, id := range sourceIDs {
		path, _ := s.cfg.Selection.DevicePath(id)
		st := SourceStatus{DevicePath: path, State: capture.StateUnopened.String()}
		if src := s.Lookup(id); src != nil {
			st.State = src.State().String()
			st.Frames = src.FrameCount()
			if err := src.Err(); err != nil && src.State() == capture.StateError {
				st.Error = err.Error()
			}
		}
		status.Sources[id] = st
	}
	return status
}

// Stop shuts the pipeline down in order: stop routing, close the output,
// close both sources.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil

	if s.rtr != nil {
		s.rtr.Stop()
	}
	if s.preview != nil {
		s.preview.Stop()
	}
	if s.sink != nil {
		if err := s.sink.Close(); err != nil {
			s.logger.Warn("Output close failed", "error", err)
		}
	}
	s.closeSources()
	s.publishState(StateStopped, "")
}

// standby returns the other source of the pair.
func standby(id string) string {
	if id == "a" {
		return "b"
	}
	return "a"
}
