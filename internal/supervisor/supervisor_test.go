package supervisor

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vcamlab/camswitch/internal/capture"
	"github.com/vcamlab/camswitch/internal/devices"
	"github.com/vcamlab/camswitch/internal/events"
	"github.com/vcamlab/camswitch/internal/media"
	"github.com/vcamlab/camswitch/internal/output"
	"github.com/vcamlab/camswitch/internal/settings"
)

// fakeCapture produces a steady frame cadence until told to fail.
type fakeCapture struct {
	mu      sync.Mutex
	openErr error
	readErr error
}

func (f *fakeCapture) Open() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openErr
}

func (f *fakeCapture) Formats() ([]media.FrameFormat, error) {
	return []media.FrameFormat{media.DefaultFormat}, nil
}

func (f *fakeCapture) Negotiate(want media.FrameFormat) (media.FrameFormat, error) {
	return want, nil
}

func (f *fakeCapture) Start() error { return nil }

func (f *fakeCapture) ReadFrame(timeout time.Duration) ([]byte, error) {
	f.mu.Lock()
	err := f.readErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	time.Sleep(time.Millisecond)
	return []byte{0x42}, nil
}

func (f *fakeCapture) Stop() error  { return nil }
func (f *fakeCapture) Close() error { return nil }

func (f *fakeCapture) fail() {
	f.mu.Lock()
	f.readErr = errors.New("ioctl: no such device")
	f.mu.Unlock()
}

// fakeOutput counts writes and can be made to fail.
type fakeOutput struct {
	mu     sync.Mutex
	writes int
	err    error
}

func (o *fakeOutput) Open(format media.FrameFormat) error { return nil }

func (o *fakeOutput) Write(data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.writes++
	return nil
}

func (o *fakeOutput) Close() error { return nil }

func (o *fakeOutput) fail() {
	o.mu.Lock()
	o.err = errors.New("write: no such device")
	o.mu.Unlock()
}

// fakeDetector serves a fixed device list.
type fakeDetector struct {
	devices []devices.DeviceInfo
}

func (d *fakeDetector) List() ([]devices.DeviceInfo, error) { return d.devices, nil }

func (d *fakeDetector) Probe(string) ([]media.FrameFormat, error) {
	return []media.FrameFormat{media.DefaultFormat}, nil
}

func (d *fakeDetector) Watch(ctx context.Context, _ func(string, devices.DeviceInfo)) error {
	<-ctx.Done()
	return ctx.Err()
}

type harness struct {
	sup      *Supervisor
	out      *fakeOutput
	store    settings.Store
	bus      *events.Bus
	mu       sync.Mutex
	captures map[string]*fakeCapture
	failOpen atomic.Bool
}

func (h *harness) backend(path string) *fakeCapture {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.captures[path]
}

func newHarness(t *testing.T, lastActive string) *harness {
	t.Helper()

	h := &harness{
		out:      &fakeOutput{},
		bus:      events.New(),
		captures: make(map[string]*fakeCapture),
	}

	cfg := Config{
		SwitchTimeout:       100 * time.Millisecond,
		ReconnectBaseDelay:  10 * time.Millisecond,
		ReconnectMaxRetries: 3,
	}
	cfg.Selection.CameraA = "/dev/fake-a"
	cfg.Selection.CameraB = "/dev/fake-b"
	cfg.Selection.VirtualOutput = "/dev/fake-out"

	deps := Deps{
		CaptureBackend: func(path string) capture.Backend {
			backend := &fakeCapture{}
			if h.failOpen.Load() {
				backend.openErr = errors.New("device gone")
			}
			h.mu.Lock()
			h.captures[path] = backend
			h.mu.Unlock()
			return backend
		},
		OutputBackend:  func(path string) output.Backend { return h.out },
		ValidateOutput: func(path string) error { return nil },
	}

	h.store = settings.NewTOML(filepath.Join(t.TempDir(), "camswitch.toml"))
	if lastActive != "" {
		if err := h.store.Save(settings.Settings{
			CameraA:          cfg.Selection.CameraA,
			CameraB:          cfg.Selection.CameraB,
			VirtualOutput:    cfg.Selection.VirtualOutput,
			LastActiveSource: lastActive,
		}); err != nil {
			t.Fatal(err)
		}
	}

	h.sup = New(cfg, deps, h.store, h.bus)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.sup.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(h.sup.Stop)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("Timed out waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSupervisor_StartRoutesToPersistedSource(t *testing.T) {
	h := newHarness(t, "b")
	h.start(t)

	waitFor(t, "routing to b", func() bool {
		return h.sup.Status().ActiveSource == "b"
	})

	status := h.sup.Status()
	if status.RouteState != "routed" {
		t.Errorf("RouteState = %s, want routed", status.RouteState)
	}
	if status.State != StateRunning {
		t.Errorf("State = %s, want running", status.State)
	}
	if !status.SessionFormat.Equal(media.DefaultFormat) {
		t.Errorf("SessionFormat = %s", status.SessionFormat)
	}
}

func TestSupervisor_DefaultsToSourceA(t *testing.T) {
	h := newHarness(t, "")
	h.start(t)

	waitFor(t, "routing to a", func() bool {
		return h.sup.Status().ActiveSource == "a"
	})
}

func TestSupervisor_FailoverOnActiveSourceDeath(t *testing.T) {
	h := newHarness(t, "a")
	h.start(t)

	waitFor(t, "routing to a", func() bool {
		return h.sup.Status().ActiveSource == "a"
	})

	// Block reconnects so a stays down, then kill the routed source.
	h.failOpen.Store(true)
	h.backend("/dev/fake-a").fail()

	waitFor(t, "failover to b", func() bool {
		return h.sup.Status().ActiveSource == "b"
	})
	waitFor(t, "degraded state", func() bool {
		return h.sup.Status().State == StateDegraded
	})

	// The committed failover is persisted like any other switch
	waitFor(t, "persisted failover", func() bool {
		loaded, err := h.store.Load()
		return err == nil && loaded.LastActiveSource == "b"
	})
}

func TestSupervisor_ReconnectRestoresSource(t *testing.T) {
	h := newHarness(t, "a")
	h.start(t)

	waitFor(t, "routing to a", func() bool {
		return h.sup.Status().ActiveSource == "a"
	})

	h.backend("/dev/fake-a").fail()

	// Reconnects succeed, so the pipeline returns to full health with
	// routing failed over to b.
	waitFor(t, "recovered state", func() bool {
		status := h.sup.Status()
		return status.State == StateRunning && status.Sources["a"].State == "running"
	})
	if active := h.sup.Status().ActiveSource; active != "b" {
		t.Errorf("ActiveSource = %s, want b after failover", active)
	}
}

func TestSupervisor_AllSourcesDownKeepsOutputOpen(t *testing.T) {
	h := newHarness(t, "a")
	h.start(t)

	waitFor(t, "routing to a", func() bool {
		return h.sup.Status().ActiveSource == "a"
	})

	h.failOpen.Store(true)
	h.backend("/dev/fake-a").fail()
	h.backend("/dev/fake-b").fail()

	waitFor(t, "all sources down", func() bool {
		return h.sup.Status().State == StateAllSourcesDown
	})

	status := h.sup.Status()
	if status.ActiveSource != "" {
		t.Errorf("ActiveSource = %s, want none", status.ActiveSource)
	}
	// Output stays open while idle; writes stop but no close happened
	if status.OutputPath != "/dev/fake-out" {
		t.Errorf("OutputPath = %s", status.OutputPath)
	}
}

func TestSupervisor_RecoveryFromAllSourcesDown(t *testing.T) {
	h := newHarness(t, "a")
	h.start(t)

	waitFor(t, "routing to a", func() bool {
		return h.sup.Status().ActiveSource == "a"
	})

	h.backend("/dev/fake-a").fail()
	h.backend("/dev/fake-b").fail()

	// Reconnects succeed, routing resumes on whichever source recovers
	waitFor(t, "routing restored", func() bool {
		return h.sup.Status().ActiveSource != ""
	})
}

func TestSupervisor_FatalOutputFailure(t *testing.T) {
	h := newHarness(t, "a")
	fatal := make(chan error, 1)
	h.sup.SetFatalHandler(func(err error) {
		select {
		case fatal <- err:
		default:
		}
	})
	h.start(t)

	waitFor(t, "routing to a", func() bool {
		return h.sup.Status().ActiveSource == "a"
	})

	h.out.fail()

	select {
	case err := <-fatal:
		if !errors.Is(err, media.ErrOutputWrite) {
			t.Errorf("Expected ErrOutputWrite, got: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Fatal handler never invoked")
	}

	waitFor(t, "terminal state", func() bool {
		return h.sup.Status().State == StateTerminal
	})
	waitFor(t, "sources closed", func() bool {
		status := h.sup.Status()
		return status.Sources["a"].State == "closed" && status.Sources["b"].State == "closed"
	})
}

func TestSupervisor_EmptySelectionUsesDetectedDevices(t *testing.T) {
	h := newHarness(t, "")
	h.sup.cfg.Selection = devices.Selection{}
	h.sup.deps.Detector = &fakeDetector{devices: []devices.DeviceInfo{
		{DevicePath: "/dev/video0", DeviceName: "Cam One", Capture: true},
		{DevicePath: "/dev/video2", DeviceName: "Cam Two", Capture: true},
		{DevicePath: "/dev/video10", DeviceName: "Loopback", Output: true},
	}}
	h.start(t)

	waitFor(t, "routing to a", func() bool {
		return h.sup.Status().ActiveSource == "a"
	})

	status := h.sup.Status()
	if status.Sources["a"].DevicePath != "/dev/video0" {
		t.Errorf("camera a = %s, want /dev/video0", status.Sources["a"].DevicePath)
	}
	if status.Sources["b"].DevicePath != "/dev/video2" {
		t.Errorf("camera b = %s, want /dev/video2", status.Sources["b"].DevicePath)
	}
	if status.OutputPath != "/dev/video10" {
		t.Errorf("output = %s, want /dev/video10", status.OutputPath)
	}
}

func TestSupervisor_PartialSelectionKeepsConfiguredDevices(t *testing.T) {
	h := newHarness(t, "")
	h.sup.cfg.Selection.CameraB = ""
	h.sup.deps.Detector = &fakeDetector{devices: []devices.DeviceInfo{
		{DevicePath: "/dev/video8", Capture: true},
	}}
	h.start(t)

	status := h.sup.Status()
	if status.Sources["a"].DevicePath != "/dev/fake-a" {
		t.Errorf("camera a = %s, want configured /dev/fake-a", status.Sources["a"].DevicePath)
	}
	if status.Sources["b"].DevicePath != "/dev/video8" {
		t.Errorf("camera b = %s, want detected /dev/video8", status.Sources["b"].DevicePath)
	}
}

func TestSupervisor_StartRejectsBadSelection(t *testing.T) {
	h := newHarness(t, "")
	h.sup.cfg.Selection.CameraB = h.sup.cfg.Selection.CameraA

	if err := h.sup.Start(context.Background()); err == nil {
		t.Error("Expected error for identical camera devices")
	}
}

func TestSupervisor_StartRejectsUnusableOutput(t *testing.T) {
	h := newHarness(t, "")
	h.sup.deps.ValidateOutput = func(path string) error {
		return media.ErrPermissionDenied
	}

	err := h.sup.Start(context.Background())
	if !errors.Is(err, media.ErrPermissionDenied) {
		t.Errorf("Expected ErrPermissionDenied, got: %v", err)
	}
}

func TestSupervisor_SwitchCommandSurface(t *testing.T) {
	h := newHarness(t, "a")
	h.start(t)

	waitFor(t, "routing to a", func() bool {
		return h.sup.Status().ActiveSource == "a"
	})

	if err := h.sup.Switch("b"); err != nil {
		t.Fatalf("Switch(b) failed: %v", err)
	}
	if active := h.sup.Status().ActiveSource; active != "b" {
		t.Errorf("ActiveSource = %s, want b", active)
	}

	waitFor(t, "persisted switch", func() bool {
		loaded, err := h.store.Load()
		return err == nil && loaded.LastActiveSource == "b"
	})
}

func TestSessionFormat(t *testing.T) {
	hd := media.FrameFormat{Width: 1920, Height: 1080, PixelFormat: media.PixelFormatYUYV, FPS: 30}

	tests := []struct {
		name    string
		formats map[string][]media.FrameFormat
		want    media.FrameFormat
	}{
		{
			name: "common format wins",
			formats: map[string][]media.FrameFormat{
				"a": {media.DefaultFormat, hd},
				"b": {hd},
			},
			want: hd,
		},
		{
			name: "lone source picks its best",
			formats: map[string][]media.FrameFormat{
				"a": {media.DefaultFormat, hd},
			},
			want: hd,
		},
		{
			name:    "no sources falls back to default",
			formats: map[string][]media.FrameFormat{},
			want:    media.DefaultFormat,
		},
		{
			// MJPEG outranks every raw mode on resolution but cannot be
			// written to the loopback device, so it must never freeze the
			// session.
			name: "compressed formats are not session candidates",
			formats: map[string][]media.FrameFormat{
				"a": {{Width: 1920, Height: 1080, PixelFormat: media.PixelFormatMJPEG, FPS: 30}, media.DefaultFormat},
				"b": {{Width: 1920, Height: 1080, PixelFormat: media.PixelFormatMJPEG, FPS: 30}, media.DefaultFormat},
			},
			want: media.DefaultFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sessionFormat(tt.formats); !got.Equal(tt.want) {
				t.Errorf("sessionFormat() = %s, want %s", got, tt.want)
			}
		})
	}
}
