package events

// Event type constants for kelindar/event.
const (
	TypeSourceHealth uint32 = iota + 1
	TypeActiveSourceChanged
	TypeDeviceDiscovery
	TypeOutputFailed
	TypePipelineState
	TypeSettingsReloaded
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// SourceHealthEvent reports a capture source lifecycle transition.
type SourceHealthEvent struct {
	Source     string `json:"source" example:"a" doc:"Source identifier (a or b)"`
	DevicePath string `json:"device_path" example:"/dev/video0" doc:"Path to the video device"`
	State      string `json:"state" example:"running" doc:"Lifecycle state: unopened, negotiating, running, error, closed"`
	Error      string `json:"error,omitempty" example:"device disconnected" doc:"Error detail when state is error"`
	Timestamp  string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SourceHealthEvent.
func (e SourceHealthEvent) Type() uint32 { return TypeSourceHealth }

// ActiveSourceChangedEvent is published after a committed switch or failover.
// The settings gateway persists the new active source on this event.
type ActiveSourceChangedEvent struct {
	Active    string `json:"active" example:"b" doc:"Source now feeding the virtual output"`
	Previous  string `json:"previous,omitempty" example:"a" doc:"Previously active source, empty on first activation"`
	Reason    string `json:"reason" example:"switch" doc:"Why routing changed: select, switch, failover"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ActiveSourceChangedEvent.
func (e ActiveSourceChangedEvent) Type() uint32 { return TypeActiveSourceChanged }

// DeviceDiscoveryEvent represents device hotplug events.
type DeviceDiscoveryEvent struct {
	DevicePath string `json:"device_path" example:"/dev/video0" doc:"Path to the video device"`
	DeviceName string `json:"device_name" example:"HD Pro Webcam C920" doc:"Human-readable device name"`
	Action     string `json:"action" example:"added" doc:"Action type: added, removed, changed"`
	Timestamp  string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for DeviceDiscoveryEvent.
func (e DeviceDiscoveryEvent) Type() uint32 { return TypeDeviceDiscovery }

// OutputFailedEvent is published when a write to the virtual output device
// fails. Output failures are fatal for the session.
type OutputFailedEvent struct {
	DevicePath string `json:"device_path" example:"/dev/video10" doc:"Path to the virtual output device"`
	Error      string `json:"error" example:"write /dev/video10: no such device" doc:"Write error detail"`
	Timestamp  string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for OutputFailedEvent.
func (e OutputFailedEvent) Type() uint32 { return TypeOutputFailed }

// PipelineStateEvent reports supervisor-level state transitions
// (starting, running, degraded, all_sources_down, terminal, stopped).
type PipelineStateEvent struct {
	State     string `json:"state" example:"degraded" doc:"Pipeline state"`
	Detail    string `json:"detail,omitempty" doc:"Human-readable detail"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for PipelineStateEvent.
func (e PipelineStateEvent) Type() uint32 { return TypePipelineState }

// SettingsReloadedEvent is published when the settings file changes on disk.
// Device path changes take effect on the next session start.
type SettingsReloadedEvent struct {
	Path      string `json:"path" example:"camswitch.toml" doc:"Settings file path"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SettingsReloadedEvent.
func (e SettingsReloadedEvent) Type() uint32 { return TypeSettingsReloaded }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"router" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
