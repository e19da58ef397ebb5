package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/vcamlab/camswitch/internal/events"
)

// registerSSERoutes registers the native Huma SSE endpoint.
func (s *Server) registerSSERoutes() {
	// Register SSE endpoint with event type mapping
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time event stream for routing changes, source health, device hotplug, and pipeline state",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"source-health":         events.SourceHealthEvent{},
		"active-source-changed": events.ActiveSourceChangedEvent{},
		"device-discovery":      events.DeviceDiscoveryEvent{},
		"output-failed":         events.OutputFailedEvent{},
		"pipeline-state":        events.PipelineStateEvent{},
		"settings-reloaded":     events.SettingsReloadedEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		// Create event channel for this connection
		eventCh := make(chan any, 10)

		// Subscribe to all event types using event bus
		unsubscribers := []func(){
			events.Forward[events.SourceHealthEvent](s.eventBus, eventCh),
			events.Forward[events.ActiveSourceChangedEvent](s.eventBus, eventCh),
			events.Forward[events.DeviceDiscoveryEvent](s.eventBus, eventCh),
			events.Forward[events.OutputFailedEvent](s.eventBus, eventCh),
			events.Forward[events.PipelineStateEvent](s.eventBus, eventCh),
			events.Forward[events.SettingsReloadedEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		// Send the current pipeline state so clients have a baseline
		if err := send.Data(events.PipelineStateEvent{
			State:     s.supervisor.Status().State,
			Detail:    "SSE connection established",
			Timestamp: time.Now().Format(time.RFC3339),
		}); err != nil {
			return
		}

		// Keep connection alive and forward events
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					// Connection failed, clean up and exit
					return
				}
			}
		}
	})
}
