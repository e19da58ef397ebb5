package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/vcamlab/camswitch/internal/events"
	"github.com/vcamlab/camswitch/internal/logging"
)

// logEvent converts a buffered entry to its wire form.
func logEvent(entry logging.LogEntry) events.LogEntryEvent {
	return events.LogEntryEvent{
		Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
		Level:      entry.Level,
		Module:     entry.Module,
		Message:    entry.Message,
		Attributes: entry.Attributes,
	}
}

// registerLogRoutes serves the log tail over SSE: buffered history first,
// then live entries.
func (s *Server) registerLogRoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "logs-stream",
		Method:      http.MethodGet,
		Path:        "/api/logs/stream",
		Summary:     "Log Stream",
		Description: "Buffered log history followed by a live tail, as Server-Sent Events",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"message": events.LogEntryEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		// Subscribe before replaying history so entries logged during the
		// replay are not lost.
		live := make(chan any, 100)
		unsub := events.Forward[events.LogEntryEvent](s.eventBus, live)
		defer unsub()

		if buffer := logging.GetBuffer(); buffer != nil {
			for _, entry := range buffer.Entries() {
				if err := send.Data(logEvent(entry)); err != nil {
					return
				}
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-live:
				if err := send.Data(ev); err != nil {
					return
				}
			}
		}
	})
}
