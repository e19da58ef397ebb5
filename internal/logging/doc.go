// Package logging provides slog-based structured logging with runtime
// per-module levels.
//
// Initialize once at startup, then take a logger per module:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{"router": "debug"},
//	})
//	logger := logging.GetLogger("router")
//	logger.Info("Switch committed", "target", "b")
//
// Records go to stdout (text or JSON), to the systemd journal when
// journald is running, and always into an in-memory ring buffer that
// backs the log API's history and live stream.
//
// Journal records carry SYSLOG_IDENTIFIER=camswitch and a MODULE field:
//
//	journalctl -t camswitch -f
//	journalctl -t camswitch MODULE=router
package logging
