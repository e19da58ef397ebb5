// Package systemd integrates the daemon with the service manager: readiness
// notification and watchdog keepalives while the pipeline is healthy.
package systemd

import (
	"context"
	"log/slog"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/vcamlab/camswitch/internal/logging"
)

// Notifier sends sd_notify messages when running under systemd. All methods
// are no-ops outside a systemd unit.
type Notifier struct {
	logger *slog.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier() *Notifier {
	return &Notifier{logger: logging.GetLogger("systemd")}
}

// Ready signals that startup is complete.
func (n *Notifier) Ready() {
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		n.logger.Warn("Failed to notify readiness", "error", err)
	} else if sent {
		n.logger.Debug("Notified systemd readiness")
	}
}

// Stopping signals that shutdown has begun.
func (n *Notifier) Stopping() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
}

// RunWatchdog sends keepalives at half the configured watchdog interval
// for as long as healthy() reports true. Returns immediately when the unit
// has no watchdog configured.
func (n *Notifier) RunWatchdog(ctx context.Context, healthy func() bool) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()

	n.logger.Info("Watchdog keepalive running", "interval", interval/2)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !healthy() {
				n.logger.Warn("Skipping watchdog keepalive, pipeline unhealthy")
				continue
			}
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				n.logger.Warn("Watchdog notify failed", "error", err)
			}
		}
	}
}
