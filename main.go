package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vcamlab/camswitch/cmd"
	"github.com/vcamlab/camswitch/internal/api"
	"github.com/vcamlab/camswitch/internal/config"
	"github.com/vcamlab/camswitch/internal/devices"
	"github.com/vcamlab/camswitch/internal/events"
	"github.com/vcamlab/camswitch/internal/logging"
	"github.com/vcamlab/camswitch/internal/settings"
	"github.com/vcamlab/camswitch/internal/supervisor"
	"github.com/vcamlab/camswitch/internal/systemd"
	"github.com/vcamlab/camswitch/internal/updater"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Device selection
	CameraA       string `help:"Capture device for source a" default:"" toml:"devices.camera_a" env:"CAMERA_A"`
	CameraB       string `help:"Capture device for source b" default:"" toml:"devices.camera_b" env:"CAMERA_B"`
	VirtualOutput string `help:"v4l2loopback output device" default:"" toml:"devices.virtual_output" env:"VIRTUAL_OUTPUT"`

	// Routing settings
	SettingsFile        string `help:"Persisted settings file" default:"camswitch.toml" toml:"routing.settings_file" env:"SETTINGS_FILE"`
	SwitchTimeoutMs     int    `help:"Switch commit timeout in milliseconds" default:"500" toml:"routing.switch_timeout_ms" env:"SWITCH_TIMEOUT_MS"`
	ReconnectBaseMs     int    `help:"Base reconnect backoff in milliseconds" default:"500" toml:"routing.reconnect_base_ms" env:"RECONNECT_BASE_MS"`
	ReconnectMaxRetries int    `help:"Reconnect attempts before giving up" default:"5" toml:"routing.reconnect_max_retries" env:"RECONNECT_MAX_RETRIES"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Update settings
	UpdateRepository string `help:"GitHub repository for self-update" default:"vcamlab/camswitch" toml:"update.repository" env:"UPDATE_REPOSITORY"`
	UpdatePrerelease bool   `help:"Include prereleases when updating" default:"false" toml:"update.prerelease" env:"UPDATE_PRERELEASE"`

	// Logging settings
	LoggingLevel      string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat     string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingRouter     string `help:"Router logging level" default:"info" toml:"logging.router" env:"LOGGING_ROUTER"`
	LoggingCapture    string `help:"Capture logging level" default:"info" toml:"logging.capture" env:"LOGGING_CAPTURE"`
	LoggingOutput     string `help:"Output logging level" default:"info" toml:"logging.output" env:"LOGGING_OUTPUT"`
	LoggingSupervisor string `help:"Supervisor logging level" default:"info" toml:"logging.supervisor" env:"LOGGING_SUPERVISOR"`
	LoggingDevices    string `help:"Devices logging level" default:"info" toml:"logging.devices" env:"LOGGING_DEVICES"`
	LoggingAPI        string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
}

func main() {
	// Create Huma CLI
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.Load(opts, nil); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		// Initialize logging system
		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"router":     opts.LoggingRouter,
				"capture":    opts.LoggingCapture,
				"output":     opts.LoggingOutput,
				"supervisor": opts.LoggingSupervisor,
				"devices":    opts.LoggingDevices,
				"api":        opts.LoggingAPI,
			},
		})

		logger := logging.GetLogger("main")

		// Create event bus for in-process event handling
		eventBus := events.New()

		// Forward log entries onto the bus for SSE streaming
		logging.SetLogCallback(func(entry logging.LogEntry) {
			eventBus.Publish(events.LogEntryEvent{
				Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
				Level:      entry.Level,
				Module:     entry.Module,
				Message:    entry.Message,
				Attributes: entry.Attributes,
			})
		})

		// The settings file is the durable record of the device selection
		// and last active source. CLI/config/env values override the file.
		store := settings.NewTOML(opts.SettingsFile)
		persisted, err := store.Load()
		if err != nil {
			logger.Warn("Failed to load settings", "path", opts.SettingsFile, "error", err)
		}
		selection := persisted
		if opts.CameraA != "" {
			selection.CameraA = opts.CameraA
		}
		if opts.CameraB != "" {
			selection.CameraB = opts.CameraB
		}
		if opts.VirtualOutput != "" {
			selection.VirtualOutput = opts.VirtualOutput
		}
		if selection != persisted {
			if saveErr := store.Save(selection); saveErr != nil {
				logger.Warn("Failed to persist device selection", "error", saveErr)
			}
		}

		supCfg := supervisor.Config{
			SwitchTimeout:       time.Duration(opts.SwitchTimeoutMs) * time.Millisecond,
			ReconnectBaseDelay:  time.Duration(opts.ReconnectBaseMs) * time.Millisecond,
			ReconnectMaxRetries: opts.ReconnectMaxRetries,
		}
		supCfg.Selection.CameraA = selection.CameraA
		supCfg.Selection.CameraB = selection.CameraB
		supCfg.Selection.VirtualOutput = selection.VirtualOutput

		detector := devices.NewDetector()

		deps := supervisor.DefaultDeps()
		deps.Detector = detector
		sup := supervisor.New(supCfg, deps, store, eventBus)
		sup.SetFatalHandler(func(fatalErr error) {
			// Output failure ends the session; systemd restarts us.
			logger.Error("Fatal pipeline failure", "error", fatalErr)
			os.Exit(1)
		})

		// Self-update service
		updateService, updErr := updater.New(updater.Options{
			Repository: opts.UpdateRepository,
			Prerelease: opts.UpdatePrerelease,
		})
		if updErr != nil {
			logger.Warn("Update service unavailable", "error", updErr)
		}

		server := api.NewServer(&api.Options{
			AuthUsername:      opts.AuthUsername,
			AuthPassword:      opts.AuthPassword,
			Supervisor:        sup,
			Detector:          detector,
			Bus:               eventBus,
			UpdateService:     updateService,
			PrometheusHandler: promhttp.Handler(),
		})

		// Watch the settings file so edits surface as events. Device path
		// changes take effect on the next session start.
		watcher := settings.NewWatcher(opts.SettingsFile, store, logging.GetLogger("settings"))
		watcher.OnChange(func(_ settings.Settings) {
			eventBus.Publish(events.SettingsReloadedEvent{
				Path:      opts.SettingsFile,
				Timestamp: time.Now().Format(time.RFC3339),
			})
		})

		watchCtx, cancelWatch := context.WithCancel(context.Background())
		notifier := systemd.NewNotifier()

		hooks.OnStart(func() {
			if startErr := sup.Start(context.Background()); startErr != nil {
				logger.Error("Failed to start pipeline", "error", startErr)
				os.Exit(1)
			}

			notifier.Ready()
			go notifier.RunWatchdog(watchCtx, func() bool {
				return sup.Status().State != supervisor.StateTerminal
			})

			if watchErr := watcher.Start(); watchErr != nil {
				logger.Warn("Settings watcher failed to start", "error", watchErr)
			}

			// Hotplug monitoring feeds device discovery events to SSE clients
			go func() {
				if watchErr := detector.Watch(watchCtx, func(action string, dev devices.DeviceInfo) {
					eventBus.Publish(events.DeviceDiscoveryEvent{
						DevicePath: dev.DevicePath,
						DeviceName: dev.DeviceName,
						Action:     action,
						Timestamp:  time.Now().Format(time.RFC3339),
					})
				}); watchErr != nil {
					logger.Warn("Device monitoring stopped", "error", watchErr)
				}
			}()

			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			notifier.Stopping()
			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}

			cancelWatch()
			watcher.Stop()

			// Stops routing, closes the virtual output, closes both sources
			sup.Stop()
		})
	})

	// Add device inspection commands
	cli.Root().AddCommand(cmd.CreateDevicesCmd())
	cli.Root().AddCommand(cmd.CreateProbeCmd())

	// Run the CLI
	cli.Run()
}
