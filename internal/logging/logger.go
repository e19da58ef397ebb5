package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

// historySize is the number of recent entries kept for the log API.
const historySize = 1000

// Config selects the output format and the minimum level, globally and
// per module.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`
}

// LogCallback receives every entry as it is logged. Used to publish log
// events without an import cycle.
type LogCallback func(entry LogEntry)

// registry owns the module loggers and the shared sinks. Handlers hold
// a pointer back to it, so a callback registered after a logger was
// created still sees that logger's records.
type registry struct {
	mu       sync.RWMutex
	cfg      Config
	loggers  map[string]*slog.Logger
	levels   map[string]*slog.LevelVar
	history  *RingBuffer
	callback LogCallback
}

var global = &registry{
	loggers: make(map[string]*slog.Logger),
	levels:  make(map[string]*slog.LevelVar),
	history: NewRingBuffer(historySize),
}

// Initialize applies the logging configuration. Loggers handed out
// before this call are rebuilt so their format and level match.
func Initialize(cfg Config) {
	global.configure(cfg)
}

// GetLogger returns the logger for a module, creating it on first use.
// The module name rides along as a "module" attribute on every record.
func GetLogger(module string) *slog.Logger {
	return global.logger(module)
}

// GetBuffer exposes the recent-entry history for the log API.
func GetBuffer() *RingBuffer {
	return global.history
}

// SetLogCallback registers the callback invoked for each new entry.
func SetLogCallback(callback LogCallback) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.callback = callback
}

func (r *registry) configure(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cfg = cfg

	for module, lv := range r.levels {
		lv.Set(r.moduleLevel(module))
		r.loggers[module] = r.buildLogger(module, lv)
	}

	root := &slog.LevelVar{}
	root.Set(parseLevel(cfg.Level, slog.LevelInfo))
	slog.SetDefault(slog.New(r.buildHandler(root)))
}

func (r *registry) logger(module string) *slog.Logger {
	r.mu.RLock()
	logger, ok := r.loggers[module]
	r.mu.RUnlock()
	if ok {
		return logger
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if logger, ok := r.loggers[module]; ok {
		return logger
	}

	lv := &slog.LevelVar{}
	lv.Set(r.moduleLevel(module))
	logger = r.buildLogger(module, lv)
	r.loggers[module] = logger
	r.levels[module] = lv
	return logger
}

// moduleLevel resolves the effective level for a module, preferring the
// per-module override. Callers hold the registry lock.
func (r *registry) moduleLevel(module string) slog.Level {
	base := parseLevel(r.cfg.Level, slog.LevelInfo)
	if override, ok := r.cfg.Modules[module]; ok {
		return parseLevel(override, base)
	}
	return base
}

func (r *registry) buildLogger(module string, level slog.Leveler) *slog.Logger {
	return slog.New(r.buildHandler(level)).With("module", module)
}

// buildHandler assembles the sink chain: stdout in the configured
// format when stdout goes somewhere, the journal when journald is
// running, and always the in-memory history.
func (r *registry) buildHandler(level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var sinks []slog.Handler
	if stdoutUsable() {
		if r.cfg.Format == "json" {
			sinks = append(sinks, slog.NewJSONHandler(os.Stdout, opts))
		} else {
			sinks = append(sinks, slog.NewTextHandler(os.Stdout, opts))
		}
	}
	if journalAvailable() {
		sinks = append(sinks, &journalHandler{level: level})
	}
	sinks = append(sinks, &historyHandler{reg: r, level: level})

	if len(sinks) == 1 {
		return sinks[0]
	}
	return &teeHandler{sinks: sinks}
}

// stdoutUsable reports whether stdout goes to a terminal, pipe, socket,
// or regular file. Writing to /dev/null is skipped.
func stdoutUsable() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	return mode&(os.ModeCharDevice|os.ModeNamedPipe|os.ModeSocket) != 0 || mode.IsRegular()
}

func parseLevel(name string, fallback slog.Level) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return fallback
	}
}
