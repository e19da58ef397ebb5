package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
)

// teeHandler fans each record out to every sink.
type teeHandler struct {
	sinks []slog.Handler
}

func (t *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, s := range t.sinks {
		if s.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, s := range t.sinks {
		if s.Enabled(ctx, r.Level) {
			_ = s.Handle(ctx, r.Clone())
		}
	}
	return nil
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	sinks := make([]slog.Handler, len(t.sinks))
	for i, s := range t.sinks {
		sinks[i] = s.WithAttrs(attrs)
	}
	return &teeHandler{sinks: sinks}
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	sinks := make([]slog.Handler, len(t.sinks))
	for i, s := range t.sinks {
		sinks[i] = s.WithGroup(name)
	}
	return &teeHandler{sinks: sinks}
}

// historyHandler feeds the registry's ring buffer and callback, which
// back the log API's history replay and live stream.
type historyHandler struct {
	reg    *registry
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

func (h *historyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *historyHandler) Handle(_ context.Context, r slog.Record) error {
	module, attrs := collectAttrs(h.attrs, h.groups, r)
	entry := LogEntry{
		Timestamp:  r.Time,
		Level:      levelName(r.Level),
		Module:     module,
		Message:    r.Message,
		Attributes: attrs,
	}

	h.reg.history.Append(entry)

	h.reg.mu.RLock()
	callback := h.reg.callback
	h.reg.mu.RUnlock()
	if callback != nil {
		callback(entry)
	}
	return nil
}

func (h *historyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

func (h *historyHandler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

// journalHandler sends records to the systemd journal with structured
// fields, so journalctl can filter on MODULE and friends.
type journalHandler struct {
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

func (h *journalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *journalHandler) Handle(_ context.Context, r slog.Record) error {
	module, attrs := collectAttrs(h.attrs, h.groups, r)

	fields := make(map[string]string, len(attrs)+2)
	fields["SYSLOG_IDENTIFIER"] = "camswitch"
	fields["MODULE"] = module
	for key, value := range attrs {
		fields[fieldKey(key)] = fmt.Sprint(value)
	}

	return journal.Send(r.Message, journalPriority(r.Level), fields)
}

func (h *journalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

func (h *journalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

func journalAvailable() bool {
	return journal.Enabled()
}

func journalPriority(level slog.Level) journal.Priority {
	switch {
	case level >= slog.LevelError:
		return journal.PriErr
	case level >= slog.LevelWarn:
		return journal.PriWarning
	case level >= slog.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}

// fieldKey maps a dotted attribute key onto the journal's field naming.
func fieldKey(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// collectAttrs flattens handler and record attributes into one map,
// dot-joining group names, and pulls the module attribute out of it.
func collectAttrs(base []slog.Attr, groups []string, r slog.Record) (string, map[string]any) {
	module := "app"
	out := make(map[string]any)

	walk := func(a slog.Attr) {
		if a.Key == "module" && len(groups) == 0 {
			module = a.Value.String()
			return
		}
		flattenAttr(out, groups, a)
	}
	for _, a := range base {
		walk(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		walk(a)
		return true
	})
	return module, out
}

func flattenAttr(out map[string]any, groups []string, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}

	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		for _, ga := range v.Group() {
			flattenAttr(out, append(groups, a.Key), ga)
		}
	case slog.KindTime:
		out[key] = v.Time().Format(time.RFC3339Nano)
	case slog.KindDuration:
		out[key] = v.Duration().String()
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			out[key] = err.Error()
			return
		}
		out[key] = v.Any()
	default:
		out[key] = v.Any()
	}
}

func levelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn"
	case level >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}
