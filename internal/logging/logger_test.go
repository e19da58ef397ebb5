package logging

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"
)

func newTestRegistry() *registry {
	return &registry{
		loggers: make(map[string]*slog.Logger),
		levels:  make(map[string]*slog.LevelVar),
		history: NewRingBuffer(16),
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in, slog.LevelInfo); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRegistry_SameLoggerPerModule(t *testing.T) {
	reg := newTestRegistry()
	if reg.logger("router") != reg.logger("router") {
		t.Error("Repeated lookups for one module should return the same logger")
	}
	if reg.logger("router") == reg.logger("capture") {
		t.Error("Different modules should get different loggers")
	}
}

func TestRegistry_ModuleLevelOverride(t *testing.T) {
	reg := newTestRegistry()
	reg.configure(Config{
		Level:   "warn",
		Modules: map[string]string{"router": "debug"},
	})

	reg.logger("router")
	reg.logger("capture")

	if got := reg.levels["router"].Level(); got != slog.LevelDebug {
		t.Errorf("router level = %v, want debug override", got)
	}
	if got := reg.levels["capture"].Level(); got != slog.LevelWarn {
		t.Errorf("capture level = %v, want global warn", got)
	}
}

func TestRegistry_ConfigureUpdatesExistingLoggers(t *testing.T) {
	reg := newTestRegistry()
	reg.logger("router")

	if got := reg.levels["router"].Level(); got != slog.LevelInfo {
		t.Fatalf("pre-configure level = %v, want info default", got)
	}

	reg.configure(Config{Modules: map[string]string{"router": "error"}})

	if got := reg.levels["router"].Level(); got != slog.LevelError {
		t.Errorf("post-configure level = %v, want error", got)
	}
}

func TestHistoryHandler_CapturesEntries(t *testing.T) {
	reg := newTestRegistry()
	var streamed []LogEntry
	reg.callback = func(e LogEntry) { streamed = append(streamed, e) }

	lv := &slog.LevelVar{}
	logger := slog.New(&historyHandler{reg: reg, level: lv}).With("module", "router")
	logger.Warn("Switch rolled back", "target", "b", "timeout", 500*time.Millisecond)

	entries := reg.history.Entries()
	if len(entries) != 1 {
		t.Fatalf("history has %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Module != "router" {
		t.Errorf("Module = %q, want router", e.Module)
	}
	if e.Level != "warn" {
		t.Errorf("Level = %q, want warn", e.Level)
	}
	if e.Message != "Switch rolled back" {
		t.Errorf("Message = %q", e.Message)
	}
	if e.Attributes["target"] != "b" {
		t.Errorf("target attribute = %v, want b", e.Attributes["target"])
	}
	if e.Attributes["timeout"] != "500ms" {
		t.Errorf("timeout attribute = %v, want 500ms", e.Attributes["timeout"])
	}
	if len(streamed) != 1 {
		t.Errorf("callback saw %d entries, want 1", len(streamed))
	}
}

func TestHistoryHandler_FlattensGroups(t *testing.T) {
	reg := newTestRegistry()
	lv := &slog.LevelVar{}
	logger := slog.New(&historyHandler{reg: reg, level: lv}).WithGroup("device")
	logger.Info("Probed", "path", "/dev/video0")

	entries := reg.history.Entries()
	if len(entries) != 1 {
		t.Fatalf("history has %d entries, want 1", len(entries))
	}
	if got := entries[0].Attributes["device.path"]; got != "/dev/video0" {
		t.Errorf("device.path = %v, want /dev/video0", got)
	}
}

func TestRingBuffer_Wraps(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := range 5 {
		rb.Append(LogEntry{Message: fmt.Sprintf("m%d", i)})
	}

	if rb.Len() != 3 {
		t.Errorf("Len() = %d, want 3", rb.Len())
	}
	entries := rb.Entries()
	want := []string{"m2", "m3", "m4"}
	if len(entries) != len(want) {
		t.Fatalf("Entries() returned %d entries, want %d", len(entries), len(want))
	}
	for i, w := range want {
		if entries[i].Message != w {
			t.Errorf("entry %d = %q, want %q", i, entries[i].Message, w)
		}
	}
}

func TestRingBuffer_Empty(t *testing.T) {
	rb := NewRingBuffer(3)
	if got := rb.Entries(); got != nil {
		t.Errorf("Entries() on empty buffer = %v, want nil", got)
	}
	if rb.Len() != 0 {
		t.Errorf("Len() = %d, want 0", rb.Len())
	}
}

func TestTeeHandler_RespectsSinkLevels(t *testing.T) {
	reg := newTestRegistry()
	quiet := &slog.LevelVar{}
	quiet.Set(slog.LevelError)
	loud := &slog.LevelVar{}

	tee := &teeHandler{sinks: []slog.Handler{
		&historyHandler{reg: reg, level: quiet},
		&historyHandler{reg: reg, level: loud},
	}}
	if !tee.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("tee should be enabled when any sink is")
	}

	slog.New(tee).Info("hello")

	// Only the loud sink passes an info record through.
	if got := reg.history.Len(); got != 1 {
		t.Errorf("history has %d entries, want 1", got)
	}
}
