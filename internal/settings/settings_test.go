package settings

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	store := NewTOML(filepath.Join(t.TempDir(), "camswitch.toml"))

	settings, err := store.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if settings.LastActiveSource != DefaultActiveSource {
		t.Errorf("Expected default active source %q, got %q", DefaultActiveSource, settings.LastActiveSource)
	}
	if settings.CameraA != "" || settings.CameraB != "" {
		t.Error("Expected empty device paths for missing file")
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camswitch.toml")
	store := NewTOML(path)

	want := Settings{
		CameraA:          "/dev/video0",
		CameraB:          "/dev/video2",
		VirtualOutput:    "/dev/video10",
		LastActiveSource: "b",
	}
	if err := store.Save(want); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	// A fresh store must see the persisted values
	fresh := NewTOML(path)
	got, err := fresh.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if got != want {
		t.Errorf("Round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestSetLastActiveSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camswitch.toml")
	store := NewTOML(path)

	if err := store.Save(Settings{
		CameraA:          "/dev/video0",
		CameraB:          "/dev/video2",
		VirtualOutput:    "/dev/video10",
		LastActiveSource: "a",
	}); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	if err := store.SetLastActiveSource("b"); err != nil {
		t.Fatalf("SetLastActiveSource() failed: %v", err)
	}

	got, err := NewTOML(path).Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if got.LastActiveSource != "b" {
		t.Errorf("Expected last active source b, got %q", got.LastActiveSource)
	}
	if got.CameraA != "/dev/video0" {
		t.Error("Device paths should survive SetLastActiveSource")
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camswitch.toml")
	store := NewTOML(path)

	if err := store.Save(Settings{LastActiveSource: "a"}); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	// SetLastActiveSource runs on the event-dispatch goroutine while other
	// callers Load; run both hot under the race detector.
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range 50 {
				if err := store.SetLastActiveSource("b"); err != nil {
					t.Errorf("SetLastActiveSource() failed: %v", err)
					return
				}
			}
		}()
		go func() {
			defer wg.Done()
			for range 50 {
				if _, err := store.Load(); err != nil {
					t.Errorf("Load() failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if got.LastActiveSource != "b" {
		t.Errorf("Expected last active source b, got %q", got.LastActiveSource)
	}
}

func TestSetLastActiveSource_RejectsInvalid(t *testing.T) {
	store := NewTOML(filepath.Join(t.TempDir(), "camswitch.toml"))

	if err := store.SetLastActiveSource("c"); err == nil {
		t.Error("Expected error for invalid source")
	}
}

func TestLoad_InvalidActiveSourceFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camswitch.toml")
	content := `
version = 1

[settings]
camera_a = "/dev/video0"
camera_b = "/dev/video2"
virtual_output = "/dev/video10"
last_active_source = "z"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	settings, err := NewTOML(path).Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if settings.LastActiveSource != DefaultActiveSource {
		t.Errorf("Expected fallback to %q, got %q", DefaultActiveSource, settings.LastActiveSource)
	}
}

func TestSave_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "camswitch.toml")
	store := NewTOML(path)

	if err := store.Save(Settings{LastActiveSource: "a"}); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Settings file not created: %v", err)
	}
}
