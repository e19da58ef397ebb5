// Package settings persists device selections and the last routed source
// across restarts.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

// DefaultActiveSource is used when the settings file has no valid
// last_active_source entry.
const DefaultActiveSource = "a"

// Settings is the persisted configuration for one routing session.
type Settings struct {
	CameraA          string `toml:"camera_a" json:"camera_a"`
	CameraB          string `toml:"camera_b" json:"camera_b"`
	VirtualOutput    string `toml:"virtual_output" json:"virtual_output"`
	LastActiveSource string `toml:"last_active_source" json:"last_active_source"`
}

// Store loads and saves Settings. The routing core only sees this
// interface; where and how settings live is the gateway's concern.
type Store interface {
	Load() (Settings, error)
	Save(Settings) error
	SetLastActiveSource(source string) error
}

// config is the on-disk layout of the settings file.
type config struct {
	Version  int      `toml:"version"`
	Settings Settings `toml:"settings"`
}

// tomlStore implements Store using TOML file storage. The mutex covers
// both the cached config and the file: SetLastActiveSource runs on the
// event-dispatch goroutine while Load may run elsewhere.
type tomlStore struct {
	path string

	mu      sync.Mutex
	current config
}

// NewTOML creates a new TOML-based settings store.
func NewTOML(path string) Store {
	if path == "" {
		path = "camswitch.toml"
	}
	return &tomlStore{
		path: path,
		current: config{
			Version: 1,
			Settings: Settings{
				LastActiveSource: DefaultActiveSource,
			},
		},
	}
}

// Load reads settings from disk. A missing file is not an error: defaults
// are returned and written on the first Save.
func (s *tomlStore) Load() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return s.current.Settings, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}

	if unmarshalErr := toml.Unmarshal(data, &s.current); unmarshalErr != nil {
		return Settings{}, fmt.Errorf("failed to parse settings: %w", unmarshalErr)
	}

	if s.current.Version == 0 {
		s.current.Version = 1
	}
	if !validSource(s.current.Settings.LastActiveSource) {
		s.current.Settings.LastActiveSource = DefaultActiveSource
	}

	return s.current.Settings, nil
}

// Save writes settings to disk atomically (write to temp file, rename).
// A crash mid-save must never leave a torn settings file behind.
func (s *tomlStore) Save(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(settings)
}

func (s *tomlStore) saveLocked(settings Settings) error {
	s.current.Settings = settings

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := toml.Marshal(s.current)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".camswitch-*.toml")
	if err != nil {
		return fmt.Errorf("failed to create temp settings file: %w", err)
	}
	tmpName := tmp.Name()

	if _, writeErr := tmp.Write(data); writeErr != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write settings: %w", writeErr)
	}
	if closeErr := tmp.Close(); closeErr != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close settings file: %w", closeErr)
	}

	if renameErr := os.Rename(tmpName, s.path); renameErr != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace settings file: %w", renameErr)
	}

	return nil
}

// SetLastActiveSource persists the source of a committed switch.
func (s *tomlStore) SetLastActiveSource(source string) error {
	if !validSource(source) {
		return fmt.Errorf("invalid source %q", source)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	settings := s.current.Settings
	settings.LastActiveSource = source
	return s.saveLocked(settings)
}

func validSource(source string) bool {
	return source == "a" || source == "b"
}
