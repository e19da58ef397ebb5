package updater

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/vcamlab/camswitch/internal/version"
)

// backupStore keeps exactly one rollback copy of the binary under the
// user cache directory, with a small TOML sidecar describing it.
type backupStore struct {
	dir    string
	logger *slog.Logger

	mu   sync.Mutex
	meta *backupMeta
}

type backupMeta struct {
	Version string    `toml:"version"`
	SavedAt time.Time `toml:"saved_at"`
	Binary  string    `toml:"binary"`
}

const (
	backupBinaryName = "previous.bin"
	backupMetaName   = "previous.toml"
)

func openBackupStore(logger *slog.Logger) (*backupStore, error) {
	cache, err := os.UserCacheDir()
	if err != nil {
		return nil, fmt.Errorf("cache directory: %w", err)
	}
	dir := filepath.Join(cache, "camswitch")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}

	store := &backupStore{dir: dir, logger: logger}
	store.meta = store.readMeta()
	return store, nil
}

// readMeta loads the sidecar and verifies the binary copy still exists.
func (b *backupStore) readMeta() *backupMeta {
	data, err := os.ReadFile(filepath.Join(b.dir, backupMetaName))
	if err != nil {
		return nil
	}
	var meta backupMeta
	if err := toml.Unmarshal(data, &meta); err != nil {
		b.logger.Warn("Unreadable backup metadata", "error", err)
		return nil
	}
	if _, err := os.Stat(filepath.Join(b.dir, backupBinaryName)); err != nil {
		b.logger.Warn("Backup binary missing", "error", err)
		return nil
	}
	return &meta
}

// save copies the running binary into the store, replacing any earlier
// backup.
func (b *backupStore) save(execPath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := copyBinary(execPath, filepath.Join(b.dir, backupBinaryName)); err != nil {
		return fmt.Errorf("back up %s: %w", execPath, err)
	}

	meta := backupMeta{
		Version: version.Version,
		SavedAt: time.Now(),
		Binary:  execPath,
	}
	data, err := toml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode backup metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(b.dir, backupMetaName), data, 0o644); err != nil {
		return fmt.Errorf("write backup metadata: %w", err)
	}

	b.meta = &meta
	b.logger.Info("Binary backed up", "version", meta.Version)
	return nil
}

// restore copies the backup over the binary it was taken from.
func (b *backupStore) restore() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.meta == nil {
		return fmt.Errorf("no backup present")
	}
	if err := copyBinary(filepath.Join(b.dir, backupBinaryName), b.meta.Binary); err != nil {
		return fmt.Errorf("restore %s: %w", b.meta.Binary, err)
	}
	b.logger.Info("Binary restored", "version", b.meta.Version)
	return nil
}

func (b *backupStore) available() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.meta != nil
}

func (b *backupStore) savedVersion() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.meta == nil {
		return ""
	}
	return b.meta.Version
}

func copyBinary(from, to string) error {
	src, err := os.Open(from)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(to, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
