package settings

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultDebounce coalesces the burst of filesystem events an editor or
// atomic rename produces into a single reload.
const defaultDebounce = 500 * time.Millisecond

// Watcher reloads the settings file when it changes on disk and hands
// the fresh Settings to a callback. The parent directory is watched
// rather than the file itself, so rename-over saves keep working.
type Watcher struct {
	path     string
	store    Store
	logger   *slog.Logger
	debounce time.Duration

	mu       sync.Mutex
	onChange func(Settings)
	fsw      *fsnotify.Watcher
	done     chan struct{}
}

// NewWatcher creates a watcher for the settings file at path. It does
// not start watching until Start is called.
func NewWatcher(path string, store Store, logger *slog.Logger) *Watcher {
	return &Watcher{
		path:     path,
		store:    store,
		logger:   logger,
		debounce: defaultDebounce,
	}
}

// OnChange registers the callback invoked after each successful reload.
func (w *Watcher) OnChange(fn func(Settings)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = fn
}

// Start begins watching the settings file's directory.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	w.mu.Lock()
	w.fsw = fsw
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.loop(fsw)
	w.logger.Debug("Watching settings file", "path", w.path)
	return nil
}

// Stop ends watching. Safe to call when Start was never called.
func (w *Watcher) Stop() {
	w.mu.Lock()
	fsw := w.fsw
	done := w.done
	w.fsw = nil
	w.done = nil
	w.mu.Unlock()

	if fsw != nil {
		fsw.Close()
		<-done
	}
}

func (w *Watcher) loop(fsw *fsnotify.Watcher) {
	defer close(w.done)

	var timer *time.Timer
	var pending <-chan time.Time

	for {
		select {
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != filepath.Base(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			w.reload()

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Settings watch error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	loaded, err := w.store.Load()
	if err != nil {
		w.logger.Warn("Settings reload failed", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	fn := w.onChange
	w.mu.Unlock()

	w.logger.Info("Settings reloaded", "path", w.path)
	if fn != nil {
		fn(loaded)
	}
}
