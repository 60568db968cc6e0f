package config

import (
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultReloadDebounce coalesces the burst of events editors emit for one
// save (truncate, write, chmod, atomic rename).
const defaultReloadDebounce = 250 * time.Millisecond

// ReloadFunc receives the reloaded config. err is non-nil when the file could
// not be parsed; cfg then holds defaults and callers usually keep their
// current settings.
type ReloadFunc func(cfg Config, err error)

// Watcher reloads the config file whenever it changes on disk.
// The parent directory is watched rather than the file so atomic renames
// (including our own Save) are observed.
type Watcher struct {
	path     string
	onReload ReloadFunc
	debounce time.Duration

	fsWatcher *fsnotify.Watcher
	done      chan struct{}
	wg        sync.WaitGroup

	mu    sync.Mutex
	timer *time.Timer
	stop  sync.Once
}

// NewWatcher creates a watcher for path. Call Start to begin watching.
func NewWatcher(path string, onReload ReloadFunc) (*Watcher, error) {
	if onReload == nil {
		return nil, errors.New("config watcher requires a reload callback")
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:      filepath.Clean(path),
		onReload:  onReload,
		debounce:  defaultReloadDebounce,
		fsWatcher: fsWatcher,
		done:      make(chan struct{}),
	}, nil
}

// Start begins watching the config directory.
func (w *Watcher) Start() error {
	if err := w.fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.wg.Go(w.processEvents)
	slog.Debug("[DEBUG-CONFIG] watching config file", "path", w.path)
	return nil
}

// Stop stops watching and waits for the event goroutine. Idempotent.
func (w *Watcher) Stop() {
	w.stop.Do(func() {
		close(w.done)
		if err := w.fsWatcher.Close(); err != nil {
			slog.Debug("[DEBUG-CONFIG] fsnotify close failed", "error", err)
		}
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		w.wg.Wait()
	})
}

func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			slog.Warn("[WARN-CONFIG] config watcher error", "error", err)
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}
	cfg, err := Load(w.path)
	if err != nil {
		slog.Warn("[WARN-CONFIG] config reload failed", "path", w.path, "error", err)
	} else {
		slog.Info("[DEBUG-CONFIG] config reloaded", "path", w.path)
	}
	w.onReload(cfg, err)
}
