package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads a project config file from debounced fsnotify
// events and serves the result through Current; only code that reads
// Current sees a reload (internal/app does not start a Watcher, so the
// server keeps the config it was built with). On any read/parse/validate
// failure the last good config is kept
// and the failure is logged — a malformed edit never takes an already
// loaded config down.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	mu      sync.RWMutex
	current *Config

	stopCh chan struct{}
	doneCh chan struct{}
}

// WatchFile starts watching path for changes, reloading and re-validating
// the config on every write/rename event. initial is served by Current until
// the first successful reload.
func WatchFile(path string, initial *Config, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:    path,
		watcher: fsw,
		logger:  logger,
		current: initial,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Current returns the most recently, successfully loaded config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops the watcher goroutine and releases the fsnotify handle.
func (w *Watcher) Close() error {
	close(w.stopCh)
	<-w.doneCh
	return w.watcher.Close()
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	var debounce *time.Timer
	debounceWindow := 250 * time.Millisecond

	for {
		select {
		case <-w.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceWindow, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg := NewConfig()
	if err := cfg.loadYAML(w.path); err != nil {
		w.logger.Warn("config hot-reload: failed to read config file, keeping previous config", "path", w.path, "error", err)
		return
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		w.logger.Warn("config hot-reload: new config failed validation, keeping previous config", "path", w.path, "error", err)
		return
	}
	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()
	w.logger.Info("config hot-reloaded", "path", w.path)
}
