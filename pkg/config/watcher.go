package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// DefaultDebounceInterval is the quiet period before a change is reloaded.
const DefaultDebounceInterval = 100 * time.Millisecond

// LimitsWatcher watches the configuration file and reloads the
// limits.services section when it changes.
//
// The containing directory is watched rather than the file itself, so
// editors that replace the file on save are still observed. Rapid events
// are debounced into a single reload.
type LimitsWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	running bool
}

// NewLimitsWatcher creates a watcher for the configuration file at path.
func NewLimitsWatcher(path string, logger *slog.Logger) (*LimitsWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &LimitsWatcher{
		path:     abs,
		watcher:  watcher,
		logger:   logger.With("component", "config.watcher"),
		interval: DefaultDebounceInterval,
	}, nil
}

// Watch blocks until ctx is cancelled, calling onReload with the freshly
// parsed limits after each change. A file that fails to parse or validate
// is logged and skipped; the previous limits stay in effect.
func (w *LimitsWatcher) Watch(ctx context.Context, onReload func(*LimitsConfig) error) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	defer w.close()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %q: %w", filepath.Dir(w.path), err)
	}

	w.logger.Info("limits watcher started", "path", w.path)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("limits watcher stopped")
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != w.path || event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			w.logger.Debug("config file event", "op", event.Op.String())
			w.trigger(func() { w.reload(onReload) })

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("limits watcher error", "error", err)
		}
	}
}

// reload parses the limits section and hands it to onReload.
func (w *LimitsWatcher) reload(onReload func(*LimitsConfig) error) {
	limits, err := ReadLimits(w.path)
	if err != nil {
		w.logger.Error("limits reload failed", "error", err)
		return
	}
	if len(limits.Services) == 0 {
		w.logger.Warn("limits reload skipped: no services configured")
		return
	}

	if err := onReload(limits); err != nil {
		w.logger.Error("applying reloaded limits failed", "error", err)
		return
	}
	w.logger.Info("limits reloaded", "services", len(limits.Services))
}

// trigger schedules fn after the debounce interval, replacing any pending call.
func (w *LimitsWatcher) trigger(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.interval, fn)
}

func (w *LimitsWatcher) close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.running = false
	_ = w.watcher.Close()
}

// ReadLimits reads only the limits section of the configuration file,
// applies burst defaults and validates it. Services are not defaulted.
func ReadLimits(path string) (*LimitsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var doc struct {
		Limits LimitsConfig `yaml:"limits"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	applyBurstDefaults(doc.Limits.Services)
	if errs := ValidateLimits(&doc.Limits); len(errs) > 0 {
		return nil, ValidationError{Errors: errs}
	}

	return &doc.Limits, nil
}
