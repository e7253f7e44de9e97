package skills

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is how long the watcher waits for changes to settle
const DefaultDebounce = 200 * time.Millisecond

// WatcherConfig holds configuration for the watcher
type WatcherConfig struct {
	Debounce time.Duration
	Logger   zerolog.Logger
	// OnReload runs after every reload attempt
	OnReload func(err error)
}

// Watcher reloads a Loader when files under its directory change
type Watcher struct {
	watcher  *fsnotify.Watcher
	loader   *Loader
	debounce time.Duration
	logger   zerolog.Logger
	onReload func(err error)

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher creates a watcher for loader's directory
func NewWatcher(loader *Loader, cfg WatcherConfig) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	return &Watcher{
		watcher:  fw,
		loader:   loader,
		debounce: cfg.Debounce,
		logger:   cfg.Logger.With().Str("component", "skills_watcher").Logger(),
		onReload: cfg.OnReload,
	}, nil
}

// Run watches until ctx ends, then closes the underlying watcher
func (w *Watcher) Run(ctx context.Context) error {
	defer w.close()

	if err := w.addRecursive(w.loader.Dir()); err != nil {
		return fmt.Errorf("failed to watch skills directory: %w", err)
	}
	w.logger.Info().Str("path", w.loader.Dir()).Msg("Skills watcher started")

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Watcher error")

		case <-ctx.Done():
			w.logger.Info().Msg("Skills watcher stopped")
			return nil
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if shouldIgnore(event.Name) {
		return
	}
	// new skill directories must be watched too
	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.addRecursive(event.Name)
		}
	}
	w.scheduleReload()
}

// scheduleReload coalesces bursts of events into one reload
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	err := w.loader.Load()
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to reload skills")
	} else {
		w.logger.Info().Int("skills", len(w.loader.Names())).Msg("Skills reloaded")
	}
	if w.onReload != nil {
		w.onReload(err)
	}
}

func (w *Watcher) close() {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	_ = w.watcher.Close()
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && shouldIgnore(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch path")
		}
		return nil
	})
}

// shouldIgnore skips dotfiles and editor swap files
func shouldIgnore(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp")
}
