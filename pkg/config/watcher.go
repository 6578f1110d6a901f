package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads the config file when it changes on disk and notifies a
// callback with the freshly loaded configuration. Invalid edits are logged
// and skipped; the previous configuration stays in effect.
type Watcher struct {
	path    string
	logger  zerolog.Logger
	watcher *fsnotify.Watcher
}

// NewWatcher creates a watcher for the given config file path.
func NewWatcher(path string, logger zerolog.Logger) *Watcher {
	return &Watcher{
		path:   path,
		logger: logger.With().Str("component", "config-watcher").Logger(),
	}
}

// Watch starts watching the config file and calls reloadFn with each valid
// new configuration. It returns after the watch is established; watching
// stops when ctx is cancelled.
func (w *Watcher) Watch(ctx context.Context, reloadFn func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	w.watcher = watcher

	// Watch the directory rather than the file itself so the watch
	// survives editors that replace the file on save.
	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go w.processEvents(ctx, reloadFn)

	w.logger.Info().Str("path", w.path).Msg("Started watching config file")
	return nil
}

// processEvents processes file system events and triggers debounced reloads.
func (w *Watcher) processEvents(ctx context.Context, reloadFn func(*Config)) {
	var reloadTimer *time.Timer
	reloadDelay := 500 * time.Millisecond

	target, _ := filepath.Abs(w.path)

	for {
		select {
		case <-ctx.Done():
			_ = w.watcher.Close()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			name, _ := filepath.Abs(event.Name)
			if name != target {
				continue
			}

			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Config file changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				cfg, err := Load(w.path)
				if err != nil {
					w.logger.Warn().Err(err).Msg("Ignoring invalid config change")
					return
				}
				w.logger.Info().Msg("Config reloaded")
				reloadFn(cfg)
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Config watcher error")
		}
	}
}
