package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/visionflow/visionflow/pkg/telemetry"
)

// Watcher reloads the configuration file on change. It is a development
// aid; the engine itself reads settings once at graph-build time and never
// observes reloads.
type Watcher struct {
	path    string
	logger  *telemetry.Logger
	watcher *fsnotify.Watcher
}

// NewWatcher creates a watcher for a configuration file.
func NewWatcher(path string, logger *telemetry.Logger) *Watcher {
	return &Watcher{path: path, logger: logger}
}

// Watch reloads and revalidates the file on write, invoking onReload with
// the result. It blocks until the context is cancelled.
func (w *Watcher) Watch(ctx context.Context, onReload func(*Config, error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	w.watcher = watcher
	defer watcher.Close()

	if err := watcher.Add(w.path); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}

	w.logger.WithField("path", w.path).Info("Watching configuration file")

	// Debounce editor write bursts.
	var reloadTimer *time.Timer
	reloadDelay := 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, ".yaml") && !strings.HasSuffix(event.Name, ".yml") {
				continue
			}
			w.logger.WithField("file", event.Name).Debug("Configuration file changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				onReload(Load(w.path))
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("Configuration watcher error")
		}
	}
}
