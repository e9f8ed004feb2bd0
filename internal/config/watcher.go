package config

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/codefionn/relayd/internal/logger"
)

// Watcher reloads the config file when it changes on disk and hands the new
// configuration to a callback. Only runtime tunables (log level, queue
// capacity) are meant to be applied live; the listen settings need a restart.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onReload func(*Config)
	stop     chan struct{}
}

// NewWatcher watches the parent directory of path, so the common
// write-rename dance editors and config tools perform is still observed.
func NewWatcher(path string, onReload func(*Config)) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}

	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	w := &Watcher{
		path:     path,
		watcher:  fsWatcher,
		onReload: onReload,
		stop:     make(chan struct{}),
	}
	go w.run()

	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.stop:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Load(w.path)
			if err != nil {
				logger.Warn("Config reload failed, keeping previous values: %v", err)
				continue
			}
			logger.Info("Config file changed, reloading")
			w.onReload(cfg)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Error("Config watcher error: %v", err)
		}
	}
}

// Close stops watching
func (w *Watcher) Close() error {
	close(w.stop)
	return w.watcher.Close()
}
