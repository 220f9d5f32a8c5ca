package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher watches the gateway table file and invokes onChange after edits
// settle. Editors and orchestrators typically replace config files with a
// rename or a remove+create, so the parent directory is watched rather than
// the file itself.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func()
	logger   *zap.Logger
}

// NewWatcher creates a Watcher for the given file path
func NewWatcher(path string, debounce time.Duration, logger *zap.Logger, onChange func()) *Watcher {
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	return &Watcher{
		path:     filepath.Clean(path),
		debounce: debounce,
		onChange: onChange,
		logger:   logger,
	}
}

// Run watches until the context is canceled. Watcher errors are logged and
// watching continues; only setup failures are returned.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	w.logger.Info("watching gateway config", zap.String("path", w.path))

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			timerC = timer.C

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", zap.Error(err))

		case <-timerC:
			timer = nil
			timerC = nil
			w.logger.Info("gateway config changed", zap.String("path", w.path))
			w.onChange()
		}
	}
}
