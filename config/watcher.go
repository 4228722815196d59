package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"go.viam.com/motorctl/logging"
	"go.viam.com/motorctl/utils"
)

// DefaultWatchDebounce coalesces the bursts of events editors emit for a single save.
const DefaultWatchDebounce = 200 * time.Millisecond

// A Watcher rereads a config file after it changes and hands each valid result to a callback.
// Invalid configs are logged and skipped.
type Watcher struct {
	path     string
	logger   logging.Logger
	onChange func(*Config)
	watcher  *fsnotify.Watcher
	debounce func(func())
	workers  utils.StoppableWorkers

	mu     sync.Mutex
	closed bool
}

// NewWatcher starts watching filePath. Changes within debounceWindow of each other produce one
// reload.
func NewWatcher(filePath string, debounceWindow time.Duration, onChange func(*Config), logger logging.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(filePath)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "cannot create config watcher")
	}
	// editors replace files by rename, so the directory is watched instead of the file
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		//nolint:errcheck
		fsw.Close()
		return nil, errors.Wrapf(err, "cannot watch %q", filePath)
	}
	w := &Watcher{
		path:     abs,
		logger:   logger,
		onChange: onChange,
		watcher:  fsw,
		debounce: debounce.New(debounceWindow),
	}
	w.workers = utils.NewStoppableWorkers(w.watch)
	return w, nil
}

func (w *Watcher) watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.debounce(w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	cfg, err := Read(w.path)
	if err != nil {
		w.logger.Warnw("ignoring invalid config", "path", w.path, "error", err)
		return
	}
	w.logger.Infow("config reloaded", "path", w.path)
	w.onChange(cfg)
}

// Close stops watching. A reload already waiting out the debounce window is dropped.
func (w *Watcher) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.workers.Stop()
	return w.watcher.Close()
}
