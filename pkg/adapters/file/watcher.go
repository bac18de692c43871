package file

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aretw0/cocoon/internal/logging"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce groups bursts of filesystem events into one signal.
const DefaultDebounce = 100 * time.Millisecond

// Watcher implements ports.Watchable for a directory tree.
type Watcher struct {
	dir      string
	debounce time.Duration
	logger   *slog.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the debounce delay.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = logger }
}

// NewWatcher watches dir and its subdirectories.
func NewWatcher(dir string, opts ...WatcherOption) *Watcher {
	w := &Watcher{dir: dir, debounce: DefaultDebounce, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch signals the returned channel after files change. The channel is
// closed when ctx is done.
func (w *Watcher) Watch(ctx context.Context) (<-chan struct{}, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	err = filepath.WalkDir(w.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(p)
		}
		return nil
	})
	if err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("could not watch %s: %w", w.dir, err)
	}

	out := make(chan struct{}, 1)
	go w.run(ctx, fw, out)
	return out, nil
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher, out chan<- struct{}) {
	defer close(out)
	defer fw.Close()

	var timerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-timerC:
			timerC = nil
			select {
			case out <- struct{}{}:
			default: // a signal is already pending
			}
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			w.logger.Debug("watch event", "name", event.Name, "op", event.Op.String())
			if event.Has(fsnotify.Create) {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
					_ = fw.Add(event.Name)
				}
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 && timerC == nil {
				timerC = time.After(w.debounce)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "err", err)
		}
	}
}
