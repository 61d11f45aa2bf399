// Package watch reruns a function when watched files change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for changes to settle.
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches directories and files and calls a function once per
// burst of changes.
type Watcher struct {
	dirs     map[string]bool
	files    map[string]bool
	fn       func(context.Context) error
	debounce time.Duration
	log      *slog.Logger
	watcher  *fsnotify.Watcher
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period after the last change before the
// function runs.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger for changes and callback failures.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// New returns a watcher of paths. A directory path matches every change
// inside it. A file path matches changes of that file only, which also
// covers editors that replace the file. Empty paths are ignored.
func New(paths []string, fn func(context.Context) error, opts ...Option) (*Watcher, error) {
	w := &Watcher{
		dirs:     make(map[string]bool),
		files:    make(map[string]bool),
		fn:       fn,
		debounce: DefaultDebounce,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create watcher: %w", err)
	}
	w.watcher = watcher
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := w.add(p); err != nil {
			watcher.Close()
			return nil, err
		}
	}
	if len(w.dirs) == 0 && len(w.files) == 0 {
		watcher.Close()
		return nil, errors.New("watch: no paths to watch")
	}
	return w, nil
}

func (w *Watcher) add(p string) error {
	abs, err := filepath.Abs(p)
	if err != nil {
		return fmt.Errorf("watch: resolve %s: %w", p, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	dir := abs
	if info.IsDir() {
		w.dirs[abs] = true
	} else {
		w.files[abs] = true
		dir = filepath.Dir(abs)
	}
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch: add %s: %w", dir, err)
	}
	return nil
}

// matches reports whether a change of name is relevant.
func (w *Watcher) matches(name string) bool {
	abs, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	return w.files[abs] || w.dirs[filepath.Dir(abs)]
}

// Run calls the function once, then again after every burst of relevant
// changes, until ctx is done. Failures of the function are logged and do
// not stop the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	w.call(ctx)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	var debounceCh <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op == fsnotify.Chmod || !w.matches(event.Name) {
				continue
			}
			w.log.DebugContext(ctx, "change detected", "path", event.Name, "op", event.Op.String())
			timer.Reset(w.debounce)
			debounceCh = timer.C

		case <-debounceCh:
			debounceCh = nil
			w.call(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.ErrorContext(ctx, "watch error", "error", err)
		}
	}
}

func (w *Watcher) call(ctx context.Context) {
	if err := w.fn(ctx); err != nil {
		w.log.ErrorContext(ctx, "watch callback failed", "error", err)
	}
}
