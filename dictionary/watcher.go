package dictionary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/arloliu/urlstate/errs"
	"github.com/arloliu/urlstate/internal/options"
)

// DefaultWatchDebounce is how long a dictionary file must stay quiet before it is loaded.
const DefaultWatchDebounce = 200 * time.Millisecond

// Watcher registers dictionary files as a content-pack publisher drops them into a directory.
//
// Files are loaded once their writes have settled for the debounce window.
// A file whose id+version is already registered with different contents is
// rejected by the Registry and logged; published dictionaries are never replaced.
type Watcher struct {
	dir      string
	reg      *Registry
	debounce time.Duration
	logger   *slog.Logger

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
	started  atomic.Bool

	loaded   atomic.Int64
	rejected atomic.Int64
}

// WatcherOption configures a Watcher.
type WatcherOption = options.Option[*Watcher]

// WithWatchDebounce sets the quiet period before a changed file is loaded.
func WithWatchDebounce(d time.Duration) WatcherOption {
	return options.New(func(w *Watcher) error {
		if d <= 0 {
			return errors.New("debounce must be positive")
		}
		w.debounce = d

		return nil
	})
}

// WithWatchLogger sets the watcher's logger.
func WithWatchLogger(logger *slog.Logger) WatcherOption {
	return options.NoError(func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	})
}

// NewWatcher creates a watcher for dir that registers into reg.
// Call Start to begin watching.
func NewWatcher(dir string, reg *Registry, opts ...WatcherOption) (*Watcher, error) {
	if reg == nil {
		return nil, fmt.Errorf("%w: nil registry", errs.ErrInvalidConfig)
	}

	w := &Watcher{
		dir:      dir,
		reg:      reg,
		debounce: DefaultWatchDebounce,
		logger:   slog.Default(),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	if err := options.Apply(w, opts...); err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w.watcher = fw

	return w, nil
}

// Start loads the files already present and then watches for new ones until
// ctx is canceled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		w.Stop()

		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	n, err := LoadDir(w.dir, w.reg)
	w.loaded.Add(int64(n))
	if err != nil {
		w.logger.Warn("dictionary directory contains invalid files", "dir", w.dir, "error", err)
	}

	w.started.Store(true)
	go w.loop(ctx)

	return nil
}

// Stop ends watching and waits for the loop to exit. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()
	})
	if w.started.Load() {
		<-w.stopped
	}
}

// Loaded returns how many file loads succeeded, including unchanged rewrites.
func (w *Watcher) Loaded() int64 {
	return w.loaded.Load()
}

// Rejected returns how many files failed to load or register.
func (w *Watcher) Rejected() int64 {
	return w.rejected.Load()
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.stopped)
	defer w.watcher.Close()

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !IsDictionaryFile(ev.Name) || ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			pending[ev.Name] = struct{}{}
			timer.Reset(w.debounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("dictionary watcher error", "dir", w.dir, "error", err)

		case <-timer.C:
			for path := range pending {
				w.load(path)
			}
			clear(pending)
		}
	}
}

func (w *Watcher) load(path string) {
	d, err := LoadFile(path)
	if err == nil {
		err = w.reg.Register(d)
	}
	if err != nil {
		w.rejected.Add(1)
		w.logger.Warn("dictionary file rejected", "path", path, "error", err)

		return
	}
	w.loaded.Add(1)
}
