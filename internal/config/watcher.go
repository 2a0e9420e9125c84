package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"novacore/internal/async"
	"novacore/internal/logging"
)

// Watcher reloads Runtime whenever the backing config file changes on
// disk, debounced so a burst of writes triggers one reload.
type Watcher struct {
	path         string
	opts         []Option
	logger       logging.Logger
	debounce     time.Duration
	beforeReload func()

	mu      sync.RWMutex
	current Runtime
	meta    Metadata
	updates chan Runtime

	watcher  *fsnotify.Watcher
	timer    *time.Timer
	stopCh   chan struct{}
	stopOnce sync.Once
}

// WatchOption customizes NewWatcher.
type WatchOption func(*Watcher)

// WithWatchDebounce sets the coalescing window for rapid file events.
func WithWatchDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithWatchLogger attaches a logger for reload activity.
func WithWatchLogger(l logging.Logger) WatchOption {
	return func(w *Watcher) { w.logger = logging.OrNop(l) }
}

// WithBeforeReload registers a hook invoked just before each reload.
func WithBeforeReload(fn func()) WatchOption {
	return func(w *Watcher) { w.beforeReload = fn }
}

// NewWatcher builds a Watcher over path, loading once synchronously with
// loadOpts before Start is called.
func NewWatcher(path string, loadOpts []Option, opts ...WatchOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		opts:     loadOpts,
		logger:   logging.NoopLogger{},
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
		updates:  make(chan Runtime, 1),
	}
	for _, opt := range opts {
		opt(w)
	}

	rt, meta, err := Load(append([]Option{WithConfigPath(path)}, w.opts...)...)
	if err != nil {
		return nil, err
	}
	w.current = rt
	w.meta = meta
	return w, nil
}

// Current returns the most recently loaded Runtime and its Metadata.
func (w *Watcher) Current() (Runtime, Metadata) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current, w.meta
}

// Updates streams each successfully reloaded Runtime.
func (w *Watcher) Updates() <-chan Runtime {
	return w.updates
}

// Start begins watching the config file's parent directory for changes.
// It returns once the underlying fsnotify watch is established; reload
// handling continues in the background until ctx is cancelled or Stop
// is called.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fw

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return err
	}

	async.Go(w.logger, "config.watch", w.watchLoop)
	async.Go(w.logger, "config.watch.ctx", func() {
		<-ctx.Done()
		w.Stop()
	})

	return nil
}

// Stop tears down the watcher. Safe to call multiple times.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		if w.watcher != nil {
			w.watcher.Close()
		}
	})
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(w.path) {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	w.scheduleReload()
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	if w.beforeReload != nil {
		w.beforeReload()
	}
	rt, meta, err := Load(append([]Option{WithConfigPath(w.path)}, w.opts...)...)
	if err != nil {
		w.logger.Warn("config reload failed: %v", err)
		return
	}
	w.mu.Lock()
	w.current = rt
	w.meta = meta
	w.mu.Unlock()

	select {
	case w.updates <- rt:
	default:
	}
	w.logger.Info("config reloaded from %s", w.path)
}
