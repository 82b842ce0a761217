package proxy

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// RouteWatcher reloads the route table when its backing file changes on
// disk. The parent directory is watched rather than the file itself:
// atomic writers replace the file by rename, which would otherwise detach
// a file-level watch.
type RouteWatcher struct {
	routesPath   string
	watcher      *fsnotify.Watcher
	reloadFunc   func(string) error
	logger       *slog.Logger
	debounceTime time.Duration

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
}

// NewRouteWatcher builds a watcher that invokes reloadFunc with the route
// file path after each settled change.
func NewRouteWatcher(routesPath string, reloadFunc func(string) error, logger *slog.Logger) (*RouteWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &RouteWatcher{
		routesPath:   routesPath,
		watcher:      watcher,
		reloadFunc:   reloadFunc,
		logger:       logger,
		stopCh:       make(chan struct{}),
		debounceTime: time.Second,
	}, nil
}

// Start registers the directory watch and launches the event loop. Calling
// Start on a running watcher is a no-op.
func (w *RouteWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.routesPath)); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}

	w.logger.Info("watching route file", "path", w.routesPath)

	go w.loop(ctx)
	return nil
}

// Stop halts the event loop and releases the watch. Safe to call more than
// once.
func (w *RouteWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	return w.watcher.Close()
}

// IsRunning reports whether the event loop is active.
func (w *RouteWatcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

func (w *RouteWatcher) loop(ctx context.Context) {
	// Burst writes (editor save, rename dance) collapse into one reload per
	// debounce window.
	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.matchesRouteFile(event.Name) {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}

			w.logger.Debug("route file event", "op", event.Op.String(), "file", event.Name)
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(w.debounceTime, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("route watch error", "error", err)

		case <-w.stopCh:
			w.logger.Info("route watch stopped")
			return

		case <-ctx.Done():
			w.logger.Info("route watch cancelled")
			return
		}
	}
}

// matchesRouteFile filters out events for sibling files in the watched
// directory.
func (w *RouteWatcher) matchesRouteFile(name string) bool {
	eventPath, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	routesPath, err := filepath.Abs(w.routesPath)
	if err != nil {
		return false
	}
	return eventPath == routesPath
}

func (w *RouteWatcher) reload() {
	start := time.Now()
	if err := w.reloadFunc(w.routesPath); err != nil {
		w.logger.Error("route file reload failed", "error", err, "duration", time.Since(start))
		return
	}
	w.logger.Info("route file reloaded", "path", w.routesPath, "duration", time.Since(start))
}
