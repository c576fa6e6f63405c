package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher keeps a live view of the active sessions by watching the registry
// directory. fsnotify is preferred; a polling rescan runs regardless, both as
// a fallback and because liveness can change without any file event (the
// owning process dying leaves the descriptor untouched).
type Watcher struct {
	registry *Registry
	interval time.Duration
	logger   *zap.Logger

	mu        sync.RWMutex
	active    []*Descriptor
	callbacks []func([]*Descriptor)
}

// NewWatcher creates a watcher over the given registry.
func NewWatcher(registry *Registry, interval time.Duration, logger *zap.Logger) *Watcher {
	if interval < time.Second {
		interval = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		registry: registry,
		interval: interval,
		logger:   logger,
	}
}

// OnUpdate registers a callback invoked with the new active set after each
// rescan that changed it.
func (w *Watcher) OnUpdate(callback func([]*Descriptor)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Active returns the last observed active sessions.
func (w *Watcher) Active() []*Descriptor {
	w.mu.RLock()
	defer w.mu.RUnlock()
	result := make([]*Descriptor, len(w.active))
	copy(result, w.active)
	return result
}

// Start begins watching until ctx is done.
func (w *Watcher) Start(ctx context.Context) {
	notify := make(chan struct{}, 1)

	if watcher, err := fsnotify.NewWatcher(); err == nil {
		if err := watcher.Add(w.registry.Dir()); err == nil {
			go w.relayEvents(ctx, watcher, notify)
		} else {
			w.logger.Debug("session directory not watchable, polling only", zap.Error(err))
			watcher.Close()
		}
	} else {
		w.logger.Debug("fsnotify unavailable, polling only", zap.Error(err))
	}

	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		w.rescan()
		for {
			select {
			case <-ctx.Done():
				return
			case <-notify:
				w.rescan()
			case <-ticker.C:
				w.rescan()
			}
		}
	}()
}

func (w *Watcher) relayEvents(ctx context.Context, watcher *fsnotify.Watcher, notify chan<- struct{}) {
	defer watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			select {
			case notify <- struct{}{}:
			default:
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("session watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) rescan() {
	active, err := w.registry.FindActiveSessions()
	if err != nil {
		w.logger.Warn("session rescan failed", zap.Error(err))
		return
	}

	w.mu.Lock()
	changed := len(active) != len(w.active)
	if !changed {
		for i := range active {
			if active[i].ProjectName != w.active[i].ProjectName || active[i].PID != w.active[i].PID {
				changed = true
				break
			}
		}
	}
	w.active = active
	callbacks := w.callbacks
	w.mu.Unlock()

	if changed {
		for _, callback := range callbacks {
			callback(active)
		}
	}
}
