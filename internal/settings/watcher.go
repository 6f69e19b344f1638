// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package settings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/jeranaias/privatepdf/internal/events"
)

// =============================================================================
// SETTINGS WATCHER
// =============================================================================

// defaultDebounce collapses the burst of write events most editors and
// atomic-save implementations produce into a single notification.
const defaultDebounce = 200 * time.Millisecond

// Watcher observes the settings file and emits a settings-changed event
// with the freshly loaded settings whenever it is written.
type Watcher struct {
	store    *Store
	watcher  *fsnotify.Watcher
	sink     events.Sink
	debounce time.Duration
	log      *zap.Logger

	mu      sync.Mutex
	pending *time.Timer

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher creates a watcher for the store's settings file. The
// containing directory is watched rather than the file itself so that
// atomic rename-over saves are still observed.
func NewWatcher(store *Store, sink events.Sink, log *zap.Logger) (*Watcher, error) {
	if sink == nil {
		sink = events.Discard
	}
	if log == nil {
		log = zap.NewNop()
	}

	dir := filepath.Dir(store.Path())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create app data directory: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	return &Watcher{
		store:    store,
		watcher:  fw,
		sink:     sink,
		debounce: defaultDebounce,
		log:      log,
		done:     make(chan struct{}),
	}, nil
}

// Start launches the watch loop. It returns immediately.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.loop(ctx)
}

// Stop shuts the watcher down and waits for the loop to exit. It is safe
// to call on a watcher that was never started.
func (w *Watcher) Stop() {
	w.watcher.Close()
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}

	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.mu.Unlock()
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != settingsFileName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleNotify()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("settings watcher error", zap.Error(err))
		}
	}
}

// scheduleNotify arms (or re-arms) the debounce timer.
func (w *Watcher) scheduleNotify() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.debounce, w.notify)
}

func (w *Watcher) notify() {
	settings, err := w.store.Load()
	if err != nil {
		w.log.Warn("failed to reload settings after change", zap.Error(err))
		return
	}
	w.log.Info("settings file changed", zap.String("path", w.store.Path()))
	w.sink.Emit(events.SettingsChanged, settings)
}
