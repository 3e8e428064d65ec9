package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/arloliu/go-astm/logger"
	"github.com/arloliu/go-astm/store"
)

// DefaultDebounce is the quiet period after the last file event before the
// catalog is reloaded.
const DefaultDebounce = 100 * time.Millisecond

// Watcher reloads a catalog file when it changes on disk.
type Watcher struct {
	path     string
	onChange func(*store.Catalog)
	logger   logger.Logger
	debounce time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	reloads sync.WaitGroup
}

// NewWatcher creates a watcher for path. onChange is called with every
// successfully parsed version of the file; parse errors are logged and the
// previous catalog stays in effect.
func NewWatcher(path string, onChange func(*store.Catalog), l logger.Logger) *Watcher {
	if l == nil {
		l = logger.GetLogger()
	}

	return &Watcher{
		path:     path,
		onChange: onChange,
		logger:   l,
		debounce: DefaultDebounce,
	}
}

// Run watches the directory of the catalog file until ctx is done. The
// directory is watched rather than the file so that editors replacing the
// file by rename are seen. Run returns after a reload in progress has
// finished.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("catalog: create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("catalog: watch %s: %w", dir, err)
	}

	name := filepath.Base(w.path)
	w.logger.Info("catalog: watching for changes", "path", w.path)

	defer w.stopReloads()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("catalog: watcher error", "error", err)
		}
	}
}

func (w *Watcher) scheduleReload(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil && w.timer.Stop() {
		w.reloads.Done()
	}

	w.reloads.Add(1)
	w.timer = time.AfterFunc(w.debounce, func() {
		defer w.reloads.Done()

		if ctx.Err() != nil {
			return
		}
		w.reload()
	})
}

// stopReloads cancels a pending reload and waits for a running one.
func (w *Watcher) stopReloads() {
	w.mu.Lock()
	if w.timer != nil && w.timer.Stop() {
		w.reloads.Done()
	}
	w.timer = nil
	w.mu.Unlock()

	w.reloads.Wait()
}

func (w *Watcher) reload() {
	cat, err := Load(w.path)
	if err != nil {
		w.logger.Error("catalog: reload failed, keeping previous catalog", "error", err)

		return
	}

	w.logger.Info("catalog: reloaded",
		"templates", len(cat.Templates),
		"positions", len(cat.Positions),
		"patients", len(cat.Patients),
	)

	w.onChange(cat)
}

// Watch is a convenience for NewWatcher(path, onChange, l).Run(ctx).
func Watch(ctx context.Context, path string, onChange func(*store.Catalog), l logger.Logger) error {
	return NewWatcher(path, onChange, l).Run(ctx)
}
