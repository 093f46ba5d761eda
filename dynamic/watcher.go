// Package dynamic watches plugin directories for changes to manifests,
// bundles, and migration scripts, and notifies the host so a plugin can be
// reloaded without restarting the process.
package dynamic

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the debounce duration for file change events.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithLogger sets the logger for the watcher.
func WithLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = l
	}
}

// OnChange is invoked with the plugin directory name after its files settle.
type OnChange func(pluginDir string)

// Watcher monitors a plugins directory tree for changes. Events for the same
// plugin within the debounce window coalesce into one notification.
type Watcher struct {
	root     string
	onChange OnChange
	debounce time.Duration
	logger   *slog.Logger

	fsWatcher *fsnotify.Watcher
	done      chan struct{}
	wg        sync.WaitGroup

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewWatcher creates a watcher over the plugins root directory. Each
// immediate subdirectory is treated as one plugin.
func NewWatcher(root string, onChange OnChange, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		root:     root,
		onChange: onChange,
		debounce: 300 * time.Millisecond,
		logger:   slog.Default(),
		pending:  make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. It watches the root and every existing plugin
// subdirectory; subdirectories created later are picked up automatically.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	w.fsWatcher = fsw
	w.done = make(chan struct{})

	if err := fsw.Add(w.root); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch %s: %w", w.root, err)
	}
	entries, err := os.ReadDir(w.root)
	if err != nil {
		_ = fsw.Close()
		return fmt.Errorf("read %s: %w", w.root, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			if err := fsw.Add(filepath.Join(w.root, entry.Name())); err != nil {
				w.logger.Warn("failed to watch plugin directory", "dir", entry.Name(), "error", err)
			}
		}
	}

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop stops watching and waits for the event loop to exit. Safe to call
// more than once, or without a prior Start.
func (w *Watcher) Stop() {
	if w.fsWatcher == nil {
		return
	}
	close(w.done)
	w.wg.Wait()
	_ = w.fsWatcher.Close()
	w.fsWatcher = nil

	w.mu.Lock()
	for _, t := range w.pending {
		t.Stop()
	}
	w.pending = make(map[string]*time.Timer)
	w.mu.Unlock()
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}

	// A directory created directly under the root is a new plugin; start
	// watching its contents.
	if ev.Op.Has(fsnotify.Create) && !strings.Contains(rel, string(filepath.Separator)) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.fsWatcher.Add(ev.Name); err != nil {
				w.logger.Warn("failed to watch new plugin directory", "dir", rel, "error", err)
			}
		}
	}

	if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
		return
	}
	if !relevantFile(rel) {
		return
	}

	pluginDir := strings.SplitN(rel, string(filepath.Separator), 2)[0]
	w.schedule(pluginDir)
}

// relevantFile reports whether a changed path matters for plugin reload:
// manifests, UI bundles, and migration scripts.
func relevantFile(rel string) bool {
	base := filepath.Base(rel)
	switch base {
	case "plugin.yaml", "plugin.yml", "plugin.json":
		return true
	}
	switch filepath.Ext(base) {
	case ".sql", ".js":
		return true
	}
	// Directory-level events (no extension) also count: new plugin dirs.
	return !strings.Contains(rel, string(filepath.Separator)) && filepath.Ext(base) == ""
}

func (w *Watcher) schedule(pluginDir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[pluginDir]; ok {
		t.Reset(w.debounce)
		return
	}
	w.pending[pluginDir] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, pluginDir)
		w.mu.Unlock()

		w.logger.Info("plugin changed on disk", "plugin", pluginDir)
		if w.onChange != nil {
			w.onChange(pluginDir)
		}
	})
}
