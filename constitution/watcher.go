package constitution

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for more writes before reloading.
const DefaultDebounce = 250 * time.Millisecond

// Watcher keeps a rule set in sync with its source files. Readers call
// Current for an immutable snapshot; a reload swaps the snapshot atomically.
// A reload that fails keeps the previous snapshot.
type Watcher struct {
	paths    []string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	current atomic.Pointer[RuleSet]

	pendingMu sync.Mutex
	pending   bool

	// OnReload is called after every reload attempt, with the error if any.
	OnReload func(*RuleSet, error)
}

// NewWatcher loads the rule files and prepares a watcher on their directories.
// The initial load must succeed.
func NewWatcher(paths []string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	rules, err := LoadFiles(paths...)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &Watcher{
		paths:    paths,
		debounce: debounce,
		watcher:  fsw,
		logger:   logger,
	}
	w.current.Store(rules)

	// Editors often replace files, so the parent directory is watched.
	dirs := make(map[string]bool)
	for _, p := range paths {
		dirs[filepath.Dir(p)] = true
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	return w, nil
}

// Current returns the latest good rule set.
func (w *Watcher) Current() *RuleSet {
	return w.current.Load()
}

// Run processes file events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()
	defer w.watcher.Close()

	watched := make(map[string]bool, len(w.paths))
	for _, p := range w.paths {
		watched[filepath.Clean(p)] = true
	}

	w.logger.Info("Rule watcher started", "files", len(w.paths), "debounce", w.debounce)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !watched[filepath.Clean(event.Name)] {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.pendingMu.Lock()
				w.pending = true
				w.pendingMu.Unlock()
				w.logger.Debug("Rule file change detected", "path", event.Name, "op", event.Op.String())
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("Watcher error", "error", err)

		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Watcher) flush() {
	w.pendingMu.Lock()
	if !w.pending {
		w.pendingMu.Unlock()
		return
	}
	w.pending = false
	w.pendingMu.Unlock()

	w.Reload()
}

// Reload re-reads every rule file. On failure the previous snapshot stays.
func (w *Watcher) Reload() error {
	rules, err := LoadFiles(w.paths...)
	if err != nil {
		w.logger.Warn("Rule reload failed; keeping previous rules", "error", err)
	} else {
		w.current.Store(rules)
		w.logger.Info("Rules reloaded", "rules", rules.Len())
	}
	if w.OnReload != nil {
		w.OnReload(w.Current(), err)
	}
	return err
}
