package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"github.com/majorcontext/strata/internal/config"
	"github.com/majorcontext/strata/internal/exclude"
	"github.com/majorcontext/strata/internal/log"
)

// Watcher turns file events under the source paths into snapshot
// triggers. Changes accumulate until the tree has been quiet for the
// debounce period, or until the threshold of distinct changed paths is
// reached.
type Watcher struct {
	roots     []string
	excludes  *exclude.Set
	ignore    gitignore.Matcher
	threshold int
	debounce  time.Duration
	fire      func(reason string)
	quiet     *debouncer

	mu      sync.Mutex
	changed map[string]struct{}
	fsw     *fsnotify.Watcher
}

// NewWatcher returns a watcher over roots. fire is called with a short
// reason each time accumulated changes should become a snapshot.
func NewWatcher(roots []string, excludes *exclude.Set, cfg config.MonitorConfig, fire func(reason string)) *Watcher {
	var patterns []gitignore.Pattern
	for _, p := range append(append([]string(nil), config.DefaultMonitorIgnore...), cfg.IgnorePatterns...) {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(p, nil))
	}
	w := &Watcher{
		roots:     roots,
		excludes:  excludes,
		ignore:    gitignore.NewMatcher(patterns),
		threshold: cfg.Threshold,
		debounce:  cfg.Debounce.Duration(),
		fire:      fire,
		changed:   make(map[string]struct{}),
	}
	if w.debounce <= 0 {
		w.debounce = 30 * time.Second
	}
	w.quiet = newDebouncer(w.debounce, func() {
		w.flush(false, func(n int) string {
			return fmt.Sprintf("%d changes, quiet for %s", n, w.debounce)
		})
	})
	return w
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer fsw.Close()
	defer w.quiet.Stop()

	w.mu.Lock()
	w.fsw = fsw
	w.mu.Unlock()

	for _, root := range w.roots {
		w.addTree(root)
	}
	log.Info("watching for changes", "dirs", w.WatchedDirs(), "debounce", w.debounce, "threshold", w.threshold)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// Events were lost; the snapshot scan finds what changed.
				log.Warn("file watcher overflowed; triggering a snapshot")
				w.flush(true, func(int) string { return "event overflow" })
				continue
			}
			log.Warn("file watcher error", "error", err)
		}
	}
}

// Pending returns the number of distinct changed paths not yet flushed.
func (w *Watcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.changed)
}

// WatchedDirs returns how many directories are being watched.
func (w *Watcher) WatchedDirs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil {
		return 0
	}
	return len(w.fsw.WatchList())
}

func (w *Watcher) addTree(root string) {
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Debug("not watching unreadable path", "path", p, "error", err)
			if d != nil && d.IsDir() && p != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && w.skipDir(p) {
			return filepath.SkipDir
		}
		w.mu.Lock()
		err = w.fsw.Add(p)
		w.mu.Unlock()
		if err != nil {
			log.Debug("failed to watch directory", "path", p, "error", err)
		}
		return nil
	})
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	if w.excludes.IsIgnoreFile(filepath.Base(ev.Name)) {
		log.Debug("ignore file changed; reloading exclusion rules", "path", ev.Name)
		w.excludes.Reset()
	}
	isDir := false
	if ev.Has(fsnotify.Create) {
		if info, err := os.Lstat(ev.Name); err == nil && info.IsDir() {
			isDir = true
		}
	}
	if isDir {
		if w.skipDir(ev.Name) {
			return
		}
		w.addTree(ev.Name)
	} else if w.skipFile(ev.Name) {
		return
	}

	if n := w.record(ev.Name); w.threshold > 0 && n >= w.threshold {
		w.flush(false, func(n int) string { return fmt.Sprintf("change threshold (%d changes)", n) })
		return
	}
	w.quiet.Touch()
}

func (w *Watcher) record(path string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.changed[path] = struct{}{}
	return len(w.changed)
}

// flush clears the change set and fires once if it was non-empty or
// force is set.
func (w *Watcher) flush(force bool, reason func(n int) string) {
	w.mu.Lock()
	n := len(w.changed)
	if n == 0 && !force {
		w.mu.Unlock()
		return
	}
	w.changed = make(map[string]struct{})
	w.mu.Unlock()

	w.quiet.Stop()
	r := reason(n)
	log.Debug("change set flushed", "paths", n, "reason", r)
	w.fire(r)
}

func (w *Watcher) skipFile(abs string) bool {
	return w.ignored(abs, false) || w.excludes.Excluded(abs, false)
}

// skipDir reports whether nothing beneath dir can ever be backed up.
func (w *Watcher) skipDir(abs string) bool {
	if w.ignored(abs, true) {
		return true
	}
	if !w.excludes.Excluded(abs, true) {
		return false
	}
	for _, m := range w.excludes.Matchers() {
		if m.HasIncludes() {
			return false
		}
	}
	return true
}

func (w *Watcher) ignored(abs string, isDir bool) bool {
	for _, root := range w.roots {
		rel, err := filepath.Rel(root, abs)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return w.ignore.Match(strings.Split(filepath.ToSlash(rel), "/"), isDir)
	}
	return false
}
