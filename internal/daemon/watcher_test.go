package daemon

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/majorcontext/strata/internal/config"
	"github.com/majorcontext/strata/internal/exclude"
)

func startWatcher(t *testing.T, root string, cfg config.MonitorConfig) (*Watcher, <-chan string) {
	t.Helper()
	set := exclude.NewSet([]string{root}, exclude.Options{Excludes: []string{"build/"}})
	fired := make(chan string, 16)
	w := NewWatcher([]string{root}, set, cfg, func(reason string) { fired <- reason })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	})

	deadline := time.Now().Add(2 * time.Second)
	for w.WatchedDirs() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("watcher did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return w, fired
}

func waitFired(t *testing.T, fired <-chan string) string {
	t.Helper()
	select {
	case r := <-fired:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a trigger")
	}
	return ""
}

func assertQuiet(t *testing.T, fired <-chan string, d time.Duration) {
	t.Helper()
	select {
	case r := <-fired:
		t.Fatalf("unexpected trigger %q", r)
	case <-time.After(d):
	}
}

func write(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher_Debounce(t *testing.T) {
	root := t.TempDir()
	cfg := config.MonitorConfig{Debounce: config.Interval(50 * time.Millisecond), Threshold: 100}
	w, fired := startWatcher(t, root, cfg)

	write(t, filepath.Join(root, "a.txt"))
	reason := waitFired(t, fired)
	if !strings.Contains(reason, "quiet for 50ms") {
		t.Errorf("reason = %q", reason)
	}
	if n := w.Pending(); n != 0 {
		t.Errorf("Pending = %d after flush, want 0", n)
	}
}

func TestWatcher_Threshold(t *testing.T) {
	root := t.TempDir()
	cfg := config.MonitorConfig{Debounce: config.Interval(time.Hour), Threshold: 3}
	_, fired := startWatcher(t, root, cfg)

	for _, name := range []string{"a", "b", "c"} {
		write(t, filepath.Join(root, name))
	}
	reason := waitFired(t, fired)
	if reason != "change threshold (3 changes)" {
		t.Errorf("reason = %q", reason)
	}
}

func TestWatcher_IgnoresExcludedAndNoise(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "build"), 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := config.MonitorConfig{
		Debounce:       config.Interval(50 * time.Millisecond),
		Threshold:      100,
		IgnorePatterns: []string{"*.bak"},
	}
	w, fired := startWatcher(t, root, cfg)

	write(t, filepath.Join(root, "build", "out.o"))
	write(t, filepath.Join(root, "edit.swp"))
	write(t, filepath.Join(root, "old.bak"))
	assertQuiet(t, fired, 300*time.Millisecond)
	if n := w.Pending(); n != 0 {
		t.Errorf("Pending = %d, want 0", n)
	}

	write(t, filepath.Join(root, "notes.md"))
	waitFired(t, fired)
}

func TestWatcher_NewDirectories(t *testing.T) {
	root := t.TempDir()
	cfg := config.MonitorConfig{Debounce: config.Interval(50 * time.Millisecond), Threshold: 100}
	w, fired := startWatcher(t, root, cfg)
	before := w.WatchedDirs()

	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	waitFired(t, fired)
	if got := w.WatchedDirs(); got != before+1 {
		t.Errorf("WatchedDirs = %d, want %d", got, before+1)
	}

	write(t, filepath.Join(root, "sub", "f.txt"))
	waitFired(t, fired)
}

func TestWatcher_ReloadsRulesWhenIgnoreFileChanges(t *testing.T) {
	root := t.TempDir()
	set := exclude.NewSet([]string{root}, exclude.Options{})
	cfg := config.MonitorConfig{Debounce: config.Interval(time.Hour), Threshold: 100}
	w := NewWatcher([]string{root}, set, cfg, func(string) {})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	deadline := time.Now().Add(2 * time.Second)
	for w.WatchedDirs() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("watcher did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}

	logFile := filepath.Join(root, "debug.log")
	if set.Excluded(logFile, false) {
		t.Fatal("debug.log excluded before any rule exists")
	}

	if err := os.WriteFile(filepath.Join(root, exclude.DefaultIgnoreFile), []byte("*.log\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	deadline = time.Now().Add(3 * time.Second)
	for !set.Excluded(logFile, false) {
		if time.Now().After(deadline) {
			t.Fatal("new ignore file was not picked up")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
