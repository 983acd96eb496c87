package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewRepoStore(t *testing.T) {
	dir := t.TempDir()
	s, err := NewRepoStore(dir, "documents")
	if err != nil {
		t.Fatalf("NewRepoStore: %v", err)
	}
	if s.Name() != "documents" {
		t.Errorf("Name = %q, want %q", s.Name(), "documents")
	}

	repoDir := filepath.Join(dir, "repos", "documents")
	info, err := os.Stat(repoDir)
	if err != nil {
		t.Fatalf("repository directory was not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o700 {
		t.Errorf("directory mode = %o, want 700", perm)
	}
	if s.MetadataPath() != filepath.Join(repoDir, "metadata.db") {
		t.Errorf("MetadataPath = %q", s.MetadataPath())
	}
	if s.SocketPath() != filepath.Join(repoDir, "daemon.sock") {
		t.Errorf("SocketPath = %q", s.SocketPath())
	}

	if _, err := NewRepoStore(dir, ""); err == nil {
		t.Error("empty name should be rejected")
	}
}

func TestRepoStoreState(t *testing.T) {
	s, _ := NewRepoStore(t.TempDir(), "docs")

	st, err := s.LoadState()
	if err != nil {
		t.Fatalf("LoadState on empty store: %v", err)
	}
	if st.LastAttempt != nil {
		t.Errorf("LastAttempt = %+v, want nil", st.LastAttempt)
	}

	ok := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := s.RecordAttempt(Attempt{At: ok, SnapshotID: "abc123", Trigger: "manual"}); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}
	failed := ok.Add(time.Hour)
	if err := s.RecordAttempt(Attempt{At: failed, Stage: "backing_up", Error: "restic exited with code 1"}); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}

	st, err = s.LoadState()
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if st.LastAttempt == nil || st.LastAttempt.Stage != "backing_up" {
		t.Errorf("LastAttempt = %+v, want the failed attempt", st.LastAttempt)
	}
	if !st.LastSuccess.Equal(ok) {
		t.Errorf("LastSuccess = %v, want %v", st.LastSuccess, ok)
	}

	// No temp files are left behind.
	entries, _ := os.ReadDir(s.Dir())
	for _, e := range entries {
		if e.Name() != "state.json" {
			t.Errorf("unexpected file %s", e.Name())
		}
	}
}

func TestRepoStoreCorruptState(t *testing.T) {
	s, _ := NewRepoStore(t.TempDir(), "docs")
	os.WriteFile(filepath.Join(s.Dir(), "state.json"), []byte("{"), 0o600)

	if _, err := s.LoadState(); err == nil {
		t.Error("expected parse error")
	}
	// A corrupt file is replaced rather than blocking new attempts.
	if err := s.RecordAttempt(Attempt{At: time.Now(), SnapshotID: "x"}); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}
	if _, err := s.LoadState(); err != nil {
		t.Errorf("LoadState after rewrite: %v", err)
	}
}
