// Package storage lays out strata's per-repository state on disk.
// Everything for one repository lives under <base>/repos/<name>.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Attempt records the outcome of the last snapshot attempt.
type Attempt struct {
	At          time.Time `json:"at"`
	OperationID string    `json:"operation_id,omitempty"`
	Trigger     string    `json:"trigger,omitempty"`
	SnapshotID  string    `json:"snapshot_id,omitempty"`
	// Stage is where a failed attempt stopped.
	Stage string `json:"stage,omitempty"`
	Error string `json:"error,omitempty"`
	// Partial is set when the snapshot exists but its metadata was not
	// recorded.
	Partial bool `json:"partial,omitempty"`
}

// Succeeded reports whether the attempt produced a snapshot.
func (a *Attempt) Succeeded() bool { return a != nil && a.SnapshotID != "" && a.Error == "" }

// State is the small JSON document kept next to the metadata database.
type State struct {
	LastAttempt *Attempt  `json:"last_attempt,omitempty"`
	LastSuccess time.Time `json:"last_success,omitempty"`
}

// RepoStore manages state for a single repository.
type RepoStore struct {
	dir  string
	name string
}

// NewRepoStore creates the repository directory under baseDir/repos if it
// doesn't exist. The directory is private to the user.
func NewRepoStore(baseDir, name string) (*RepoStore, error) {
	if name == "" {
		return nil, errors.New("repository name is required")
	}
	dir := filepath.Join(baseDir, "repos", name)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	return &RepoStore{dir: dir, name: name}, nil
}

// Name returns the repository name.
func (s *RepoStore) Name() string { return s.name }

// Dir returns the directory path for this repository's state.
func (s *RepoStore) Dir() string { return s.dir }

// MetadataPath is the SQLite metadata database.
func (s *RepoStore) MetadataPath() string { return filepath.Join(s.dir, "metadata.db") }

// LockPath is the cross-process write lock.
func (s *RepoStore) LockPath() string { return filepath.Join(s.dir, "write.lock") }

// SocketPath is the daemon control socket.
func (s *RepoStore) SocketPath() string { return filepath.Join(s.dir, "daemon.sock") }

// DaemonInfoPath records the running daemon's PID.
func (s *RepoStore) DaemonInfoPath() string { return filepath.Join(s.dir, "daemon.json") }

// DaemonLockPath is held by the running daemon for its whole lifetime.
func (s *RepoStore) DaemonLockPath() string { return filepath.Join(s.dir, "daemon.lock") }

func (s *RepoStore) statePath() string { return filepath.Join(s.dir, "state.json") }

// LoadState reads state.json. A missing file is an empty state.
func (s *RepoStore) LoadState() (State, error) {
	var st State
	data, err := os.ReadFile(s.statePath())
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("parsing %s: %w", s.statePath(), err)
	}
	return st, nil
}

// RecordAttempt stores a as the last attempt. Readers never observe a
// partially written file.
func (s *RepoStore) RecordAttempt(a Attempt) error {
	st, err := s.LoadState()
	if err != nil {
		st = State{}
	}
	st.LastAttempt = &a
	if a.Succeeded() {
		st.LastSuccess = a.At
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return WriteFileAtomic(s.statePath(), data, 0o600)
}

// WriteFileAtomic writes data to a temporary file in the same directory
// and renames it over path.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
