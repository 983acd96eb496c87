package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/majorcontext/strata/internal/storage"
)

// ErrNotRunning is returned by Connect when no live daemon serves the
// repository.
var ErrNotRunning = errors.New("no strata daemon is running for this repository (start one with: strata daemon)")

// Info describes a running daemon. It is written next to the socket.
type Info struct {
	PID        int       `json:"pid"`
	SockPath   string    `json:"sock_path"`
	Repository string    `json:"repository"`
	StartedAt  time.Time `json:"started_at"`
}

// IsAlive reports whether the daemon process still exists.
func (i *Info) IsAlive() bool {
	process, err := os.FindProcess(i.PID)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// WriteInfo atomically writes the info file at path.
func WriteInfo(path string, info Info) error {
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now()
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return storage.WriteFileAtomic(path, data, 0o600)
}

// ReadInfo reads the info file. It returns nil, nil when there is none.
func ReadInfo(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parsing daemon info: %w", err)
	}
	return &info, nil
}

// RemoveInfo deletes the info file.
func RemoveInfo(path string) {
	os.Remove(path)
}

// Connect returns a client for the repository's running daemon. Info left
// behind by a daemon that died is removed.
func Connect(repo *storage.RepoStore) (*Client, *Info, error) {
	info, err := ReadInfo(repo.DaemonInfoPath())
	if err != nil {
		return nil, nil, err
	}
	if info == nil {
		return nil, nil, ErrNotRunning
	}
	if !info.IsAlive() {
		RemoveInfo(repo.DaemonInfoPath())
		return nil, nil, ErrNotRunning
	}
	return NewClient(info.SockPath), info, nil
}
