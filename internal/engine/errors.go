package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Restic exit codes with a documented meaning.
const (
	exitFatal       = 1
	exitIncomplete  = 3
	exitNoRepo      = 10
	exitLockFailed  = 11
	exitWrongPass   = 12
	exitInterrupted = 130
)

// ErrRepositoryNotFound is returned when the configured repository does
// not exist.
var ErrRepositoryNotFound = errors.New("repository does not exist")

// ErrWrongPassword is returned when the engine rejects the credentials.
var ErrWrongPassword = errors.New("repository password is incorrect")

// ExitError is a non-zero exit from the engine. Stderr is the engine's
// diagnostic text, unmodified.
type ExitError struct {
	Op     string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("restic %s exited with code %d", e.Op, e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// Unwrap maps the documented exit codes onto sentinel errors.
func (e *ExitError) Unwrap() error {
	switch e.Code {
	case exitNoRepo:
		return ErrRepositoryNotFound
	case exitWrongPass:
		return ErrWrongPassword
	}
	return nil
}

// BackupFailedError is a failed backup. SnapshotID is set when the engine
// wrote a snapshot but could not read every source file.
type BackupFailedError struct {
	Exit       *ExitError
	SnapshotID string
}

func (e *BackupFailedError) Error() string {
	if e.SnapshotID != "" {
		return fmt.Sprintf("backup failed (incomplete snapshot %s): %v", e.SnapshotID, e.Exit)
	}
	return fmt.Sprintf("backup failed: %v", e.Exit)
}

func (e *BackupFailedError) Unwrap() error { return e.Exit }

// RestoreFailedError is a failed restore.
type RestoreFailedError struct {
	SnapshotID string
	Target     string
	Err        error
}

func (e *RestoreFailedError) Error() string {
	return fmt.Sprintf("restore of %s to %s failed: %v", e.SnapshotID, e.Target, e.Err)
}

func (e *RestoreFailedError) Unwrap() error { return e.Err }

// LockHeldError means another process holds the repository lock. Callers
// may wait and retry, or clear a stale lock with Unlock.
type LockHeldError struct {
	Op  string
	Err error
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("repository is locked (%s): %v\n\n  If no other backup is running, clear the stale lock with: strata unlock", e.Op, e.Err)
}

func (e *LockHeldError) Unwrap() error { return e.Err }

// IsLockHeld reports whether err is lock contention.
func IsLockHeld(err error) bool {
	var lh *LockHeldError
	return errors.As(err, &lh)
}
