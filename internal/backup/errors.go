package backup

import (
	"errors"
	"fmt"
)

// Stage is a step of a snapshot operation.
type Stage string

const (
	StageValidating Stage = "validating"
	StageBackingUp  Stage = "backing_up"
	StageRecording  Stage = "recording_metadata"
	StageDone       Stage = "done"
)

// SourceNotFoundError means a configured source path is missing or
// unreadable. It is reported before the engine is invoked.
type SourceNotFoundError struct {
	Path string
	Err  error
}

func (e *SourceNotFoundError) Error() string {
	return fmt.Sprintf("source path %s: %v", e.Path, e.Err)
}

func (e *SourceNotFoundError) Unwrap() error { return e.Err }

// StageError is a snapshot operation that failed at Stage.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("snapshot failed while %s: %v", e.Stage.describe(), e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func (s Stage) describe() string {
	switch s {
	case StageValidating:
		return "validating sources"
	case StageBackingUp:
		return "backing up"
	case StageRecording:
		return "recording metadata"
	}
	return string(s)
}

// ReconciliationNeededError is a partial success: the snapshot exists in
// the repository but its local metadata could not be recorded.
type ReconciliationNeededError struct {
	SnapshotID string
	Err        error
}

func (e *ReconciliationNeededError) Error() string {
	return fmt.Sprintf("snapshot %s was created but its metadata was not recorded: %v\n\n  The data is safely backed up. The snapshot is listed as untracked until metadata is restored.", e.SnapshotID, e.Err)
}

func (e *ReconciliationNeededError) Unwrap() error { return e.Err }

// IsPartial reports whether err is a ReconciliationNeededError.
func IsPartial(err error) bool {
	var rn *ReconciliationNeededError
	return errors.As(err, &rn)
}

// InvalidTagError rejects a tag the reference resolver could never reach.
type InvalidTagError struct {
	Tag    string
	Reason string
}

func (e *InvalidTagError) Error() string {
	return fmt.Sprintf("invalid tag %q: %s", e.Tag, e.Reason)
}

// ErrTargetNotEmpty is returned by Restore when the target directory has
// content and overwriting was not requested.
var ErrTargetNotEmpty = errors.New("restore target is not empty")
