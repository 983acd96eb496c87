package metadata

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get when no record has the identifier.
var ErrNotFound = errors.New("snapshot metadata not found")

// ErrDuplicateKey is returned by Save when the identifier is already
// recorded. Records are write-once; a duplicate means something recorded
// the same snapshot twice.
var ErrDuplicateKey = errors.New("snapshot metadata already recorded")

// DuplicateKeyError carries the identifier that collided.
type DuplicateKeyError struct {
	ID string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDuplicateKey, e.ID)
}

func (e *DuplicateKeyError) Unwrap() error { return ErrDuplicateKey }

// ChangeKind classifies a FileChange.
type ChangeKind string

const (
	Added    ChangeKind = "added"
	Modified ChangeKind = "modified"
	Removed  ChangeKind = "removed"
)

// Changes counts paths that differ from the previous snapshot's index.
// Counts are computed before the backup runs and are best-effort.
type Changes struct {
	Added    int `json:"added"`
	Modified int `json:"modified"`
	Removed  int `json:"removed"`
}

// Total returns the number of changed paths.
func (c Changes) Total() int { return c.Added + c.Modified + c.Removed }

// FileChange is one changed path recorded with a snapshot.
type FileChange struct {
	Path string     `json:"path"`
	Kind ChangeKind `json:"kind"`
	Size int64      `json:"size"`
}

// Stats mirrors the engine's backup summary.
type Stats struct {
	FilesNew            int           `json:"files_new"`
	FilesChanged        int           `json:"files_changed"`
	FilesUnmodified     int           `json:"files_unmodified"`
	DataAdded           int64         `json:"data_added"`
	TotalFilesProcessed int           `json:"total_files_processed"`
	TotalBytesProcessed int64         `json:"total_bytes_processed"`
	Duration            time.Duration `json:"duration"`
}

// Record is the local metadata for one engine snapshot.
type Record struct {
	ID        string    `json:"id"`
	Message   string    `json:"message,omitempty"`
	Author    string    `json:"author"`
	Hostname  string    `json:"hostname,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Tags      []string  `json:"tags,omitempty"`
	Parent    string    `json:"parent,omitempty"`
	Changes   Changes   `json:"changes"`
	Stats     Stats     `json:"stats"`

	// ChangedPaths is populated by Get and by Save's input; list queries
	// leave it nil.
	ChangedPaths []FileChange `json:"changed_paths,omitempty"`
}

// HasTag reports whether the record carries tag exactly.
func (r *Record) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// IndexEntry is the state of one file at the last recorded snapshot.
type IndexEntry struct {
	Size    int64
	ModTime time.Time
}

// Filter narrows Log. Zero values match everything.
type Filter struct {
	Author string
	Tag    string
	Limit  int
}
