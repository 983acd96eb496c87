// Package engine is the boundary to the external backup engine.
//
// Engine is the fixed set of operations the rest of strata needs. Restic is
// the only production implementation; enginetest.Fake substitutes canned
// results in tests.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// Engine is a content-addressed snapshot store driven one operation at a
// time. Every call blocks until the underlying operation finishes or ctx is
// cancelled.
type Engine interface {
	Backup(ctx context.Context, req BackupRequest) (*BackupResult, error)
	// Snapshots returns the authoritative list of snapshots. Results are
	// never cached between calls.
	Snapshots(ctx context.Context) ([]Snapshot, error)
	Restore(ctx context.Context, req RestoreRequest) error
	Forget(ctx context.Context, policy Retention, dryRun bool) ([]string, error)
	Verify(ctx context.Context, opts VerifyOptions) (*HealthReport, error)
	// Unlock removes stale repository locks. It succeeds when no lock exists.
	Unlock(ctx context.Context) error
	Stats(ctx context.Context) (*RepoStats, error)
	Init(ctx context.Context) error
	Exists(ctx context.Context) (bool, error)
}

// Snapshot is one entry of the engine's snapshot list.
type Snapshot struct {
	ID       string    `json:"id"`
	ShortID  string    `json:"short_id"`
	Time     time.Time `json:"time"`
	Tags     []string  `json:"tags,omitempty"`
	Paths    []string  `json:"paths"`
	Hostname string    `json:"hostname,omitempty"`
	Username string    `json:"username,omitempty"`
	Size     int64     `json:"size"`
}

// Short returns the abbreviated identifier used in listings.
func (s Snapshot) Short() string {
	if s.ShortID != "" {
		return s.ShortID
	}
	if len(s.ID) > 8 {
		return s.ID[:8]
	}
	return s.ID
}

// Progress is a point-in-time view of a running backup.
type Progress struct {
	PercentDone float64
	FilesDone   int
	TotalFiles  int
	BytesDone   int64
	TotalBytes  int64
}

// BackupRequest describes one backup.
type BackupRequest struct {
	// Paths are the absolute source roots.
	Paths []string
	// Excludes are absolute paths the exclusion engine rejected. Excluded
	// directories are not descended.
	Excludes []string
	Tags     []string
	Host     string
	// Progress, when set, is called from the goroutine reading engine
	// output. It must not block.
	Progress func(Progress)
}

// BackupResult is the engine's summary of a completed backup.
type BackupResult struct {
	SnapshotID          string
	FilesNew            int
	FilesChanged        int
	FilesUnmodified     int
	DataAdded           int64
	TotalFilesProcessed int
	TotalBytesProcessed int64
	Duration            time.Duration
	// Warnings are per-file errors the engine reported without failing.
	Warnings []string
}

// RestoreRequest describes one restore.
type RestoreRequest struct {
	SnapshotID string
	Target     string
	// Include limits the restore to these paths inside the snapshot.
	Include []string
	Verify  bool
}

// Retention is a keep-count policy passed verbatim to the engine. Zero
// fields are omitted.
type Retention struct {
	KeepLast    int `yaml:"keep_last" json:"keep_last"`
	KeepHourly  int `yaml:"keep_hourly" json:"keep_hourly"`
	KeepDaily   int `yaml:"keep_daily" json:"keep_daily"`
	KeepWeekly  int `yaml:"keep_weekly" json:"keep_weekly"`
	KeepMonthly int `yaml:"keep_monthly" json:"keep_monthly"`
	KeepYearly  int `yaml:"keep_yearly" json:"keep_yearly"`
}

// IsZero reports whether the policy keeps nothing explicitly.
func (r Retention) IsZero() bool {
	return r == Retention{}
}

// Args renders the policy as restic forget flags.
func (r Retention) Args() []string {
	var args []string
	add := func(flag string, n int) {
		if n > 0 {
			args = append(args, flag, strconv.Itoa(n))
		}
	}
	add("--keep-last", r.KeepLast)
	add("--keep-hourly", r.KeepHourly)
	add("--keep-daily", r.KeepDaily)
	add("--keep-weekly", r.KeepWeekly)
	add("--keep-monthly", r.KeepMonthly)
	add("--keep-yearly", r.KeepYearly)
	return args
}

// CheckMode selects how much of the repository Verify reads.
type CheckMode string

const (
	CheckStructure CheckMode = "structure"
	CheckPartial   CheckMode = "partial"
	CheckFull      CheckMode = "full"
)

// ParseCheckMode accepts the mode names used on the command line.
func ParseCheckMode(s string) (CheckMode, error) {
	switch CheckMode(s) {
	case "", CheckStructure:
		return CheckStructure, nil
	case CheckPartial, CheckFull:
		return CheckMode(s), nil
	}
	return "", fmt.Errorf("unknown verify mode %q (want structure, partial, or full)", s)
}

// VerifyOptions configures Verify. SubsetPercent applies to CheckPartial
// and defaults to 10.
type VerifyOptions struct {
	Mode          CheckMode
	SubsetPercent int
}

// HealthReport is the outcome of Verify. Healthy is derived from the
// engine's exit code only.
type HealthReport struct {
	Mode     CheckMode     `json:"mode"`
	Healthy  bool          `json:"healthy"`
	Errors   []string      `json:"errors,omitempty"`
	Duration time.Duration `json:"duration"`
}

// RepoStats is the repository's stored size.
type RepoStats struct {
	TotalSize             int64   `json:"total_size"`
	TotalUncompressedSize int64   `json:"total_uncompressed_size,omitempty"`
	CompressionRatio      float64 `json:"compression_ratio,omitempty"`
	BlobCount             int     `json:"total_blob_count"`
	SnapshotsCount        int     `json:"snapshots_count"`
}

// Credentials authenticate against the repository. Exactly one field is
// expected to be set; PasswordFile wins when both are.
type Credentials struct {
	PasswordFile string
	Password     string
}

// LogValue keeps the password out of logs.
func (c Credentials) LogValue() slog.Value {
	switch {
	case c.PasswordFile != "":
		return slog.GroupValue(slog.String("password_file", c.PasswordFile))
	case c.Password != "":
		return slog.StringValue("[redacted]")
	}
	return slog.StringValue("none")
}
