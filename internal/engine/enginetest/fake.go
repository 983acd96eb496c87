// Package enginetest provides an in-memory engine.Engine for tests.
package enginetest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/majorcontext/strata/internal/engine"
)

// Fake is an in-memory snapshot list with scripted failures. The zero
// value is ready to use. Error fields, when set, are returned by the
// matching operation.
type Fake struct {
	mu    sync.Mutex
	snaps []engine.Snapshot
	seq   int

	// Now stamps new snapshots. Defaults to time.Now.
	Now func() time.Time
	// BeforeBackup runs at the start of Backup, outside the lock. Tests use
	// it to block a backup in flight.
	BeforeBackup func(ctx context.Context) error

	BackupErr    error
	SnapshotsErr error
	RestoreErr   error
	ForgetErr    error
	VerifyErr    error
	UnlockErr    error
	Health       *engine.HealthReport
	Missing      bool

	Backups  []engine.BackupRequest
	Restores []engine.RestoreRequest
	Forgets  []engine.Retention
	Unlocks  int
}

var _ engine.Engine = (*Fake)(nil)

// ID returns the identifier the n-th backup (1-based) receives.
func ID(n int) string {
	sum := sha256.Sum256([]byte("snapshot-" + strconv.Itoa(n)))
	return hex.EncodeToString(sum[:])
}

// Add inserts snapshots as if created outside strata.
func (f *Fake) Add(snaps ...engine.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps = append(f.snaps, snaps...)
}

// Remove deletes a snapshot as if forgotten outside strata.
func (f *Fake) Remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.snaps {
		if s.ID == id {
			f.snaps = append(f.snaps[:i], f.snaps[i+1:]...)
			return
		}
	}
}

func (f *Fake) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

func (f *Fake) Backup(ctx context.Context, req engine.BackupRequest) (*engine.BackupResult, error) {
	if f.BeforeBackup != nil {
		if err := f.BeforeBackup(ctx); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.Backups = append(f.Backups, req)
	if f.BackupErr != nil {
		return nil, f.BackupErr
	}
	if req.Progress != nil {
		req.Progress(engine.Progress{PercentDone: 1, FilesDone: 1, TotalFiles: 1})
	}
	f.seq++
	snap := engine.Snapshot{
		ID:       ID(f.seq),
		Time:     f.now(),
		Tags:     append([]string(nil), req.Tags...),
		Paths:    append([]string(nil), req.Paths...),
		Hostname: req.Host,
	}
	snap.ShortID = snap.ID[:8]
	f.snaps = append(f.snaps, snap)
	return &engine.BackupResult{SnapshotID: snap.ID, TotalFilesProcessed: 1}, nil
}

func (f *Fake) Snapshots(ctx context.Context) ([]engine.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SnapshotsErr != nil {
		return nil, f.SnapshotsErr
	}
	return append([]engine.Snapshot(nil), f.snaps...), nil
}

func (f *Fake) Restore(ctx context.Context, req engine.RestoreRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Restores = append(f.Restores, req)
	if f.RestoreErr != nil {
		return f.RestoreErr
	}
	for _, s := range f.snaps {
		if s.ID == req.SnapshotID {
			return nil
		}
	}
	return &engine.RestoreFailedError{SnapshotID: req.SnapshotID, Target: req.Target,
		Err: &engine.ExitError{Op: "restore", Code: 1, Stderr: "no matching ID found"}}
}

// Forget honors KeepLast only; other keep counts are recorded and ignored.
func (f *Fake) Forget(ctx context.Context, policy engine.Retention, dryRun bool) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Forgets = append(f.Forgets, policy)
	if f.ForgetErr != nil {
		return nil, f.ForgetErr
	}
	if policy.KeepLast <= 0 || len(f.snaps) <= policy.KeepLast {
		return nil, nil
	}

	sorted := append([]engine.Snapshot(nil), f.snaps...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.After(sorted[j].Time) })
	var removed []string
	for _, s := range sorted[policy.KeepLast:] {
		removed = append(removed, s.ID)
	}
	if !dryRun {
		f.snaps = sorted[:policy.KeepLast]
	}
	return removed, nil
}

func (f *Fake) Verify(ctx context.Context, opts engine.VerifyOptions) (*engine.HealthReport, error) {
	if f.VerifyErr != nil {
		return nil, f.VerifyErr
	}
	if f.Health != nil {
		return f.Health, nil
	}
	return &engine.HealthReport{Mode: opts.Mode, Healthy: true}, nil
}

func (f *Fake) Unlock(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Unlocks++
	return f.UnlockErr
}

func (f *Fake) Stats(ctx context.Context) (*engine.RepoStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total int64
	for _, s := range f.snaps {
		total += s.Size
	}
	return &engine.RepoStats{TotalSize: total, SnapshotsCount: len(f.snaps)}, nil
}

func (f *Fake) Init(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Missing = false
	return nil
}

func (f *Fake) Exists(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.Missing, nil
}

// BackupCount returns how many backups were attempted.
func (f *Fake) BackupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Backups)
}
