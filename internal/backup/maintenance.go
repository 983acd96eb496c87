package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/majorcontext/strata/internal/engine"
	"github.com/majorcontext/strata/internal/id"
	"github.com/majorcontext/strata/internal/log"
	"github.com/majorcontext/strata/internal/metadata"
	"github.com/majorcontext/strata/internal/resolve"
	"github.com/majorcontext/strata/internal/storage"
)

// RestoreOptions configures Restore.
type RestoreOptions struct {
	// Paths limits the restore to these paths inside the snapshot.
	Paths  []string
	Verify bool
	// Overwrite allows restoring into a non-empty target.
	Overwrite bool
}

// Restore resolves ref and restores that snapshot into target. It returns
// the snapshot identifier.
func (o *Orchestrator) Restore(ctx context.Context, ref, target string, opts RestoreOptions) (string, error) {
	log.SetOperationID(id.Generate("op"))
	defer log.ClearOperationID()

	v, err := o.load(ctx)
	if err != nil {
		return "", err
	}
	snapID, err := resolve.Resolve(ref, v.snaps, v.records)
	if err != nil {
		return "", err
	}

	target, err = filepath.Abs(target)
	if err != nil {
		return "", err
	}
	if err := prepareTarget(target, opts.Overwrite); err != nil {
		return "", &engine.RestoreFailedError{SnapshotID: snapID, Target: target, Err: err}
	}

	log.Info("restoring snapshot", "snapshot", snapID, "target", target, "paths", len(opts.Paths))
	err = o.eng.Restore(ctx, engine.RestoreRequest{
		SnapshotID: snapID,
		Target:     target,
		Include:    opts.Paths,
		Verify:     opts.Verify,
	})
	if err != nil {
		return "", err
	}
	return snapID, nil
}

// prepareTarget creates target, or checks that an existing one is an empty
// directory unless overwrite is set. The directory must be writable.
func prepareTarget(target string, overwrite bool) error {
	info, err := os.Stat(target)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(target, 0o755); err != nil {
			return fmt.Errorf("creating restore target: %w", err)
		}
		return checkWritable(target)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("restore target %s is not a directory", target)
	}
	if overwrite {
		return checkWritable(target)
	}
	f, err := os.Open(target)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Readdirnames(1); !errors.Is(err, io.EOF) {
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %s (use --overwrite to restore into it anyway)", ErrTargetNotEmpty, target)
	}
	return checkWritable(target)
}

func checkWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".strata-restore-*")
	if err != nil {
		return fmt.Errorf("restore target is not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// ForgetResult is the outcome of Forget.
type ForgetResult struct {
	DryRun     bool     `json:"dry_run"`
	Removed    []string `json:"removed"`
	Reconciled int      `json:"reconciled"`
}

// Forget applies the retention policy and then reconciles local metadata
// with the snapshots that remain. A dry run changes nothing.
func (o *Orchestrator) Forget(ctx context.Context, dryRun bool) (*ForgetResult, error) {
	log.SetOperationID(id.Generate("op"))
	defer log.ClearOperationID()

	res := &ForgetResult{DryRun: dryRun}
	if dryRun {
		removed, err := o.eng.Forget(ctx, o.cfg.Retention, true)
		if err != nil {
			return nil, err
		}
		res.Removed = removed
		return res, nil
	}

	err := o.withWriteLock("forget", func() error {
		removed, err := o.eng.Forget(ctx, o.cfg.Retention, false)
		if err != nil {
			return err
		}
		res.Removed = removed
		n, err := o.reconcile(ctx)
		if err != nil {
			return fmt.Errorf("snapshots were removed but metadata was not reconciled (run: strata reconcile): %w", err)
		}
		res.Reconciled = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info("retention applied", "removed", len(res.Removed), "reconciled", res.Reconciled)
	return res, nil
}

// Reconcile deletes local records for snapshots the engine no longer has.
// It is idempotent.
func (o *Orchestrator) Reconcile(ctx context.Context) (int, error) {
	return o.reconcile(ctx)
}

func (o *Orchestrator) reconcile(ctx context.Context) (int, error) {
	snaps, err := o.eng.Snapshots(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing snapshots: %w", err)
	}
	external := make(map[string]bool, len(snaps))
	for _, s := range snaps {
		external[s.ID] = true
	}
	n, err := o.store.Reconcile(ctx, external)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info("removed metadata for snapshots no longer in the repository", "count", n)
	}
	return n, nil
}

// Verify checks repository integrity. It is read-only.
func (o *Orchestrator) Verify(ctx context.Context, opts engine.VerifyOptions) (*engine.HealthReport, error) {
	return o.eng.Verify(ctx, opts)
}

// Unlock clears stale engine locks. It refuses while another strata
// process holds the write lock, since that lock is not stale.
func (o *Orchestrator) Unlock(ctx context.Context) error {
	return o.withWriteLock("unlock", func() error {
		return o.eng.Unlock(ctx)
	})
}

// Init creates the repository if it does not exist yet. It reports whether
// a repository was created.
func (o *Orchestrator) Init(ctx context.Context) (bool, error) {
	ok, err := o.eng.Exists(ctx)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}
	if err := o.eng.Init(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Status is an overview of the repository and its local metadata.
type Status struct {
	Name        string            `json:"name"`
	Repository  string            `json:"repository"`
	SourcePaths []string          `json:"source_paths"`
	Snapshots   int               `json:"snapshots"`
	Tracked     int               `json:"tracked"`
	Untracked   int               `json:"untracked"`
	// Stale counts local records whose snapshot no longer exists.
	Stale       int               `json:"stale"`
	Pending     *metadata.Changes `json:"pending,omitempty"`
	Latest      *Entry            `json:"latest,omitempty"`
	Recent      []Entry           `json:"recent"`
	Stats       *engine.RepoStats `json:"stats,omitempty"`
	LastAttempt *storage.Attempt  `json:"last_attempt,omitempty"`
}

// Status gathers the repository overview. It runs no integrity check.
func (o *Orchestrator) Status(ctx context.Context) (*Status, error) {
	v, err := o.load(ctx)
	if err != nil {
		return nil, err
	}
	st := &Status{
		Name:        o.cfg.Name,
		Repository:  o.cfg.Repository,
		SourcePaths: o.cfg.SourcePaths,
		Snapshots:   len(v.snaps),
	}
	known := make(map[string]bool, len(v.snaps))
	for _, s := range v.snaps {
		known[s.ID] = true
		if v.byID[s.ID] != nil {
			st.Tracked++
		} else {
			st.Untracked++
		}
	}
	for _, r := range v.records {
		if !known[r.ID] {
			st.Stale++
		}
	}
	for i, s := range v.snaps {
		if i == 5 {
			break
		}
		st.Recent = append(st.Recent, v.entry(s))
	}
	if len(st.Recent) > 0 {
		st.Latest = &st.Recent[0]
	}

	if pending, err := o.PendingChanges(ctx); err == nil {
		st.Pending = &pending
	} else {
		log.Debug("pending changes unavailable", "error", err)
	}
	if stats, err := o.eng.Stats(ctx); err == nil {
		st.Stats = stats
	} else {
		log.Debug("repository stats unavailable", "error", err)
	}
	if o.repo != nil {
		if state, err := o.repo.LoadState(); err == nil {
			st.LastAttempt = state.LastAttempt
		}
	}
	return st, nil
}
