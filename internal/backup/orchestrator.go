// Package backup composes the exclusion engine, the metadata store and the
// backup engine into strata's user-facing operations.
//
// A snapshot moves through validating, backing_up and recording_metadata.
// Metadata is written only after the engine confirms the snapshot, so a
// failed or interrupted backup never leaves a local record behind. The
// engine's snapshot list is authoritative: listings join it with local
// records and show untracked snapshots with placeholder metadata.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"time"

	"github.com/majorcontext/strata/internal/config"
	"github.com/majorcontext/strata/internal/engine"
	"github.com/majorcontext/strata/internal/exclude"
	"github.com/majorcontext/strata/internal/id"
	"github.com/majorcontext/strata/internal/log"
	"github.com/majorcontext/strata/internal/metadata"
	"github.com/majorcontext/strata/internal/storage"
)

// MaxChangedPaths bounds the changed-path list stored with each snapshot.
const MaxChangedPaths = 1000

// MetadataStore is the subset of *metadata.Store the orchestrator uses.
type MetadataStore interface {
	Save(ctx context.Context, rec *metadata.Record, index map[string]metadata.IndexEntry) error
	Get(ctx context.Context, id string) (*metadata.Record, error)
	All(ctx context.Context) ([]metadata.Record, error)
	GetRecent(ctx context.Context, limit int) ([]metadata.Record, error)
	Search(ctx context.Context, query string, limit int) ([]metadata.Record, error)
	Reconcile(ctx context.Context, external map[string]bool) (int, error)
	Index(ctx context.Context) (map[string]metadata.IndexEntry, error)
}

// Orchestrator runs strata operations against one repository.
type Orchestrator struct {
	cfg      *config.Config
	eng      engine.Engine
	store    MetadataStore
	repo     *storage.RepoStore
	lockPath string
	excludes *exclude.Set

	now  func() time.Time
	host string
}

// New returns an orchestrator. repo may be nil in tests, which disables the
// cross-process write lock and attempt bookkeeping.
func New(cfg *config.Config, eng engine.Engine, store MetadataStore, repo *storage.RepoStore) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		eng:      eng,
		store:    store,
		repo:     repo,
		excludes: exclude.NewSet(cfg.SourcePaths, cfg.ExcludeOptions()),
		now:      time.Now,
	}
	if repo != nil {
		o.lockPath = repo.LockPath()
	}
	if h, err := os.Hostname(); err == nil {
		o.host = h
	}
	return o
}

// Config returns the configuration the orchestrator was built with.
func (o *Orchestrator) Config() *config.Config { return o.cfg }

// Excludes returns the compiled exclusion rules for the source paths.
func (o *Orchestrator) Excludes() *exclude.Set { return o.excludes }

// SnapshotOptions configures one snapshot.
type SnapshotOptions struct {
	Message string
	// MessageFunc builds the message from the detected changes when Message
	// is empty.
	MessageFunc func(metadata.Changes) string
	Tags        []string
	// Author defaults to the current OS user.
	Author string
	// Trigger names what started the snapshot, e.g. manual or monitor.
	Trigger string
	// SkipUnchanged returns without a backup when nothing changed since the
	// last recorded snapshot.
	SkipUnchanged bool
	Progress      func(engine.Progress)
}

// SnapshotResult describes a completed snapshot.
type SnapshotResult struct {
	SnapshotID  string
	OperationID string
	Record      *metadata.Record
	Changes     metadata.Changes
	Warnings    []string
	// Skipped is set when SkipUnchanged applied and no backup ran.
	Skipped bool
}

// Snapshot backs up the configured sources and records metadata for the
// new snapshot. A *ReconciliationNeededError comes with a non-nil result:
// the snapshot exists even though recording its metadata failed.
func (o *Orchestrator) Snapshot(ctx context.Context, opts SnapshotOptions) (*SnapshotResult, error) {
	opID := id.Generate("op")
	log.SetOperationID(opID)
	defer log.ClearOperationID()

	res, stage, err := o.snapshot(ctx, opID, opts)
	o.recordAttempt(opID, opts.Trigger, res, stage, err)
	return res, err
}

func (o *Orchestrator) snapshot(ctx context.Context, opID string, opts SnapshotOptions) (*SnapshotResult, Stage, error) {
	log.Debug("snapshot stage", "stage", StageValidating, "trigger", opts.Trigger)
	if err := ValidateTags(opts.Tags); err != nil {
		return nil, StageValidating, &StageError{Stage: StageValidating, Err: err}
	}
	if err := o.validateSources(); err != nil {
		return nil, StageValidating, &StageError{Stage: StageValidating, Err: err}
	}

	var res *SnapshotResult
	err := o.withWriteLock("backup", func() error {
		var err error
		res, err = o.backupLocked(ctx, opID, opts)
		return err
	})
	if err == nil {
		return res, StageDone, nil
	}
	var se *StageError
	switch {
	case errors.As(err, &se):
		return res, se.Stage, err
	case IsPartial(err):
		return res, StageRecording, err
	}
	return nil, StageBackingUp, &StageError{Stage: StageBackingUp, Err: err}
}

func (o *Orchestrator) backupLocked(ctx context.Context, opID string, opts SnapshotOptions) (*SnapshotResult, error) {
	scan, err := o.scan(ctx)
	if err != nil {
		return nil, &StageError{Stage: StageValidating, Err: err}
	}
	previous, err := o.store.Index(ctx)
	if err != nil {
		return nil, &StageError{Stage: StageValidating, Err: fmt.Errorf("reading file index: %w", err)}
	}
	changes, changed := diffIndex(previous, scan.index, MaxChangedPaths)

	var parent string
	if recent, err := o.store.GetRecent(ctx, 1); err == nil && len(recent) > 0 {
		parent = recent[0].ID
	}
	if opts.SkipUnchanged && parent != "" && changes.Total() == 0 {
		log.Info("no changes since last snapshot; skipping", "parent", parent)
		return &SnapshotResult{OperationID: opID, Skipped: true}, nil
	}

	log.Debug("snapshot stage", "stage", StageBackingUp,
		"files", len(scan.index), "excluded", len(scan.excluded), "changes", changes.Total())
	br, err := o.eng.Backup(ctx, engine.BackupRequest{
		Paths:    o.cfg.SourcePaths,
		Excludes: scan.excluded,
		Tags:     opts.Tags,
		Host:     o.host,
		Progress: opts.Progress,
	})
	if err != nil {
		if ctx.Err() != nil {
			log.Warn("backup interrupted; if the next run reports a locked repository, run: strata unlock")
		}
		return nil, &StageError{Stage: StageBackingUp, Err: err}
	}

	msg := opts.Message
	if msg == "" && opts.MessageFunc != nil {
		msg = opts.MessageFunc(changes)
	}
	author := opts.Author
	if author == "" {
		author = currentUser()
	}
	rec := &metadata.Record{
		ID:           br.SnapshotID,
		Message:      msg,
		Author:       author,
		Hostname:     o.host,
		Timestamp:    o.now(),
		Tags:         opts.Tags,
		Parent:       parent,
		Changes:      changes,
		ChangedPaths: changed,
		Stats: metadata.Stats{
			FilesNew:            br.FilesNew,
			FilesChanged:        br.FilesChanged,
			FilesUnmodified:     br.FilesUnmodified,
			DataAdded:           br.DataAdded,
			TotalFilesProcessed: br.TotalFilesProcessed,
			TotalBytesProcessed: br.TotalBytesProcessed,
			Duration:            br.Duration,
		},
	}
	res := &SnapshotResult{
		SnapshotID:  br.SnapshotID,
		OperationID: opID,
		Record:      rec,
		Changes:     changes,
		Warnings:    br.Warnings,
	}

	log.Debug("snapshot stage", "stage", StageRecording, "snapshot", br.SnapshotID)
	// The snapshot exists now; an interrupt must not also lose its metadata.
	if err := o.store.Save(context.WithoutCancel(ctx), rec, scan.index); err != nil {
		log.Warn("snapshot metadata not recorded; reconciliation needed", "snapshot", br.SnapshotID, "error", err)
		return res, &ReconciliationNeededError{SnapshotID: br.SnapshotID, Err: err}
	}
	log.Info("snapshot created", "snapshot", br.SnapshotID, "added", changes.Added,
		"modified", changes.Modified, "removed", changes.Removed)
	return res, nil
}

func (o *Orchestrator) validateSources() error {
	for _, p := range o.cfg.SourcePaths {
		f, err := os.Open(p)
		if err != nil {
			return &SourceNotFoundError{Path: p, Err: err}
		}
		info, err := f.Stat()
		f.Close()
		if err != nil {
			return &SourceNotFoundError{Path: p, Err: err}
		}
		if !info.IsDir() {
			return &SourceNotFoundError{Path: p, Err: errors.New("not a directory")}
		}
	}
	return nil
}

func (o *Orchestrator) recordAttempt(opID, trigger string, res *SnapshotResult, stage Stage, err error) {
	if o.repo == nil || (res != nil && res.Skipped) {
		return
	}
	a := storage.Attempt{At: o.now(), OperationID: opID, Trigger: trigger}
	if res != nil {
		a.SnapshotID = res.SnapshotID
	}
	if err != nil {
		a.Error = err.Error()
		a.Stage = string(stage)
		a.Partial = IsPartial(err)
	}
	if a.Partial {
		// The backup itself succeeded.
		a.Error = ""
	}
	if werr := o.repo.RecordAttempt(a); werr != nil {
		log.Debug("failed to record snapshot attempt", "error", werr)
	}
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}
