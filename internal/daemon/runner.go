package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/majorcontext/strata/internal/backup"
	"github.com/majorcontext/strata/internal/engine"
	"github.com/majorcontext/strata/internal/log"
	"github.com/majorcontext/strata/internal/metadata"
)

// Snapshotter is the part of *backup.Orchestrator the daemon drives.
type Snapshotter interface {
	Snapshot(ctx context.Context, opts backup.SnapshotOptions) (*backup.SnapshotResult, error)
	Forget(ctx context.Context, dryRun bool) (*backup.ForgetResult, error)
}

// RunResult is the outcome of one trigger.
type RunResult struct {
	Trigger    Trigger   `json:"trigger"`
	Started    time.Time `json:"started"`
	Finished   time.Time `json:"finished"`
	SnapshotID string    `json:"snapshot_id,omitempty"`
	Skipped    bool      `json:"skipped,omitempty"`
	Partial    bool      `json:"partial,omitempty"`
	Error      string    `json:"error,omitempty"`
	// Forgotten counts snapshots removed by retention after a scheduled run.
	Forgotten int `json:"forgotten,omitempty"`
}

// AutoMessage formats the message recorded for daemon snapshots.
func AutoMessage(c metadata.Changes, reason string) string {
	return fmt.Sprintf("Auto snapshot: %d added, %d modified, %d removed (%s)", c.Added, c.Modified, c.Removed, reason)
}

// snapshotOptions maps a trigger to orchestrator options.
func snapshotOptions(t Trigger) backup.SnapshotOptions {
	opts := backup.SnapshotOptions{
		Trigger: string(t.Source),
		MessageFunc: func(c metadata.Changes) string {
			return AutoMessage(c, t.Reason)
		},
	}
	switch t.Source {
	case SourceMonitor:
		opts.Tags = []string{"auto", "monitor"}
		// Editors touch files without changing them.
		opts.SkipUnchanged = true
	case SourceSchedule:
		opts.Tags = []string{"scheduled", "automatic"}
	default:
		opts.Tags = append([]string{"manual"}, t.Tags...)
		opts.Message = t.Message
	}
	return opts
}

// execute runs one trigger to completion.
func (d *Daemon) execute(ctx context.Context, t Trigger) RunResult {
	res := RunResult{Trigger: t, Started: time.Now()}
	defer func() { res.Finished = time.Now() }()

	sr, err := d.snap.Snapshot(ctx, snapshotOptions(t))
	if sr != nil {
		res.SnapshotID = sr.SnapshotID
		res.Skipped = sr.Skipped
	}
	switch {
	case err == nil:
		if res.Skipped {
			log.Debug("no changes; snapshot skipped", "source", t.Source)
		} else {
			log.Info("snapshot created", "source", t.Source, "snapshot", res.SnapshotID, "reason", t.Reason)
		}
	case backup.IsPartial(err):
		res.Partial = true
		log.Warn("snapshot created without metadata", "snapshot", res.SnapshotID, "error", err)
	case engine.IsLockHeld(err):
		res.Error = err.Error()
		log.Warn("repository is locked; skipping this trigger. If no other backup is running, run: strata unlock",
			"source", t.Source)
		return res
	default:
		res.Error = err.Error()
		log.Error("snapshot failed", "source", t.Source, "error", err)
		return res
	}

	if t.Source == SourceSchedule && d.cfg.ForgetAfterSchedule && !res.Skipped {
		fr, err := d.snap.Forget(ctx, false)
		if err != nil {
			log.Warn("failed to apply retention policy", "error", err)
		} else {
			res.Forgotten = len(fr.Removed)
			if res.Forgotten > 0 {
				log.Info("retention policy removed snapshots", "count", res.Forgotten)
			}
		}
	}
	return res
}

// runLoop consumes the queue until ctx is done.
func (d *Daemon) runLoop(ctx context.Context) error {
	for {
		t, err := d.queue.Next(ctx)
		if err != nil {
			return nil
		}
		res := d.execute(ctx, t)
		d.mu.Lock()
		d.last = &res
		d.runs++
		d.mu.Unlock()
		d.queue.Done()
	}
}

// runTicker offers a scheduled trigger every interval.
func (d *Daemon) runTicker(ctx context.Context, every time.Duration) error {
	tk := time.NewTicker(every)
	defer tk.Stop()
	log.Info("scheduled snapshots enabled", "every", every)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tk.C:
			if !d.queue.Offer(Trigger{Source: SourceSchedule, Reason: "every " + d.cfg.Schedule.String()}) {
				log.Debug("scheduled trigger dropped; a snapshot is already pending or running")
			}
		}
	}
}
