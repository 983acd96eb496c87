package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/majorcontext/strata/internal/backup"
	intcli "github.com/majorcontext/strata/internal/cli"
	"github.com/majorcontext/strata/internal/engine"
	"github.com/majorcontext/strata/internal/ui"
)

var (
	snapshotMessage string
	snapshotTags    []string
	snapshotAuthor  string
)

var snapshotCmd = &cobra.Command{
	Use:     "snapshot",
	Aliases: []string{"commit"},
	Short:   "Back up the source paths and record a snapshot",
	Long: `Back up every configured source path into the restic repository and record
the snapshot's message, author, tags and changed paths locally.

With --dry-run, only the changes since the last snapshot are reported.

Examples:
  strata snapshot -m "before upgrade"
  strata snapshot -m "release" -t v1.2 -t release
  strata snapshot --dry-run`,
	Args: cobra.NoArgs,
	RunE: runSnapshot,
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.Flags().StringVarP(&snapshotMessage, "message", "m", "", "snapshot message")
	snapshotCmd.Flags().StringArrayVarP(&snapshotTags, "tag", "t", nil, "tag to attach (repeatable)")
	snapshotCmd.Flags().StringVar(&snapshotAuthor, "author", "", "author to record (default: current user)")
}

func runSnapshot(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if dryRun {
		changes, err := s.orch.PendingChanges(ctx)
		if err != nil {
			return err
		}
		if jsonOut {
			return intcli.WriteJSON(os.Stdout, changes)
		}
		fmt.Printf("Would snapshot: %d added, %d modified, %d removed\n", changes.Added, changes.Modified, changes.Removed)
		return nil
	}

	opts := backup.SnapshotOptions{
		Message: snapshotMessage,
		Tags:    snapshotTags,
		Author:  snapshotAuthor,
		Trigger: "manual",
	}
	var progress *ui.Progress
	if !jsonOut {
		progress = ui.NewProgress(os.Stderr)
		opts.Progress = func(p engine.Progress) {
			progress.Update(ui.ProgressStat{
				Percent:    p.PercentDone,
				FilesDone:  p.FilesDone,
				TotalFiles: p.TotalFiles,
				BytesDone:  p.BytesDone,
				TotalBytes: p.TotalBytes,
			})
		}
	}

	res, err := s.orch.Snapshot(ctx, opts)
	if progress != nil {
		progress.Done()
	}
	if err != nil && !partialWarning(err) {
		return err
	}

	if jsonOut {
		return intcli.WriteJSON(os.Stdout, res)
	}
	for _, w := range res.Warnings {
		ui.Warn(w)
	}
	fmt.Printf("%s snapshot %s\n", ui.OKTag(), ui.Bold(intcli.ShortID(res.SnapshotID)))
	c := res.Changes
	fmt.Printf("  %d added, %d modified, %d removed\n", c.Added, c.Modified, c.Removed)
	if res.Record != nil {
		st := res.Record.Stats
		fmt.Printf("  %s files processed, %s added to the repository in %s\n",
			intcli.FormatCount(st.TotalFilesProcessed), intcli.FormatBytes(st.DataAdded), st.Duration.Round(10*time.Millisecond))
	}
	return nil
}
