package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/majorcontext/strata/internal/backup"
	intcli "github.com/majorcontext/strata/internal/cli"
	"github.com/majorcontext/strata/internal/daemon"
	"github.com/majorcontext/strata/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show repository state and pending changes",
	Long: `Show the repository, snapshot counts, changes since the last snapshot,
the most recent snapshots and whether a daemon is running. No integrity
check is run; use strata verify for that.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type statusOutput struct {
	*backup.Status
	Daemon *daemon.Info `json:"daemon,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	st, err := s.orch.Status(ctx)
	if err != nil {
		return err
	}
	info, _ := daemon.ReadInfo(s.repo.DaemonInfoPath())
	if info != nil && !info.IsAlive() {
		info = nil
	}

	if jsonOut {
		return intcli.WriteJSON(os.Stdout, statusOutput{Status: st, Daemon: info})
	}

	ui.Section(st.Name)
	ui.Field("Repository", st.Repository)
	paths := make([]string, len(st.SourcePaths))
	for i, p := range st.SourcePaths {
		paths[i] = intcli.ShortenPath(p)
	}
	ui.Field("Sources", strings.Join(paths, ", "))
	snaps := fmt.Sprintf("%d", st.Snapshots)
	if st.Untracked > 0 {
		snaps += fmt.Sprintf(" (%d untracked)", st.Untracked)
	}
	ui.Field("Snapshots", snaps)
	if st.Stats != nil {
		ui.Field("Stored", intcli.FormatBytes(st.Stats.TotalSize))
	}
	if st.Latest != nil {
		ui.Field("Latest", fmt.Sprintf("%s %s", st.Latest.Snapshot.Short(), intcli.FormatTimeAgo(st.Latest.Snapshot.Time)))
	}
	if st.Pending != nil {
		p := st.Pending
		if p.Total() == 0 {
			ui.Field("Pending", "no changes")
		} else {
			ui.Field("Pending", fmt.Sprintf("%d added, %d modified, %d removed", p.Added, p.Modified, p.Removed))
		}
	}
	if info != nil {
		ui.Field("Daemon", fmt.Sprintf("running (pid %d, since %s)", info.PID, intcli.FormatTimeAgo(info.StartedAt)))
	} else {
		ui.Field("Daemon", "not running")
	}
	if a := st.LastAttempt; a != nil && !a.Succeeded() {
		fmt.Println()
		if a.Partial {
			ui.Warnf("last snapshot %s has no metadata: %s", intcli.ShortID(a.SnapshotID), a.Error)
		} else {
			ui.Warnf("last snapshot attempt failed %s at %s: %s", intcli.FormatTimeAgo(a.At), a.Stage, a.Error)
		}
	}
	if st.Stale > 0 {
		ui.Warnf("%d local records refer to snapshots that no longer exist. Run: strata reconcile", st.Stale)
	}

	if len(st.Recent) > 0 {
		fmt.Println()
		return printEntries(os.Stdout, st.Recent, "")
	}
	return nil
}
