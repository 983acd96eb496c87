package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/majorcontext/strata/internal/backup"
	intcli "github.com/majorcontext/strata/internal/cli"
	"github.com/majorcontext/strata/internal/config"
	"github.com/majorcontext/strata/internal/daemon"
	"github.com/majorcontext/strata/internal/storage"
	"github.com/majorcontext/strata/internal/ui"
)

var (
	triggerMessage string
	triggerTags    []string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Take snapshots automatically in the foreground",
	Long: `Run in the foreground until interrupted, taking snapshots when files under
the source paths change (monitor.enabled) and on the schedule interval.
Triggers never overlap: while a snapshot is queued or running, further
triggers are dropped.

Run it under a service manager such as systemd or launchd to keep it
running. Control it from another terminal with the subcommands below.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running daemon's state",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStatus,
}

var daemonTriggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Ask the running daemon to take a snapshot",
	Args:  cobra.NoArgs,
	RunE:  runDaemonTrigger,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStop,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.AddCommand(daemonStatusCmd, daemonTriggerCmd, daemonStopCmd)
	daemonTriggerCmd.Flags().StringVarP(&triggerMessage, "message", "m", "", "snapshot message")
	daemonTriggerCmd.Flags().StringArrayVarP(&triggerTags, "tag", "t", nil, "tag to attach (repeatable)")
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	d := daemon.New(daemon.Options{
		Config:     s.cfg,
		Snapshot:   s.orch,
		Excludes:   s.orch.Excludes(),
		SocketPath: s.repo.SocketPath(),
		InfoPath:   s.repo.DaemonInfoPath(),
		LockPath:   s.repo.DaemonLockPath(),
	})
	ui.Infof("strata daemon for %s (stop with Ctrl-C or: strata daemon stop)", s.cfg.Name)
	err = d.Run(ctx)
	if errors.Is(err, daemon.ErrAlreadyRunning) {
		return fmt.Errorf("%w\n\n  Check it with: strata daemon status", err)
	}
	return err
}

// connectDaemon finds the daemon for the configured repository. Only the
// repository name is needed, so no password is resolved.
func connectDaemon() (*daemon.Client, *daemon.Info, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	repo, err := storage.NewRepoStore(config.GlobalConfigDir(), cfg.Name)
	if err != nil {
		return nil, nil, err
	}
	return daemon.Connect(repo)
}

func runDaemonStatus(cmd *cobra.Command, _ []string) error {
	client, info, err := connectDaemon()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := client.Status(ctx)
	if err != nil {
		return err
	}
	if jsonOut {
		return intcli.WriteJSON(os.Stdout, st)
	}

	ui.Section("strata daemon")
	ui.Field("PID", info.PID)
	ui.Field("Repository", st.Repository)
	ui.Field("Running since", intcli.FormatTimeAgo(info.StartedAt))
	if st.Schedule != "" {
		ui.Field("Schedule", "every "+st.Schedule)
	} else {
		ui.Field("Schedule", "off")
	}
	if st.Monitoring {
		ui.Field("Monitor", fmt.Sprintf("%d directories, %d pending changes", st.WatchedDirs, st.PendingChanges))
	} else {
		ui.Field("Monitor", "off")
	}
	ui.Field("Runs", st.Runs)
	if st.Dropped > 0 {
		ui.Field("Dropped", st.Dropped)
	}
	if st.InFlight != nil {
		ui.Field("Running", fmt.Sprintf("%s (%s)", st.InFlight.Source, st.InFlight.Reason))
	}
	if st.Pending != nil {
		ui.Field("Queued", fmt.Sprintf("%s (%s)", st.Pending.Source, st.Pending.Reason))
	}
	if r := st.LastResult; r != nil {
		var outcome string
		switch {
		case r.Error != "":
			outcome = ui.Red("failed: " + r.Error)
		case r.Skipped:
			outcome = "skipped, no changes"
		case r.Partial:
			outcome = ui.Yellow(intcli.ShortID(r.SnapshotID) + " without metadata")
		default:
			outcome = ui.Green(intcli.ShortID(r.SnapshotID))
		}
		ui.Field("Last run", fmt.Sprintf("%s %s: %s", r.Trigger.Source, intcli.FormatTimeAgo(r.Finished), outcome))
	}
	return nil
}

func runDaemonTrigger(cmd *cobra.Command, _ []string) error {
	if err := backup.ValidateTags(triggerTags); err != nil {
		return err
	}
	client, _, err := connectDaemon()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.Trigger(ctx, daemon.TriggerRequest{Message: triggerMessage, Tags: triggerTags})
	if err != nil {
		return err
	}
	if jsonOut {
		return intcli.WriteJSON(os.Stdout, resp)
	}
	if !resp.Queued {
		ui.Warn("a snapshot is already running or queued; this trigger was dropped")
		return nil
	}
	fmt.Printf("%s snapshot queued\n", ui.OKTag())
	return nil
}

func runDaemonStop(cmd *cobra.Command, _ []string) error {
	client, info, err := connectDaemon()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Shutdown(ctx); err != nil {
		return err
	}
	fmt.Printf("Stopping daemon (pid %d)\n", info.PID)
	return nil
}
