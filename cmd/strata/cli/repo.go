package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/majorcontext/strata/internal/backup"
	intcli "github.com/majorcontext/strata/internal/cli"
	"github.com/majorcontext/strata/internal/config"
	"github.com/majorcontext/strata/internal/engine"
	"github.com/majorcontext/strata/internal/ui"
)

var (
	restorePaths     []string
	restoreVerify    bool
	restoreOverwrite bool
	verifySubset     string
	initConfigForce  bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore <ref> <target>",
	Short: "Restore a snapshot into a directory",
	Long: `Restore a snapshot into target. target must be empty or absent unless
--overwrite is given.

Examples:
  strata restore latest /tmp/restore
  strata restore HEAD~1 ./out --path /home/me/docs/report.md
  strata restore v1.0 /srv/restore --verify`,
	Args: cobra.ExactArgs(2),
	RunE: runRestore,
}

var forgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Apply the retention policy and prune",
	Long: `Remove snapshots outside the retention policy in strata.yaml, prune their
data, and drop their local metadata.

With --dry-run, list what would be removed without changing anything.`,
	Args: cobra.NoArgs,
	RunE: runForget,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Drop local metadata for snapshots that no longer exist",
	Args:  cobra.NoArgs,
	RunE:  runReconcile,
}

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Remove stale repository locks",
	Long: `Remove stale locks left behind by an interrupted restic process. Only run
this when no other backup is running against the repository.`,
	Args: cobra.NoArgs,
	RunE: runUnlock,
}

var verifyCmd = &cobra.Command{
	Use:   "verify [structure|partial|full]",
	Short: "Check repository integrity",
	Long: `Check the repository. structure (default) checks metadata only, partial
also reads a random subset of the data, full reads everything.

Examples:
  strata verify
  strata verify partial --subset 5
  strata verify full`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{string(engine.CheckStructure), string(engine.CheckPartial), string(engine.CheckFull)},
	RunE:      runVerify,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the restic repository",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config [path]",
	Short: "Write a commented strata.yaml",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInitConfig,
}

func init() {
	rootCmd.AddCommand(restoreCmd, forgetCmd, reconcileCmd, unlockCmd, verifyCmd, initCmd, initConfigCmd)
	restoreCmd.Flags().StringArrayVar(&restorePaths, "path", nil, "restore only this path (repeatable)")
	restoreCmd.Flags().BoolVar(&restoreVerify, "verify", false, "verify restored files")
	restoreCmd.Flags().BoolVar(&restoreOverwrite, "overwrite", false, "restore into a non-empty directory")
	verifyCmd.Flags().StringVar(&verifySubset, "subset", "10", "percentage of data to read in partial mode")
	initConfigCmd.Flags().BoolVar(&initConfigForce, "force", false, "overwrite an existing file")
}

func runRestore(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	id, err := s.orch.Restore(ctx, args[0], args[1], backup.RestoreOptions{
		Paths:     restorePaths,
		Verify:    restoreVerify,
		Overwrite: restoreOverwrite,
	})
	if err != nil {
		return err
	}
	if jsonOut {
		return intcli.WriteJSON(os.Stdout, map[string]string{"snapshot_id": id, "target": args[1]})
	}
	fmt.Printf("%s restored %s to %s\n", ui.OKTag(), ui.Bold(intcli.ShortID(id)), args[1])
	return nil
}

func runForget(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if s.cfg.Retention.IsZero() {
		return fmt.Errorf("retention policy in %s is empty; set at least one keep_* value", s.cfg.Path())
	}
	res, err := s.orch.Forget(ctx, dryRun)
	if err != nil {
		return err
	}
	if jsonOut {
		return intcli.WriteJSON(os.Stdout, res)
	}

	verb := "Removed"
	if res.DryRun {
		verb = "Would remove"
	}
	fmt.Printf("%s %d snapshots\n", verb, len(res.Removed))
	for _, id := range res.Removed {
		fmt.Printf("  %s\n", intcli.ShortID(id))
	}
	if res.Reconciled > 0 {
		fmt.Printf("Dropped metadata for %d snapshots\n", res.Reconciled)
	}
	return nil
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	n, err := s.orch.Reconcile(ctx)
	if err != nil {
		return err
	}
	if jsonOut {
		return intcli.WriteJSON(os.Stdout, map[string]int{"removed": n})
	}
	if n == 0 {
		fmt.Println("Local metadata is in sync with the repository")
		return nil
	}
	fmt.Printf("Dropped metadata for %d snapshots that no longer exist\n", n)
	return nil
}

func runUnlock(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.orch.Unlock(ctx); err != nil {
		return err
	}
	fmt.Printf("%s repository unlocked\n", ui.OKTag())
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	var mode string
	if len(args) == 1 {
		mode = args[0]
	}
	checkMode, err := engine.ParseCheckMode(mode)
	if err != nil {
		return err
	}
	opts := engine.VerifyOptions{Mode: checkMode}
	if checkMode == engine.CheckPartial {
		if opts.SubsetPercent, err = intcli.ParsePercent(verifySubset); err != nil {
			return err
		}
	}

	ctx, cancel := signalContext()
	defer cancel()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	rep, err := s.orch.Verify(ctx, opts)
	if err != nil {
		return err
	}
	if jsonOut {
		if err := intcli.WriteJSON(os.Stdout, rep); err != nil {
			return err
		}
	} else if rep.Healthy {
		fmt.Printf("%s repository is healthy (%s check, %s)\n", ui.OKTag(), rep.Mode, rep.Duration.Round(time.Second))
	} else {
		fmt.Printf("%s repository has errors (%s check)\n", ui.FailTag(), rep.Mode)
		for _, e := range rep.Errors {
			fmt.Printf("  %s\n", e)
		}
	}
	if !rep.Healthy {
		return fmt.Errorf("verify %s: repository is not healthy", rep.Mode)
	}
	return nil
}

func runInit(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if dryRun {
		fmt.Printf("Would initialize %s\n", s.cfg.Repository)
		return nil
	}
	created, err := s.orch.Init(ctx)
	if err != nil {
		return err
	}
	if created {
		fmt.Printf("%s created repository %s\n", ui.OKTag(), s.cfg.Repository)
	} else {
		fmt.Printf("Repository %s already exists\n", s.cfg.Repository)
	}
	return nil
}

func runInitConfig(cmd *cobra.Command, args []string) error {
	path := config.Locate(configPath)
	if len(args) == 1 {
		path = args[0]
	}
	if err := config.WriteSample(path, initConfigForce); err != nil {
		return err
	}
	fmt.Printf("%s wrote %s\n", ui.OKTag(), path)
	fmt.Println("  Edit name, source_paths, repository and the password source, then run: strata init")
	return nil
}
