// Package cli implements the strata command-line interface using Cobra.
// Commands load strata.yaml once, build the orchestrator and hand it the
// work; none of them talk to restic directly.
package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/majorcontext/strata/internal/config"
	"github.com/majorcontext/strata/internal/log"
	"github.com/majorcontext/strata/internal/ui"
)

var (
	verbose    bool
	dryRun     bool
	jsonOut    bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "strata",
	Short: "Git-like snapshots over restic",
	Long: `Strata keeps a restic repository of your directories and adds what restic
leaves out: commit-style messages, authors and tags stored locally, and
references such as HEAD~2, tags and ID prefixes.

Get started:
  strata init-config         # write a commented strata.yaml
  strata init                # create the restic repository
  strata snapshot -m "first" # take a snapshot
  strata log                 # list snapshots`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		globalCfg, _ := config.LoadGlobal()

		// Progress lines own the terminal while a snapshot or restore runs.
		interactive := cmd.Name() == "snapshot" && ui.IsTerminal(os.Stderr)

		if err := log.Init(log.Options{
			Verbose:       verbose,
			JSONFormat:    jsonOut,
			Interactive:   interactive,
			DebugDir:      filepath.Join(config.GlobalConfigDir(), "debug"),
			RetentionDays: globalCfg.Debug.RetentionDays,
		}); err != nil {
			cmd.PrintErrf("Warning: failed to initialize debug logging: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		log.Close()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to strata.yaml (env: STRATA_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "show what would happen without changing anything")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")
}
