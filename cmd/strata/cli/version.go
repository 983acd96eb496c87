package cli

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/spf13/cobra"

	"github.com/majorcontext/strata/internal/config"
	"github.com/majorcontext/strata/internal/engine"
)

// Build-time variables injected via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of strata and restic",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("strata %s\n", version)
		if commit != "none" {
			fmt.Printf("  commit: %s\n", commit)
		}
		if date != "unknown" {
			fmt.Printf("  built:  %s\n", date)
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			fmt.Printf("  go:     %s\n", info.GoVersion)
		}

		cfg, _ := loadConfig()
		globalCfg, _ := config.LoadGlobal()
		bin := config.ResticBinary(cfg, globalCfg)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if v, err := engine.ResticVersion(ctx, bin); err == nil {
			fmt.Printf("  restic: %s\n", v)
		} else {
			fmt.Printf("  restic: not found (%s)\n", bin)
		}
	},
}
