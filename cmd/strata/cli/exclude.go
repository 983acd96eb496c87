package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	intcli "github.com/majorcontext/strata/internal/cli"
	"github.com/majorcontext/strata/internal/config"
	"github.com/majorcontext/strata/internal/exclude"
	"github.com/majorcontext/strata/internal/log"
	"github.com/majorcontext/strata/internal/ui"
)

var (
	analyzeTop    int
	generateForce bool
)

var excludeCmd = &cobra.Command{
	Use:   "exclude",
	Short: "Inspect and generate exclusion rules",
}

var excludeAnalyzeCmd = &cobra.Command{
	Use:   "analyze [path]",
	Short: "Report what the exclusion rules keep and drop",
	Long: `Walk a directory (default: every source path) and report how many files and
bytes each rule excludes, plus the largest files that would be backed up.

Examples:
  strata exclude analyze
  strata exclude analyze ~/Documents/projects --top 20`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExcludeAnalyze,
}

var excludeCheckCmd = &cobra.Command{
	Use:   "check <path>...",
	Short: "Explain whether paths would be backed up",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runExcludeCheck,
}

var excludeGenerateCmd = &cobra.Command{
	Use:   "generate [dir]",
	Short: "Write a suggested ignore file",
	Long: `Inspect dir (default: current directory) for project markers such as
package.json or go.mod and write an ignore file with matching patterns.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExcludeGenerate,
}

func init() {
	rootCmd.AddCommand(excludeCmd)
	excludeCmd.AddCommand(excludeAnalyzeCmd, excludeCheckCmd, excludeGenerateCmd)
	excludeAnalyzeCmd.Flags().IntVar(&analyzeTop, "top", 10, "number of largest included files to list")
	excludeGenerateCmd.Flags().BoolVar(&generateForce, "force", false, "overwrite an existing ignore file")
}

// excludeSettings returns the configured rules, or the defaults when no
// strata.yaml is available.
func excludeSettings() (exclude.Options, []string) {
	cfg, err := loadConfig()
	if err != nil {
		log.Debug("no usable config; using default exclusion settings", "error", err)
		return exclude.Options{IgnoreFile: exclude.DefaultIgnoreFile}, nil
	}
	return cfg.ExcludeOptions(), cfg.SourcePaths
}

func runExcludeAnalyze(cmd *cobra.Command, args []string) error {
	opts, roots := excludeSettings()
	if len(args) == 1 {
		dir, err := intcli.ResolveDir(args[0])
		if err != nil {
			return err
		}
		roots = []string{dir}
	}
	if len(roots) == 0 {
		return fmt.Errorf("no path given and no source_paths in %s", config.Locate(configPath))
	}

	ctx, cancel := signalContext()
	defer cancel()

	var reports []*exclude.Report
	for _, root := range roots {
		rep, err := exclude.Analyze(ctx, exclude.New(root, opts), analyzeTop)
		if err != nil {
			return fmt.Errorf("analyzing %s: %w", root, err)
		}
		reports = append(reports, rep)
	}
	if jsonOut {
		return intcli.WriteJSON(os.Stdout, reports)
	}
	for i, rep := range reports {
		if i > 0 {
			fmt.Println()
		}
		printReport(rep)
	}
	return nil
}

func printReport(rep *exclude.Report) {
	ui.Section(intcli.ShortenPath(rep.Root))
	ui.Field("Included", fmt.Sprintf("%s files, %s", intcli.FormatCount(rep.IncludedFiles), intcli.FormatBytes(rep.IncludedBytes)))
	ui.Field("Excluded", fmt.Sprintf("%s files, %s", intcli.FormatCount(rep.ExcludedFiles), intcli.FormatBytes(rep.ExcludedBytes)))

	if len(rep.Rules) > 0 {
		fmt.Println()
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  RULE\tSOURCE\tFILES\tSIZE")
		for _, r := range rep.Rules {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", r.Pattern, r.Source, intcli.FormatCount(r.Files), intcli.FormatBytes(r.Bytes))
		}
		tw.Flush()
	}
	if len(rep.Largest) > 0 {
		fmt.Println()
		fmt.Println(ui.Bold("  Largest included files"))
		for _, e := range rep.Largest {
			fmt.Printf("  %10s  %s\n", intcli.FormatBytes(e.Size), e.Rel)
		}
	}
}

type checkResult struct {
	Path     string           `json:"path"`
	Outside  bool             `json:"outside,omitempty"`
	Verdict  *exclude.Verdict `json:"verdict,omitempty"`
	Decision string           `json:"decision"`
}

func runExcludeCheck(cmd *cobra.Command, args []string) error {
	opts, roots := excludeSettings()
	if len(roots) == 0 {
		return fmt.Errorf("exclude check needs source_paths from %s", config.Locate(configPath))
	}
	set := exclude.NewSet(roots, opts)

	var results []checkResult
	for _, arg := range args {
		res, err := checkPath(set, arg)
		if err != nil {
			return err
		}
		results = append(results, res)
	}
	if jsonOut {
		return intcli.WriteJSON(os.Stdout, results)
	}
	for _, r := range results {
		switch {
		case r.Outside:
			fmt.Printf("%s %s: outside every source path\n", ui.WarnTag(), r.Path)
		case r.Verdict.Decision == exclude.Include:
			fmt.Printf("%s %s: included%s\n", ui.OKTag(), r.Path, describeRule(*r.Verdict))
		default:
			fmt.Printf("%s %s: excluded%s\n", ui.FailTag(), r.Path, describeRule(*r.Verdict))
		}
	}
	return nil
}

func checkPath(set *exclude.Set, arg string) (checkResult, error) {
	abs, err := filepath.Abs(arg)
	if err != nil {
		return checkResult{}, err
	}
	isDir := false
	if info, err := os.Stat(abs); err == nil {
		isDir = info.IsDir()
	}
	v, ok := set.Decide(abs, isDir)
	if !ok {
		return checkResult{Path: arg, Outside: true, Decision: exclude.Exclude.String()}, nil
	}
	return checkResult{Path: arg, Verdict: &v, Decision: v.Decision.String()}, nil
}

func describeRule(v exclude.Verdict) string {
	switch {
	case v.Inherited != "":
		return fmt.Sprintf(" (parent %s excluded by %q in %s)", v.Inherited, v.Pattern, v.Source)
	case v.Pattern == "":
		return ""
	case v.Line > 0:
		return fmt.Sprintf(" (%q, %s:%d)", v.Pattern, v.Source, v.Line)
	}
	return fmt.Sprintf(" (%q in %s)", v.Pattern, v.Source)
}

func runExcludeGenerate(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	dir, err := intcli.ResolveDir(dir)
	if err != nil {
		return err
	}
	opts, _ := excludeSettings()

	if dryRun {
		fmt.Print(exclude.Render(exclude.Suggest(dir)))
		return nil
	}
	path, err := exclude.WriteIgnoreFile(dir, opts.IgnoreFile, generateForce)
	if err != nil {
		return err
	}
	fmt.Printf("%s wrote %s\n", ui.OKTag(), intcli.ShortenPath(path))
	return nil
}
