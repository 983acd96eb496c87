package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/majorcontext/strata/internal/backup"
	intcli "github.com/majorcontext/strata/internal/cli"
	"github.com/majorcontext/strata/internal/metadata"
	"github.com/majorcontext/strata/internal/ui"
)

var (
	logLimit    int
	logAuthor   string
	logTag      string
	showFiles   bool
	searchLimit int
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "List snapshots, newest first",
	Long: `List every snapshot in the repository, newest first. Snapshots without
local metadata (created by another tool, or whose metadata was lost) are
shown as untracked.

Examples:
  strata log -n 10
  strata log --tag release
  strata log --author alice --json`,
	Args: cobra.NoArgs,
	RunE: runLog,
}

var showCmd = &cobra.Command{
	Use:   "show [ref]",
	Short: "Show one snapshot",
	Long: `Show a snapshot's metadata. ref may be latest, HEAD, HEAD~N, ~N, a tag or
an ID prefix of at least four characters; it defaults to latest.

Examples:
  strata show
  strata show HEAD~2 --files
  strata show release`,
	Args: cobra.MaximumNArgs(1),
	RunE: runShow,
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find snapshots by message or tag",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

var diffCmd = &cobra.Command{
	Use:   "diff <ref-a> [ref-b]",
	Short: "List paths changed between two snapshots",
	Long: `List the paths recorded as changed by every snapshot after ref-a up to and
including ref-b (default latest). Snapshots without metadata in the range
are counted but their changes are unknown.

Examples:
  strata diff HEAD~3
  strata diff v1.0 v1.1`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runDiff,
}

func init() {
	rootCmd.AddCommand(logCmd, showCmd, searchCmd, diffCmd)
	logCmd.Flags().IntVarP(&logLimit, "limit", "n", 0, "show at most N snapshots")
	logCmd.Flags().StringVar(&logAuthor, "author", "", "only snapshots by this author")
	logCmd.Flags().StringVar(&logTag, "tag", "", "only snapshots with this tag")
	showCmd.Flags().BoolVar(&showFiles, "files", false, "list changed paths")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 20, "show at most N results")
}

func runLog(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	entries, err := s.orch.Log(ctx, backup.LogFilter{Limit: logLimit, Author: logAuthor, Tag: logTag})
	if err != nil {
		return err
	}
	return printEntries(os.Stdout, entries, "No snapshots found")
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	entries, err := s.orch.Search(ctx, args[0], searchLimit)
	if err != nil {
		return err
	}
	return printEntries(os.Stdout, entries, fmt.Sprintf("No snapshots match %q", args[0]))
}

func printEntries(w io.Writer, entries []backup.Entry, empty string) error {
	if jsonOut {
		if entries == nil {
			entries = []backup.Entry{}
		}
		return intcli.WriteJSON(w, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, empty)
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tAUTHOR\tTAGS\tMESSAGE")
	untracked := 0
	for _, e := range entries {
		msg := intcli.Truncate(e.Message(), 60)
		if !e.Tracked() {
			msg = ui.Dim("(untracked)")
			untracked++
		}
		author := e.Author()
		if author == "" {
			author = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.Snapshot.Short(),
			intcli.FormatTime(e.Snapshot.Time),
			author,
			intcli.FormatTags(e.Tags()),
			msg,
		)
	}
	tw.Flush()
	if untracked > 0 {
		fmt.Fprintf(w, "\n%d of %d snapshots have no local metadata\n", untracked, len(entries))
	}
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	ref := "latest"
	if len(args) == 1 {
		ref = args[0]
	}
	ctx, cancel := signalContext()
	defer cancel()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	e, err := s.orch.Show(ctx, ref)
	if err != nil {
		return err
	}
	if jsonOut {
		if !showFiles && e.Record != nil {
			rec := *e.Record
			rec.ChangedPaths = nil
			e.Record = &rec
		}
		return intcli.WriteJSON(os.Stdout, e)
	}

	ui.Section("snapshot " + e.Snapshot.ID)
	ui.Field("Date", intcli.FormatTime(e.Snapshot.Time)+" ("+intcli.FormatTimeAgo(e.Snapshot.Time)+")")
	ui.Field("Host", e.Snapshot.Hostname)
	ui.Field("Tags", intcli.FormatTags(e.Tags()))
	if author := e.Author(); author != "" {
		ui.Field("Author", author)
	}
	if !e.Tracked() {
		fmt.Println()
		fmt.Println(ui.Dim("  No local metadata for this snapshot."))
		return nil
	}

	rec := e.Record
	if rec.Parent != "" {
		ui.Field("Parent", intcli.ShortID(rec.Parent))
	}
	ui.Field("Changes", fmt.Sprintf("%d added, %d modified, %d removed", rec.Changes.Added, rec.Changes.Modified, rec.Changes.Removed))
	ui.Field("Processed", fmt.Sprintf("%s files, %s", intcli.FormatCount(rec.Stats.TotalFilesProcessed), intcli.FormatBytes(rec.Stats.TotalBytesProcessed)))
	ui.Field("Added", intcli.FormatBytes(rec.Stats.DataAdded))
	if rec.Message != "" {
		fmt.Printf("\n    %s\n", rec.Message)
	}
	if showFiles {
		fmt.Println()
		printChanges(os.Stdout, rec.ChangedPaths)
		if rec.Changes.Total() > len(rec.ChangedPaths) {
			fmt.Printf("  ... %d more not recorded\n", rec.Changes.Total()-len(rec.ChangedPaths))
		}
	}
	return nil
}

func printChanges(w io.Writer, changes []metadata.FileChange) {
	for _, c := range changes {
		var mark string
		switch c.Kind {
		case metadata.Added:
			mark = ui.Green("A")
		case metadata.Modified:
			mark = ui.Yellow("M")
		case metadata.Removed:
			mark = ui.Red("D")
		}
		fmt.Fprintf(w, "  %s %s\n", mark, c.Path)
	}
}

func runDiff(cmd *cobra.Command, args []string) error {
	to := "latest"
	if len(args) == 2 {
		to = args[1]
	}
	ctx, cancel := signalContext()
	defer cancel()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	d, err := s.orch.Diff(ctx, args[0], to)
	if err != nil {
		return err
	}
	if jsonOut {
		return intcli.WriteJSON(os.Stdout, d)
	}

	fmt.Printf("%s..%s: %d paths changed\n", d.From.Snapshot.Short(), d.To.Snapshot.Short(), len(d.Changes))
	printChanges(os.Stdout, d.Changes)
	if d.Untracked > 0 {
		ui.Warnf("%d snapshots in the range have no local metadata; their changes are not listed", d.Untracked)
	}
	if d.Truncated {
		ui.Warn("some snapshots recorded more changes than were stored; the list is incomplete")
	}
	return nil
}
