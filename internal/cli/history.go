package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lacquerai/silhouette/internal/analysis"
	"github.com/lacquerai/silhouette/internal/config"
	"github.com/lacquerai/silhouette/internal/execcontext"
	"github.com/lacquerai/silhouette/internal/stats"
	"github.com/lacquerai/silhouette/internal/store"
	"github.com/lacquerai/silhouette/internal/style"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List analyses recorded with 'silq run --history'",
	Long: `List, inspect and delete the analyses recorded in the run history database.

The database location is read from history.path (SILQ_HISTORY_PATH) and
defaults to ~/.silq/history.db.`,
	Example: `
  silq history                       # Most recent runs
  silq history --limit 50            # More of them
  silq history --show 4f0c...        # Per-cluster statistics of one run
  silq history --delete 4f0c...      # Forget a run`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		runCtx := execcontext.New(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		return showHistory(runCtx)
	},
}

var (
	historyLimit  int
	historyShow   string
	historyDelete string
)

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to list (0 lists every run)")
	historyCmd.Flags().StringVar(&historyShow, "show", "", "show the statistics of one run")
	historyCmd.Flags().StringVar(&historyDelete, "delete", "", "delete one run")
	historyCmd.Flags().String("db", "", "history database (default: ~/.silq/history.db)")
	historyCmd.MarkFlagsMutuallyExclusive("show", "delete")

	_ = viper.BindPFlag(config.KeyHistoryPath, historyCmd.Flags().Lookup("db"))
}

func openHistory() (*store.History, error) {
	return store.OpenHistory(store.HistoryConfig{Path: viper.GetString(config.KeyHistoryPath)})
}

func showHistory(runCtx execcontext.RunContext) error {
	history, err := openHistory()
	if err != nil {
		return err
	}
	defer history.Close()

	switch {
	case historyDelete != "":
		if err := history.Delete(runCtx.Context, historyDelete); err != nil {
			return err
		}
		if !viper.GetBool("quiet") {
			style.Success(runCtx.StdOut, fmt.Sprintf("Deleted run %s", historyDelete))
		}
		return nil

	case historyShow != "":
		run, err := history.Get(runCtx.Context, historyShow)
		if err != nil {
			return err
		}
		if outputFormatFlag() != "text" {
			printOutput(runCtx, run)
			return nil
		}
		printRun(runCtx, run)
		return nil
	}

	runs, err := history.List(runCtx.Context, historyLimit)
	if err != nil {
		return err
	}

	if outputFormatFlag() != "text" {
		printOutput(runCtx, map[string]any{"runs": runs})
		return nil
	}

	if len(runs) == 0 {
		style.Info(runCtx.StdOut, "No runs recorded yet, use 'silq run --history' to record one")
		return nil
	}

	headers := []string{"ID", "Created", "Source", "Rows", "Clusters", "Avg. S", "Status", "Duration"}
	rows := make([][]string, len(runs))
	for i, run := range runs {
		rows[i] = []string{
			run.ID,
			run.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			run.Source,
			fmt.Sprint(run.Rows),
			fmt.Sprint(run.ClusterCount),
			fmt.Sprintf("%.2f", stats.Round2(run.Weighted.Avg)),
			statusText(run.Status),
			run.Duration.String(),
		}
	}
	printTable(runCtx.StdOut, headers, rows)
	return nil
}

func statusText(status string) string {
	switch status {
	case analysis.StatusCompleted:
		return style.SuccessIcon() + " " + status
	case analysis.StatusFailed:
		return style.ErrorIcon() + " " + status
	}
	return style.WarningIcon() + " " + status
}

func printRun(runCtx execcontext.RunContext, run *store.Run) {
	w := runCtx.StdOut

	fmt.Fprintf(w, "\n%s %s\n", style.TitleStyle.Render("Run"), run.ID)
	fmt.Fprintf(w, "  Source:   %s\n", style.FormatFilePath(run.Source))
	fmt.Fprintf(w, "  Created:  %s\n", run.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "  Status:   %s\n", statusText(run.Status))
	fmt.Fprintf(w, "  Distance: %s, %s\n", run.Method, run.Distance)
	fmt.Fprintf(w, "  Rows:     %d in %d clusters\n", run.Rows, run.ClusterCount)
	fmt.Fprintf(w, "  Duration: %s\n", run.Duration)
	if run.Anomalies > 0 {
		fmt.Fprintf(w, "  Skipped:  %d cells\n", run.Anomalies)
	}
	if run.ModelPath != "" {
		fmt.Fprintf(w, "  Model:    %s\n", style.FormatFilePath(run.ModelPath))
	}
	if run.Error != "" {
		fmt.Fprintf(w, "  Error:    %s\n", style.ErrorStyle.Render(run.Error))
	}

	if len(run.Clusters) == 0 {
		return
	}

	t := stats.Table{Rows: run.Clusters, Weighted: run.Weighted}
	stats.Rate(t.Rows)
	fmt.Fprintln(w)
	fmt.Fprint(w, style.RenderStats(t, false))
}
