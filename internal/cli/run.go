package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lacquerai/silhouette/internal/analysis"
	"github.com/lacquerai/silhouette/internal/config"
	"github.com/lacquerai/silhouette/internal/dataset"
	"github.com/lacquerai/silhouette/internal/execcontext"
	"github.com/lacquerai/silhouette/internal/store"
	"github.com/lacquerai/silhouette/internal/style"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [dataset]",
	Short: "Compute silhouette coefficients for a dataset",
	Long: `Compute the silhouette coefficient of every row of a labelled dataset and
summarise each cluster.

This command:
- Reads the dataset and picks the label column
- Builds a feature vector per row from the selected columns
- Computes pairwise distances, precomputed or on the fly
- Computes every coefficient in parallel with live progress
- Prints per-cluster statistics rated from best to worst`,
	Example: `
  silq run iris.csv                          # Label is the last column
  silq run iris.csv --label species          # Pick the label column by name
  silq run iris.csv --label-index 0          # ...or by position
  silq run names.csv --method jaro-winkler   # Compare strings with Jaro-Winkler
  silq run iris.csv --save model.yaml        # Keep the coefficients
  silq run iris.csv --annotate out.csv       # Write the input with a coefficient column
  silq run iris.csv --output json            # JSON output for automation`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runCtx := execcontext.New(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		return runAnalysis(cmd, runCtx, args[0])
	},
}

var (
	// Output options
	runSave     string
	runAnnotate string
	runHistory  bool
	runTimeout  time.Duration
	runSort     bool
	runMembers  bool
	runPlain    bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	addAnalysisFlags(runCmd)

	flags := runCmd.Flags()
	flags.StringVar(&runSave, "save", "", "save the model to a YAML file")
	flags.StringVar(&runAnnotate, "annotate", "", "write the dataset with a coefficient column to a CSV file")
	flags.BoolVar(&runHistory, "history", false, "record the run in the history database")
	flags.DurationVar(&runTimeout, "timeout", 0, "overall analysis timeout (0 disables it)")
	flags.BoolVar(&runMembers, "members", false, "list the coefficient of every row per cluster")
	flags.BoolVar(&runSort, "sort", false, "order listed members by descending coefficient")
	flags.BoolVar(&runPlain, "plain", false, "render the statistics without colours")
}

// analysisFlags maps the shared analysis flags to their configuration keys
var analysisFlags = map[string]string{
	"label":        config.KeyLabel,
	"include":      config.KeyInclude,
	"exclude":      config.KeyExclude,
	"method":       config.KeyMethod,
	"workers":      config.KeyWorkers,
	"distance":     config.KeyDistance,
	"matrix":       config.KeyMatrix,
	"matrix-limit": config.KeyMatrixLimit,
}

// addAnalysisFlags defines the flags every command reading analysis settings
// accepts.
func addAnalysisFlags(cmd *cobra.Command) {
	defaults := config.Default()
	flags := cmd.Flags()

	flags.String("label", "", "name of the cluster label column (default: last column)")
	flags.Int("label-index", -1, "position of the label column, negative counts from the end")
	flags.StringSlice("include", nil, "feature columns to use (default: all but the label)")
	flags.StringSlice("exclude", nil, "feature columns to leave out")
	flags.String("method", defaults.Method, "string distance (levenshtein, jaro-winkler, hamming, jaccard, lcs)")
	flags.Int("workers", defaults.Workers, "rows computed in parallel")
	flags.String("distance", defaults.Distance, "distance mode (precomputed, on-the-fly)")
	flags.String("matrix", "", "precomputed distance matrix file used instead of the features")
	flags.Int("matrix-limit", defaults.MatrixLimit, "largest row count for which distances are precomputed")
}

// loadSettings reads the analysis settings from configuration, environment and
// the flags of cmd. viper keeps one binding per key, so the flags of the
// running command are bound here.
func loadSettings(cmd *cobra.Command) (config.Settings, error) {
	for name, key := range analysisFlags {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := viper.BindPFlag(key, f); err != nil {
				return config.Settings{}, err
			}
		}
	}

	settings, err := config.Load(viper.GetViper())
	if err != nil {
		return settings, err
	}

	if cmd.Flags().Changed("label-index") {
		idx, err := cmd.Flags().GetInt("label-index")
		if err != nil {
			return settings, err
		}
		settings.LabelIndex = &idx
	}
	return settings, nil
}

func runAnalysis(cmd *cobra.Command, runCtx execcontext.RunContext, path string) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(runCtx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runTimeout)
		defer cancel()
	}

	if showProgress() {
		fmt.Fprintf(runCtx.StdOut, "\nAnalysing %s\n\n", style.FormatFilePath(path))
	}

	runner := analysis.NewRunner()
	var tracker *ProgressTracker
	if showProgress() {
		tracker = NewProgressTracker(runCtx.StdOut)
		runner.SetListener(tracker)
	}

	result, err := runner.Run(ctx, analysis.Request{
		Source:   path,
		Settings: settings,
	})

	if result == nil {
		var invalid *config.InvalidError
		if errors.As(err, &invalid) && outputFormatFlag() == "text" {
			printValidationErrors(runCtx, invalid.Result)
		}
		return err
	}

	if runHistory {
		if herr := recordHistory(ctx, result); herr != nil {
			style.Warning(runCtx.StdErr, fmt.Sprintf("Failed to record run history: %v", herr))
		}
	}

	if err != nil {
		if outputFormatFlag() != "text" {
			printOutput(runCtx, result.Report())
		}
		return fmt.Errorf("analysis %s: %w", result.Status, err)
	}

	if runSave != "" {
		if err := store.SaveModel(runSave, result.Model, result.Meta()); err != nil {
			return err
		}
		log.Info().Str("path", runSave).Msg("Model saved")
	}

	if runAnnotate != "" {
		if err := writeAnnotated(runAnnotate, result); err != nil {
			return err
		}
		log.Info().Str("path", runAnnotate).Msg("Annotated dataset written")
	}

	if runSort {
		result.Model.SortDescending()
	}

	if outputFormatFlag() != "text" {
		printOutput(runCtx, result.Report())
		return nil
	}

	printResult(runCtx, result)
	return nil
}

func writeAnnotated(path string, result *analysis.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	if err := dataset.WriteCSV(f, result.Annotated()); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

func recordHistory(ctx context.Context, result *analysis.Result) error {
	history, err := store.OpenHistory(store.HistoryConfig{Path: viper.GetString(config.KeyHistoryPath)})
	if err != nil {
		return err
	}
	defer history.Close()

	run := result.HistoryRun()
	run.ModelPath = runSave
	// a cancelled run context must not lose the record
	return history.Record(context.WithoutCancel(ctx), run)
}

// printOutput writes data in the requested structured format.
func printOutput(runCtx execcontext.RunContext, data any) {
	switch outputFormatFlag() {
	case "yaml":
		style.PrintYAML(runCtx.StdOut, data)
	default:
		style.PrintJSON(runCtx.StdOut, data)
	}
}

func printResult(runCtx execcontext.RunContext, result *analysis.Result) {
	w := runCtx.StdOut

	if !viper.GetBool("quiet") {
		fmt.Fprintf(w, "\n%s rows, %s clusters, label %s, %s distance, %s %s\n\n",
			style.InfoStyle.Render(fmt.Sprint(result.Rows)),
			style.InfoStyle.Render(fmt.Sprint(result.Model.Len())),
			style.AccentStyle.Render(result.Label),
			result.Method,
			result.Distance,
			style.FormatDuration(result.Duration))
	}

	fmt.Fprint(w, style.RenderStats(result.Stats, runPlain))

	if runMembers || runSort {
		fmt.Fprintln(w)
		for _, c := range result.Model.Clusters {
			fmt.Fprintf(w, "%s %s\n", style.Swatch(c.Color), style.TitleStyle.Render(c.Name))
			for _, m := range c.Members {
				fmt.Fprintf(w, "    row %-6d %7.4f\n", m.Row, m.Coefficient)
			}
		}
	}

	if viper.GetBool("quiet") {
		return
	}

	if len(result.Warnings) > 0 || len(result.Anomalies) > 0 {
		fmt.Fprintln(w)
	}
	for _, warning := range result.Warnings {
		style.Warning(w, warning)
	}
	if n := len(result.Anomalies); n > 0 {
		style.Warning(w, fmt.Sprintf("%d cells could not be compared and were left out", n))
		if viper.GetBool("verbose") {
			for _, a := range result.Anomalies {
				fmt.Fprintf(w, "    %s\n", style.MutedStyle.Render(a.Error()))
			}
		}
	}

	var saved []string
	if runSave != "" {
		saved = append(saved, "model "+style.FormatFilePath(runSave))
	}
	if runAnnotate != "" {
		saved = append(saved, "annotated dataset "+style.FormatFilePath(runAnnotate))
	}
	if len(saved) > 0 {
		fmt.Fprintln(w)
		style.Success(w, "Saved "+strings.Join(saved, " and "))
	}
}

// printValidationErrors lists configuration problems sorted by field
func printValidationErrors(runCtx execcontext.RunContext, vr *config.ValidationResult) {
	errs := append([]*config.ValidationError(nil), vr.Errors...)
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })

	style.Error(runCtx.StdErr, "Invalid configuration")
	for _, e := range errs {
		line := fmt.Sprintf("    %s: %s", style.AccentStyle.Render(e.Field), e.Message)
		if e.Value != nil {
			line += style.MutedStyle.Render(fmt.Sprintf(" (%v)", e.Value))
		}
		fmt.Fprintln(runCtx.StdErr, line)
	}
	for _, w := range vr.Warnings {
		style.Warning(runCtx.StdErr, w)
	}
}
