package cli

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lacquerai/silhouette/internal/cluster"
	"github.com/lacquerai/silhouette/internal/config"
	"github.com/lacquerai/silhouette/internal/dataset"
	"github.com/lacquerai/silhouette/internal/execcontext"
	"github.com/lacquerai/silhouette/internal/style"
)

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate [datasets...]",
	Short: "Check datasets against the analysis settings",
	Long: `Check that datasets can be analysed with the current settings without
computing any coefficient.

This command checks:
- The file parses as CSV, TSV, YAML or JSON
- The label column exists and holds string or integer values
- Included and excluded columns exist
- At least one comparable feature column is left
- Every row has a value of the declared type in every feature column`,
	Example: `
  silq validate iris.csv                     # Validate a single dataset
  silq validate data/*.csv                   # Validate several datasets
  silq validate --recursive ./data           # Validate a directory recursively
  silq validate --label species iris.csv     # Validate with a specific label column
  silq validate --output json iris.csv       # JSON output for CI/CD`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runCtx := execcontext.New(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		return validateDatasets(cmd, runCtx, args)
	},
}

var (
	recursive bool
	showAll   bool
)

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "recursively validate datasets in directories")
	validateCmd.Flags().BoolVar(&showAll, "show-all", false, "show all validation results, including successful ones")
	addAnalysisFlags(validateCmd)
}

// ValidationResult represents the result of validating one dataset
type ValidationResult struct {
	File     string        `json:"file" yaml:"file"`
	Valid    bool          `json:"valid" yaml:"valid"`
	Duration time.Duration `json:"duration_ms" yaml:"duration_ms"`
	Rows     int           `json:"rows,omitempty" yaml:"rows,omitempty"`
	Clusters int           `json:"clusters,omitempty" yaml:"clusters,omitempty"`
	Label    string        `json:"label,omitempty" yaml:"label,omitempty"`
	Features int           `json:"features,omitempty" yaml:"features,omitempty"`
	Errors   []string      `json:"errors,omitempty" yaml:"errors,omitempty"`
	Warnings []string      `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// ValidationSummary represents the summary of all validation results
type ValidationSummary struct {
	Total    int                `json:"total" yaml:"total"`
	Valid    int                `json:"valid" yaml:"valid"`
	Invalid  int                `json:"invalid" yaml:"invalid"`
	Duration time.Duration      `json:"total_duration_ms" yaml:"total_duration_ms"`
	Results  []ValidationResult `json:"results" yaml:"results"`
}

func validateDatasets(cmd *cobra.Command, runCtx execcontext.RunContext, args []string) error {
	start := time.Now()

	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	files, err := collectFiles(args, recursive)
	if err != nil {
		return fmt.Errorf("failed to collect files: %w", err)
	}

	if len(files) == 0 {
		style.Warning(runCtx.StdErr, "No datasets found to validate")
		return nil
	}

	results := make([]ValidationResult, 0, len(files))
	for _, file := range files {
		result := validateSingleFile(settings, file)
		results = append(results, result)

		if showProgress() {
			if result.Valid {
				if showAll {
					style.Success(runCtx.StdOut, fmt.Sprintf("%s %s", file, style.FormatDuration(result.Duration)))
				}
			} else {
				style.Error(runCtx.StdOut, fmt.Sprintf("%s %s", file, style.FormatDuration(result.Duration)))
				for _, msg := range result.Errors {
					fmt.Fprintf(runCtx.StdOut, "    %s\n", msg)
				}
			}
			if !result.Valid || showAll {
				for _, warning := range result.Warnings {
					fmt.Fprintf(runCtx.StdOut, "    %s\n", style.MutedStyle.Render(warning))
				}
			}
		}
	}

	summary := ValidationSummary{
		Total:    len(results),
		Duration: time.Since(start),
		Results:  results,
	}
	for _, result := range results {
		if result.Valid {
			summary.Valid++
		} else {
			summary.Invalid++
		}
	}

	if outputFormatFlag() != "text" {
		printOutput(runCtx, summary)
	} else {
		printValidationSummary(runCtx, summary)
	}

	if summary.Invalid > 0 {
		return fmt.Errorf("%d of %d dataset(s) failed validation", summary.Invalid, summary.Total)
	}
	return nil
}

// validateSingleFile loads one dataset and resolves the settings against it.
// Rows with cells the metric cannot compare are errors because they would
// make the feature vectors differ in length.
func validateSingleFile(settings config.Settings, filename string) (result ValidationResult) {
	start := time.Now()
	result = ValidationResult{
		File:  filename,
		Valid: true,
	}
	defer func() {
		result.Duration = time.Since(start)
		log.Debug().
			Str("file", filename).
			Bool("valid", result.Valid).
			Dur("duration", result.Duration).
			Msg("Validated dataset")
	}()

	table, err := dataset.LoadFile(filename, settings.Missing...)
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	result.Rows = table.Len()

	resolved, vr := settings.Resolve(table)
	result.Warnings = append(result.Warnings, vr.Warnings...)
	if vr.HasErrors() {
		result.Valid = false
		for _, e := range vr.Errors {
			result.Errors = append(result.Errors, e.Error())
		}
		return result
	}

	result.Label = resolved.LabelName
	result.Features = resolved.Extractor.Plan().Total()

	labels, err := table.Labels(resolved.Label)
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	result.Clusters = cluster.Group(labels).Len()

	if settings.Matrix != "" {
		return result
	}

	for i, row := range table.Rows {
		_, anomalies := resolved.Extractor.Extract(i, row)
		for _, a := range anomalies {
			result.Valid = false
			result.Errors = append(result.Errors, a.Error())
		}
	}

	return result
}

func collectFiles(args []string, recursive bool) ([]string, error) {
	var files []string

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}

		switch {
		case info.IsDir() && recursive:
			err := filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if !d.IsDir() && isDatasetFile(path) {
					files = append(files, path)
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("error walking directory %s: %w", arg, err)
			}
		case info.IsDir():
			return nil, fmt.Errorf("%s is a directory, use --recursive to validate directories", arg)
		case isDatasetFile(arg):
			files = append(files, arg)
		default:
			return nil, fmt.Errorf("%s is not a dataset file (.csv, .tsv, .txt, .yaml, .yml or .json)", arg)
		}
	}

	return files, nil
}

func isDatasetFile(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".tsv", ".txt", ".yaml", ".yml", ".json":
		return true
	}
	return false
}

func printValidationSummary(runCtx execcontext.RunContext, summary ValidationSummary) {
	if viper.GetBool("quiet") {
		return
	}

	w := runCtx.StdOut
	fmt.Fprintln(w)
	if summary.Invalid == 0 {
		style.Success(w, fmt.Sprintf("All %d dataset(s) are valid %s", summary.Total, style.FormatDuration(summary.Duration)))
	} else {
		style.Error(w, fmt.Sprintf("%d of %d dataset(s) failed validation %s", summary.Invalid, summary.Total, style.FormatDuration(summary.Duration)))
	}

	if viper.GetBool("verbose") {
		fmt.Fprintf(w, "\nDetailed results:\n")
		headers := []string{"File", "Status", "Rows", "Clusters", "Label", "Features"}
		rows := make([][]string, len(summary.Results))

		for i, result := range summary.Results {
			status := style.SuccessIcon() + " Valid"
			if !result.Valid {
				status = style.ErrorIcon() + " Invalid"
			}
			rows[i] = []string{
				result.File,
				status,
				fmt.Sprint(result.Rows),
				fmt.Sprint(result.Clusters),
				result.Label,
				fmt.Sprint(result.Features),
			}
		}

		printTable(w, headers, rows)
	}
}
