package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lacquerai/silhouette/internal/cluster"
	"github.com/lacquerai/silhouette/internal/execcontext"
	"github.com/lacquerai/silhouette/internal/stats"
	"github.com/lacquerai/silhouette/internal/store"
	"github.com/lacquerai/silhouette/internal/style"
)

var statsCmd = &cobra.Command{
	Use:   "stats [model]",
	Short: "Summarise the clusters of a saved model",
	Long: `Recompute the per-cluster statistics of a model written with 'silq run --save'.

No dataset is needed: the statistics only depend on the stored coefficients.`,
	Example: `
  silq stats model.yaml                  # Coloured statistics table
  silq stats model.yaml --plain          # Without colours
  silq stats model.yaml --output json    # JSON output for automation`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runCtx := execcontext.New(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		return showModelStats(runCtx, args[0])
	},
}

var statsPlain bool

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().BoolVar(&statsPlain, "plain", false, "render the statistics without colours")
}

// ModelStats is the structured output of the stats command.
type ModelStats struct {
	Model      string      `json:"model" yaml:"model"`
	Source     string      `json:"source,omitempty" yaml:"source,omitempty"`
	Method     string      `json:"method,omitempty" yaml:"method,omitempty"`
	CreatedAt  *time.Time  `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	Clusters   int         `json:"clusters" yaml:"clusters"`
	Rows       int         `json:"rows" yaml:"rows"`
	Statistics stats.Table `json:"statistics" yaml:"statistics"`
}

func loadModelStats(path string) (*cluster.Model, *ModelStats, error) {
	model, meta, err := store.LoadModel(path)
	if err != nil {
		return nil, nil, err
	}

	out := &ModelStats{
		Model:      path,
		Source:     meta.Source,
		Method:     meta.Method,
		Clusters:   model.Len(),
		Rows:       model.Rows(),
		Statistics: stats.Aggregate(model),
	}
	if !meta.CreatedAt.IsZero() {
		out.CreatedAt = &meta.CreatedAt
	}
	return model, out, nil
}

func showModelStats(runCtx execcontext.RunContext, path string) error {
	_, ms, err := loadModelStats(path)
	if err != nil {
		return err
	}

	if outputFormatFlag() != "text" {
		printOutput(runCtx, ms)
		return nil
	}

	w := runCtx.StdOut
	if !viper.GetBool("quiet") {
		fmt.Fprintf(w, "\n%s: %s rows, %s clusters", style.FormatFilePath(path),
			style.InfoStyle.Render(fmt.Sprint(ms.Rows)),
			style.InfoStyle.Render(fmt.Sprint(ms.Clusters)))
		if ms.Method != "" {
			fmt.Fprintf(w, ", %s distance", ms.Method)
		}
		if ms.Source != "" {
			fmt.Fprintf(w, ", from %s", ms.Source)
		}
		fmt.Fprint(w, "\n\n")
	}

	fmt.Fprint(w, style.RenderStats(ms.Statistics, statsPlain))
	return nil
}
