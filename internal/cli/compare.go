package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss/v2"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lacquerai/silhouette/internal/execcontext"
	"github.com/lacquerai/silhouette/internal/stats"
	"github.com/lacquerai/silhouette/internal/style"
)

var compareCmd = &cobra.Command{
	Use:   "compare [model-a] [model-b]",
	Short: "Compare the cluster statistics of two saved models",
	Long: `Compare the per-cluster statistics of two models written with 'silq run --save'.

Clusters are matched by name. Every delta is the value of the second model
minus the value of the first one, so a positive average means the second
clustering fits better.`,
	Example: `
  silq compare before.yaml after.yaml           # Per-cluster deltas
  silq compare before.yaml after.yaml --diff    # Line diff of both statistics tables
  silq compare a.yaml b.yaml --output json      # JSON output for automation`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		runCtx := execcontext.New(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		return compareModels(runCtx, args[0], args[1])
	},
}

var compareDiff bool

func init() {
	rootCmd.AddCommand(compareCmd)

	compareCmd.Flags().BoolVar(&compareDiff, "diff", false, "show a line diff of the two statistics tables")
}

// ClusterDelta is the difference of one cluster between two models.
type ClusterDelta struct {
	Cluster string             `json:"cluster" yaml:"cluster"`
	SizeA   int                `json:"size_a" yaml:"size_a"`
	SizeB   int                `json:"size_b" yaml:"size_b"`
	OnlyIn  string             `json:"only_in,omitempty" yaml:"only_in,omitempty"`
	Delta   map[string]float64 `json:"delta,omitempty" yaml:"delta,omitempty"`
}

// Comparison is the structured output of the compare command.
type Comparison struct {
	A        *ModelStats    `json:"a" yaml:"a"`
	B        *ModelStats    `json:"b" yaml:"b"`
	Clusters []ClusterDelta `json:"clusters" yaml:"clusters"`
	Weighted ClusterDelta   `json:"weighted" yaml:"weighted"`
	Diff     string         `json:"diff,omitempty" yaml:"diff,omitempty"`
}

func deltaOf(a, b stats.Row) map[string]float64 {
	d := make(map[string]float64, len(stats.Metrics))
	for _, m := range stats.Metrics {
		d[m.String()] = b.Value(m) - a.Value(m)
	}
	return d
}

// compareTables matches clusters by name. Clusters of a come first in their
// order, followed by those only present in b.
func compareTables(a, b stats.Table) ([]ClusterDelta, ClusterDelta) {
	byName := make(map[string]stats.Row, len(b.Rows))
	for _, r := range b.Rows {
		byName[r.Cluster] = r
	}

	var deltas []ClusterDelta
	seen := make(map[string]bool, len(a.Rows))
	for _, ra := range a.Rows {
		seen[ra.Cluster] = true
		rb, ok := byName[ra.Cluster]
		if !ok {
			deltas = append(deltas, ClusterDelta{Cluster: ra.Cluster, SizeA: ra.Size, OnlyIn: "a"})
			continue
		}
		deltas = append(deltas, ClusterDelta{
			Cluster: ra.Cluster,
			SizeA:   ra.Size,
			SizeB:   rb.Size,
			Delta:   deltaOf(ra, rb),
		})
	}
	for _, rb := range b.Rows {
		if !seen[rb.Cluster] {
			deltas = append(deltas, ClusterDelta{Cluster: rb.Cluster, SizeB: rb.Size, OnlyIn: "b"})
		}
	}

	weighted := ClusterDelta{
		Cluster: stats.WeightedName,
		SizeA:   a.Weighted.Size,
		SizeB:   b.Weighted.Size,
		Delta:   deltaOf(a.Weighted, b.Weighted),
	}
	return deltas, weighted
}

// diffStats returns a unified line diff of the plain statistics tables.
func diffStats(a, b stats.Table) []diffmatchpatch.Diff {
	dmp := diffmatchpatch.New()
	textA, textB, lines := dmp.DiffLinesToChars(stats.Render(a, nil), stats.Render(b, nil))
	diffs := dmp.DiffMain(textA, textB, false)
	return dmp.DiffCharsToLines(diffs, lines)
}

func renderDiff(diffs []diffmatchpatch.Diff, colour bool) string {
	var b strings.Builder
	added := lipgloss.NewStyle().Foreground(style.SuccessColor)
	removed := lipgloss.NewStyle().Foreground(style.ErrorColor)

	for _, d := range diffs {
		prefix, st := "  ", lipgloss.NewStyle()
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix, st = "+ ", added
		case diffmatchpatch.DiffDelete:
			prefix, st = "- ", removed
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			line = prefix + line
			if colour {
				line = st.Render(strings.TrimSuffix(line, "\n")) + "\n"
			}
			b.WriteString(line)
		}
	}
	return b.String()
}

func compareModels(runCtx execcontext.RunContext, pathA, pathB string) error {
	_, a, err := loadModelStats(pathA)
	if err != nil {
		return err
	}
	_, b, err := loadModelStats(pathB)
	if err != nil {
		return err
	}

	cmp := Comparison{A: a, B: b}
	cmp.Clusters, cmp.Weighted = compareTables(a.Statistics, b.Statistics)

	var diffs []diffmatchpatch.Diff
	if compareDiff {
		diffs = diffStats(a.Statistics, b.Statistics)
	}

	if outputFormatFlag() != "text" {
		if compareDiff {
			cmp.Diff = renderDiff(diffs, false)
		}
		printOutput(runCtx, cmp)
		return nil
	}

	w := runCtx.StdOut
	if !viper.GetBool("quiet") {
		fmt.Fprintf(w, "\nComparing %s (a) with %s (b)\n\n", style.FormatFilePath(pathA), style.FormatFilePath(pathB))
	}

	headers := []string{"Cluster", "Size"}
	for _, m := range stats.Metrics {
		headers = append(headers, "Δ "+m.Title())
	}

	rows := make([][]string, 0, len(cmp.Clusters)+1)
	for _, d := range append(cmp.Clusters, cmp.Weighted) {
		row := []string{d.Cluster}
		switch d.OnlyIn {
		case "a":
			row = append(row, fmt.Sprintf("%d → -", d.SizeA), style.MutedStyle.Render("only in a"))
		case "b":
			row = append(row, fmt.Sprintf("- → %d", d.SizeB), style.MutedStyle.Render("only in b"))
		default:
			row = append(row, fmt.Sprintf("%d → %d", d.SizeA, d.SizeB))
			for _, m := range stats.Metrics {
				row = append(row, formatDelta(d.Delta[m.String()], m.HigherIsBetter()))
			}
		}
		rows = append(rows, row)
	}
	printTable(w, headers, rows)

	if compareDiff {
		fmt.Fprintln(w)
		fmt.Fprint(w, renderDiff(diffs, true))
	}
	return nil
}

// formatDelta prints a delta with its sign, green when it is an improvement.
func formatDelta(v float64, higherIsBetter bool) string {
	v = stats.Round2(v)
	text := fmt.Sprintf("%+.2f", v)
	if v == 0 {
		return style.MutedStyle.Render(fmt.Sprintf("%.2f", 0.0))
	}
	if (v > 0) == higherIsBetter {
		return lipgloss.NewStyle().Foreground(style.SuccessColor).Render(text)
	}
	return lipgloss.NewStyle().Foreground(style.ErrorColor).Render(text)
}
