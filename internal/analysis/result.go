package analysis

import (
	"time"

	"github.com/lacquerai/silhouette/internal/cluster"
	"github.com/lacquerai/silhouette/internal/dataset"
	"github.com/lacquerai/silhouette/internal/feature"
	"github.com/lacquerai/silhouette/internal/stats"
	"github.com/lacquerai/silhouette/internal/store"
)

// CoefficientColumn is the name of the column appended by Annotated.
const CoefficientColumn = "Silhouette Coefficient"

// Result is the outcome of one analysis.
type Result struct {
	RunID     string
	Source    string
	Method    string
	Distance  string
	Label     string
	Rows      int
	Status    string
	Error     string
	StartedAt time.Time
	Duration  time.Duration

	Table     *dataset.Table
	Model     *cluster.Model
	Stats     stats.Table
	Anomalies []feature.Anomaly
	Warnings  []string
}

// Coefficients returns the coefficient of every row in row order. Rows outside
// the model are reported as zero.
func (r *Result) Coefficients() []float64 {
	out := make([]float64, r.Rows)
	for row, s := range r.Model.Coefficients() {
		if row < len(out) {
			out[row] = s
		}
	}
	return out
}

// Annotated returns the input table with the coefficient appended to every
// row. The input table is not modified.
func (r *Result) Annotated() *dataset.Table {
	out := &dataset.Table{
		Columns: append(append([]dataset.Column(nil), r.Table.Columns...), dataset.Column{Name: CoefficientColumn, Kind: dataset.KindReal}),
		Rows:    make([][]dataset.Cell, len(r.Table.Rows)),
	}

	for i, row := range r.Table.Rows {
		cell := dataset.Missing()
		if s, err := r.Model.Coefficient(i); err == nil {
			cell = dataset.Real(s)
		}
		out.Rows[i] = append(append(make([]dataset.Cell, 0, len(row)+1), row...), cell)
	}

	return out
}

// RowColors returns the cluster colour of every row, for rendering annotated
// output.
func (r *Result) RowColors() []cluster.Color {
	out := make([]cluster.Color, r.Rows)
	for _, c := range r.Model.Clusters {
		for _, m := range c.Members {
			if m.Row < len(out) {
				out[m.Row] = m.Color
			}
		}
	}
	return out
}

// Meta returns the provenance stored with a saved model.
func (r *Result) Meta() store.Meta {
	return store.Meta{Source: r.Source, Method: r.Method, CreatedAt: r.StartedAt}
}

// HistoryRun converts the result into a history record.
func (r *Result) HistoryRun() *store.Run {
	run := &store.Run{
		ID:        r.RunID,
		CreatedAt: r.StartedAt,
		Source:    r.Source,
		Method:    r.Method,
		Distance:  r.Distance,
		Rows:      r.Rows,
		Anomalies: len(r.Anomalies),
		Duration:  r.Duration,
		Status:    r.Status,
		Error:     r.Error,
		Clusters:  r.Stats.Rows,
		Weighted:  r.Stats.Weighted,
	}
	if r.Model != nil {
		run.ClusterCount = r.Model.Len()
	}
	return run
}

// ClusterReport is the serialised form of one cluster.
type ClusterReport struct {
	Name         string    `json:"name" yaml:"name"`
	Color        string    `json:"color" yaml:"color"`
	Rows         []int     `json:"rows" yaml:"rows"`
	Coefficients []float64 `json:"coefficients" yaml:"coefficients"`
}

// Report is the serialised form of a result, used for JSON and YAML output
// and by the HTTP API.
type Report struct {
	RunID        string            `json:"run_id" yaml:"run_id"`
	Status       string            `json:"status" yaml:"status"`
	Source       string            `json:"source,omitempty" yaml:"source,omitempty"`
	Method       string            `json:"method" yaml:"method"`
	Distance     string            `json:"distance" yaml:"distance"`
	Label        string            `json:"label" yaml:"label"`
	Rows         int               `json:"rows" yaml:"rows"`
	Duration     time.Duration     `json:"duration" yaml:"duration"`
	Coefficients []float64         `json:"coefficients" yaml:"coefficients"`
	Clusters     []ClusterReport   `json:"clusters" yaml:"clusters"`
	Statistics   stats.Table       `json:"statistics" yaml:"statistics"`
	Anomalies    []feature.Anomaly `json:"anomalies,omitempty" yaml:"anomalies,omitempty"`
	Warnings     []string          `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Error        string            `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report builds the serialised form of the result.
func (r *Result) Report() *Report {
	rep := &Report{
		RunID:      r.RunID,
		Status:     r.Status,
		Source:     r.Source,
		Method:     r.Method,
		Distance:   r.Distance,
		Label:      r.Label,
		Rows:       r.Rows,
		Duration:   r.Duration,
		Statistics: r.Stats,
		Anomalies:  r.Anomalies,
		Warnings:   r.Warnings,
		Error:      r.Error,
	}
	if r.Model == nil {
		return rep
	}

	rep.Coefficients = r.Coefficients()
	for _, c := range r.Model.Clusters {
		rep.Clusters = append(rep.Clusters, ClusterReport{
			Name:         c.Name,
			Color:        c.Color.Hex(),
			Rows:         c.Rows(),
			Coefficients: c.Coefficients(),
		})
	}
	return rep
}
