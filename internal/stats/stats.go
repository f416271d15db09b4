// Package stats summarises silhouette coefficients per cluster.
package stats

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/lacquerai/silhouette/internal/cluster"
)

// Metric identifies one statistics column.
type Metric int

const (
	Avg Metric = iota
	RMS
	StdDev
	NegCount
	NegPct
)

// Metrics lists the statistics columns in display order.
var Metrics = []Metric{Avg, RMS, StdDev, NegCount, NegPct}

var metricTitles = []string{
	Avg:      "Avg. S",
	RMS:      "Sqr. Avg. S",
	StdDev:   "Std. Dev.",
	NegCount: "Num. S<0",
	NegPct:   "% S<0",
}

var metricKeys = []string{
	Avg:      "avg",
	RMS:      "rms",
	StdDev:   "stddev",
	NegCount: "neg_count",
	NegPct:   "neg_pct",
}

// Title is the column heading.
func (m Metric) Title() string { return metricTitles[m] }

func (m Metric) String() string { return metricKeys[m] }

// HigherIsBetter reports the direction used for rating.
func (m Metric) HigherIsBetter() bool {
	return m == Avg || m == RMS || m == StdDev
}

// Row holds the statistics of one cluster. NegPct is a fraction in [0, 1].
type Row struct {
	Cluster  string        `json:"cluster" yaml:"cluster"`
	Color    cluster.Color `json:"-" yaml:"-"`
	Size     int           `json:"size" yaml:"size"`
	Avg      float64       `json:"avg" yaml:"avg"`
	RMS      float64       `json:"rms" yaml:"rms"`
	StdDev   float64       `json:"stddev" yaml:"stddev"`
	NegCount float64       `json:"neg_count" yaml:"neg_count"`
	NegPct   float64       `json:"neg_pct" yaml:"neg_pct"`
	Ratings  []int         `json:"ratings,omitempty" yaml:"ratings,omitempty"`
}

// Value returns the statistic for a metric.
func (r Row) Value(m Metric) float64 {
	switch m {
	case Avg:
		return r.Avg
	case RMS:
		return r.RMS
	case StdDev:
		return r.StdDev
	case NegCount:
		return r.NegCount
	case NegPct:
		return r.NegPct
	}
	return math.NaN()
}

// Table is the per-cluster statistics plus the size-weighted average row.
type Table struct {
	Rows     []Row `json:"clusters" yaml:"clusters"`
	Weighted Row   `json:"weighted" yaml:"weighted"`
}

// WeightedName labels the summary row.
const WeightedName = "Weighted Average"

// Compute returns the statistics of one set of coefficients. An empty set
// yields a zero row.
func Compute(name string, values []float64) Row {
	r := Row{Cluster: name, Size: len(values)}
	if len(values) == 0 {
		return r
	}
	n := float64(len(values))

	r.Avg = stat.Mean(values, nil)
	r.RMS = math.Sqrt(floats.Dot(values, values) / n)

	dev := slices.Clone(values)
	floats.AddConst(-r.Avg, dev)
	r.StdDev = math.Sqrt(floats.Dot(dev, dev) / n)

	for _, s := range values {
		if s < 0 {
			r.NegCount++
		}
	}
	r.NegPct = r.NegCount / n

	return r
}

// Aggregate computes the statistics of every cluster in the model, in cluster
// order, and rates each cell against its column.
func Aggregate(model *cluster.Model) Table {
	var t Table
	total := 0
	for _, c := range model.Clusters {
		row := Compute(c.Name, c.Coefficients())
		row.Color = c.Color
		t.Rows = append(t.Rows, row)
		total += row.Size
	}

	t.Weighted = Row{Cluster: WeightedName, Size: total}
	if total > 0 {
		for _, r := range t.Rows {
			w := float64(r.Size) / float64(total)
			t.Weighted.Avg += r.Avg * w
			t.Weighted.RMS += r.RMS * w
			t.Weighted.StdDev += r.StdDev * w
			t.Weighted.NegCount += r.NegCount * w
			t.Weighted.NegPct += r.NegPct * w
		}
	}

	Rate(t.Rows)
	return t
}

// Round2 rounds to two decimals with ties away from zero.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}
