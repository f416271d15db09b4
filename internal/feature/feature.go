// Package feature turns table rows into typed feature vectors for the distance metric.
package feature

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/lacquerai/silhouette/internal/dataset"
)

// ErrUnsupportedCellType marks a cell the metric cannot use. It is recoverable:
// the value is dropped from the vector and reported as an Anomaly.
var ErrUnsupportedCellType = errors.New("unsupported cell type")

// Vector holds the non-label dimensions of one row split by type. Each slice is
// ordered by column position.
type Vector struct {
	Strings []string  `json:"strings,omitempty"`
	Reals   []float64 `json:"reals,omitempty"`
	Ints    []int64   `json:"ints,omitempty"`
}

// Dims returns the total number of dimensions.
func (v Vector) Dims() int {
	return len(v.Strings) + len(v.Reals) + len(v.Ints)
}

// Anomaly records a cell or column that was skipped.
type Anomaly struct {
	Row    int    `json:"row"`
	Column string `json:"column"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

func (a Anomaly) Error() string {
	if a.Row < 0 {
		return fmt.Sprintf("column %q (%s): %s", a.Column, a.Kind, a.Reason)
	}
	return fmt.Sprintf("row %d column %q (%s): %s", a.Row, a.Column, a.Kind, a.Reason)
}

func (a Anomaly) Unwrap() error {
	return ErrUnsupportedCellType
}

// Plan is the per-kind dimension count the extractor will produce.
type Plan struct {
	Strings int `json:"strings"`
	Reals   int `json:"reals"`
	Ints    int `json:"ints"`
}

// Total returns the number of feature columns.
func (p Plan) Total() int {
	return p.Strings + p.Reals + p.Ints
}

// Extractor builds vectors from rows of a fixed schema.
type Extractor struct {
	columns  []dataset.Column
	label    int
	selected []int
	skipped  []Anomaly
}

// NewExtractor prepares an extractor for the given schema. The label column is
// never used as a feature, whatever include reports for it. A nil include
// selects every other column. Columns declared missing are skipped and reported.
func NewExtractor(columns []dataset.Column, label int, include func(col int) bool) *Extractor {
	e := &Extractor{
		columns: columns,
		label:   label,
	}

	for i, col := range columns {
		if i == label {
			continue
		}
		if include != nil && !include(i) {
			continue
		}

		switch col.Kind {
		case dataset.KindString, dataset.KindInt, dataset.KindReal:
			e.selected = append(e.selected, i)
		default:
			anomaly := Anomaly{Row: -1, Column: col.Name, Kind: col.Kind.String(), Reason: "column type cannot be compared"}
			e.skipped = append(e.skipped, anomaly)
			log.Warn().
				Str("column", col.Name).
				Str("kind", col.Kind.String()).
				Msg("Skipping column with unsupported type")
		}
	}

	return e
}

// Columns returns the positions of the feature columns.
func (e *Extractor) Columns() []int {
	return append([]int(nil), e.selected...)
}

// Skipped returns the schema-level anomalies found by NewExtractor.
func (e *Extractor) Skipped() []Anomaly {
	return append([]Anomaly(nil), e.skipped...)
}

// Plan reports how many dimensions of each kind a vector will have.
func (e *Extractor) Plan() Plan {
	var p Plan
	for _, i := range e.selected {
		switch e.columns[i].Kind {
		case dataset.KindString:
			p.Strings++
		case dataset.KindReal:
			p.Reals++
		case dataset.KindInt:
			p.Ints++
		}
	}
	return p
}

// Extract builds the vector for one row. A cell whose kind differs from its
// column is dropped and returned as an anomaly.
func (e *Extractor) Extract(rowIndex int, row []dataset.Cell) (Vector, []Anomaly) {
	plan := e.Plan()
	v := Vector{
		Strings: make([]string, 0, plan.Strings),
		Reals:   make([]float64, 0, plan.Reals),
		Ints:    make([]int64, 0, plan.Ints),
	}

	var anomalies []Anomaly
	for _, i := range e.selected {
		col := e.columns[i]
		if i >= len(row) {
			anomalies = append(anomalies, Anomaly{Row: rowIndex, Column: col.Name, Kind: "absent", Reason: "row is shorter than schema"})
			continue
		}

		cell := row[i]
		if cell.Kind() != col.Kind {
			anomalies = append(anomalies, Anomaly{Row: rowIndex, Column: col.Name, Kind: cell.Kind().String(), Reason: "cell does not match column type"})
			continue
		}

		switch cell.Kind() {
		case dataset.KindString:
			s, _ := cell.StringValue()
			v.Strings = append(v.Strings, s)
		case dataset.KindReal:
			f, _ := cell.RealValue()
			v.Reals = append(v.Reals, f)
		case dataset.KindInt:
			n, _ := cell.IntValue()
			v.Ints = append(v.Ints, n)
		}
	}

	return v, anomalies
}

// ExtractAll builds vectors for every row of the table and logs each anomaly.
func (e *Extractor) ExtractAll(table *dataset.Table) ([]Vector, []Anomaly) {
	vectors := make([]Vector, len(table.Rows))
	anomalies := e.Skipped()

	for i, row := range table.Rows {
		v, rowAnomalies := e.Extract(i, row)
		vectors[i] = v
		for _, a := range rowAnomalies {
			log.Warn().
				Int("row", a.Row).
				Str("column", a.Column).
				Str("kind", a.Kind).
				Msg("Dropping unsupported cell from feature vector")
		}
		anomalies = append(anomalies, rowAnomalies...)
	}

	return vectors, anomalies
}
