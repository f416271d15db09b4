package dataset

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

var (
	// ErrRaggedRow is returned when a row does not have one cell per column.
	ErrRaggedRow = errors.New("row width does not match column count")

	// ErrLabelKind is returned when the label column is neither string nor int.
	ErrLabelKind = errors.New("label column must hold string or int values")

	// ErrMissingLabel is returned when a row has no value in the label column.
	ErrMissingLabel = errors.New("row has no cluster label")
)

// Column describes one column of a table.
type Column struct {
	Name string `json:"name" yaml:"name"`
	Kind Kind   `json:"type" yaml:"type"`
}

// Table is an in-memory dataset with a fixed schema.
type Table struct {
	Columns []Column
	Rows    [][]Cell
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Width returns the number of columns.
func (t *Table) Width() int {
	return len(t.Columns)
}

// ColumnIndex returns the position of the named column or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, col := range t.Columns {
		if col.Name == name {
			return i
		}
	}
	// fall back to a case-insensitive match
	for i, col := range t.Columns {
		if strings.EqualFold(col.Name, name) {
			return i
		}
	}
	return -1
}

// ColumnNames returns the column names in schema order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		names[i] = col.Name
	}
	return names
}

// Validate checks that every row matches the schema width.
func (t *Table) Validate() error {
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("row %d has %d cells, expected %d: %w", i, len(row), len(t.Columns), ErrRaggedRow)
		}
	}
	return nil
}

// Cell returns the cell at the given position.
func (t *Table) Cell(row, col int) (Cell, error) {
	if row < 0 || row >= len(t.Rows) {
		return Cell{}, fmt.Errorf("row %d out of range [0,%d)", row, len(t.Rows))
	}
	if col < 0 || col >= len(t.Rows[row]) {
		return Cell{}, fmt.Errorf("column %d out of range [0,%d)", col, len(t.Rows[row]))
	}
	return t.Rows[row][col], nil
}

// Labels returns the canonical string form of the label column for every row.
// Integer labels are rendered in base 10 so that equal values compare equal.
func (t *Table) Labels(col int) ([]string, error) {
	if col < 0 || col >= len(t.Columns) {
		return nil, fmt.Errorf("label column %d out of range [0,%d)", col, len(t.Columns))
	}

	kind := t.Columns[col].Kind
	if kind != KindString && kind != KindInt {
		return nil, fmt.Errorf("column %q is %s: %w", t.Columns[col].Name, kind, ErrLabelKind)
	}

	labels := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		cell := row[col]
		switch cell.Kind() {
		case KindString:
			labels[i], _ = cell.StringValue()
		case KindInt:
			v, _ := cell.IntValue()
			labels[i] = strconv.FormatInt(v, 10)
		default:
			return nil, fmt.Errorf("row %d: %w", i, ErrMissingLabel)
		}
	}

	return labels, nil
}

// WrapIndex maps any integer onto a valid column position for a table with n
// columns. Negative indices count from the end and out-of-range indices wrap
// around. It returns -1 when n is zero.
func WrapIndex(idx, n int) int {
	if n <= 0 {
		return -1
	}
	idx %= n
	if idx < 0 {
		idx += n
	}
	return idx
}

// LabelColumn resolves the label column by name. An empty or unknown name selects
// the last column.
func (t *Table) LabelColumn(name string) int {
	if len(t.Columns) == 0 {
		return -1
	}

	last := len(t.Columns) - 1
	if name == "" {
		return last
	}

	idx := t.ColumnIndex(name)
	if idx < 0 {
		log.Warn().
			Str("label", name).
			Str("fallback", t.Columns[last].Name).
			Msg("Label column not found, using last column")
		return last
	}
	return idx
}
