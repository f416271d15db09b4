package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrEmptyDataset is returned for input without a header row or data rows.
var ErrEmptyDataset = errors.New("dataset has no rows")

// CSVOptions controls how delimited text is read.
type CSVOptions struct {
	// Comma is the field delimiter, ',' when zero.
	Comma rune
	// MissingTokens are raw values treated as missing in addition to the empty string.
	MissingTokens []string
}

// DefaultMissingTokens are the values read as missing when no tokens are configured.
var DefaultMissingTokens = []string{"?", "NA", "NaN"}

// ReadCSV parses delimited text with a header row. Column kinds are inferred from
// all non-missing values: int if every value parses as an integer, real if every
// value parses as a number, string otherwise. A column without any value is
// marked missing.
func ReadCSV(r io.Reader, opts CSVOptions) (*Table, error) {
	reader := csv.NewReader(r)
	if opts.Comma != 0 {
		reader.Comma = opts.Comma
	}
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing CSV: %w", err)
	}
	if len(records) < 2 {
		return nil, ErrEmptyDataset
	}

	missing := opts.MissingTokens
	if missing == nil {
		missing = DefaultMissingTokens
	}
	isMissing := func(v string) bool {
		if v == "" {
			return true
		}
		for _, tok := range missing {
			if v == tok {
				return true
			}
		}
		return false
	}

	header := records[0]
	body := records[1:]
	for i, rec := range body {
		if len(rec) != len(header) {
			return nil, fmt.Errorf("line %d has %d fields, header has %d: %w", i+2, len(rec), len(header), ErrRaggedRow)
		}
	}

	table := &Table{
		Columns: make([]Column, len(header)),
		Rows:    make([][]Cell, len(body)),
	}

	for col, name := range header {
		table.Columns[col] = Column{
			Name: strings.TrimSpace(name),
			Kind: inferKind(body, col, isMissing),
		}
	}

	for i, rec := range body {
		row := make([]Cell, len(header))
		for col, raw := range rec {
			raw = strings.TrimSpace(raw)
			if isMissing(raw) {
				row[col] = Missing()
				continue
			}
			row[col] = ParseCell(raw, table.Columns[col].Kind)
		}
		table.Rows[i] = row
	}

	return table, nil
}

func inferKind(records [][]string, col int, isMissing func(string) bool) Kind {
	kind := KindMissing
	for _, rec := range records {
		raw := strings.TrimSpace(rec[col])
		if isMissing(raw) {
			continue
		}

		switch kind {
		case KindMissing, KindInt:
			if !ParseCell(raw, KindInt).IsMissing() {
				kind = KindInt
				continue
			}
			if !ParseCell(raw, KindReal).IsMissing() {
				kind = KindReal
				continue
			}
			return KindString
		case KindReal:
			if ParseCell(raw, KindReal).IsMissing() {
				return KindString
			}
		}
	}
	return kind
}

// WriteCSV writes the table with a header row. Missing cells are written as "?".
func WriteCSV(w io.Writer, t *Table) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(t.ColumnNames()); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	record := make([]string, len(t.Columns))
	for i, row := range t.Rows {
		for col, cell := range row {
			if cell.IsMissing() {
				record[col] = "?"
			} else {
				record[col] = cell.Text()
			}
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("writing row %d: %w", i, err)
		}
	}

	writer.Flush()
	return writer.Error()
}
