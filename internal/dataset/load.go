package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is the structured (YAML or JSON) form of a dataset.
type Document struct {
	Columns []Column `json:"columns" yaml:"columns"`
	Rows    [][]any  `json:"rows" yaml:"rows"`
}

// Table converts the document into a table, coercing every value to its
// declared column kind.
func (d *Document) Table() (*Table, error) {
	if len(d.Columns) == 0 {
		return nil, fmt.Errorf("dataset declares no columns")
	}
	if len(d.Rows) == 0 {
		return nil, ErrEmptyDataset
	}

	table := &Table{
		Columns: append([]Column(nil), d.Columns...),
		Rows:    make([][]Cell, len(d.Rows)),
	}

	for i, values := range d.Rows {
		if len(values) != len(d.Columns) {
			return nil, fmt.Errorf("row %d has %d values, expected %d: %w", i, len(values), len(d.Columns), ErrRaggedRow)
		}
		row := make([]Cell, len(values))
		for col, v := range values {
			row[col] = Coerce(FromValue(v), d.Columns[col].Kind)
		}
		table.Rows[i] = row
	}

	return table, nil
}

// ReadYAML parses a YAML dataset document.
func ReadYAML(r io.Reader) (*Table, error) {
	var doc Document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing YAML dataset: %w", err)
	}
	return doc.Table()
}

// ReadJSON parses a JSON dataset document. Numbers keep their integer form.
func ReadJSON(r io.Reader) (*Table, error) {
	decoder := json.NewDecoder(r)
	decoder.UseNumber()

	var doc Document
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing JSON dataset: %w", err)
	}
	return doc.Table()
}

// LoadFile reads a dataset, picking the format from the file extension.
// Supported: .csv, .tsv, .yaml, .yml, .json. missing overrides the tokens read
// as missing values in delimited files.
func LoadFile(path string, missing ...string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dataset: %w", err)
	}

	var table *Table
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv", ".txt":
		table, err = ReadCSV(bytes.NewReader(data), CSVOptions{MissingTokens: missing})
	case ".tsv":
		table, err = ReadCSV(bytes.NewReader(data), CSVOptions{Comma: '\t', MissingTokens: missing})
	case ".yaml", ".yml":
		table, err = ReadYAML(bytes.NewReader(data))
	case ".json":
		table, err = ReadJSON(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("unsupported dataset format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return table, nil
}
