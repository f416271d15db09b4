package distance

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// ErrMatrixShape is returned for a distance matrix file that is neither square
// nor lower triangular, has a non-zero diagonal, or does not match the dataset.
var ErrMatrixShape = errors.New("invalid distance matrix")

// tolerance bounds |d(i,j) - d(j,i)| and |d(i,i)| in a matrix file.
const tolerance = 1e-9

// ReadMatrix parses a precomputed distance matrix. Each line holds one row of
// the matrix; it is either square (n values per line) or lower triangular with
// the diagonal (i+1 values on line i, the last one 0). A strict lower triangle
// is rejected because its first line is empty and CSV readers skip empty lines.
// A header line and a leading row-label column are skipped when their first
// field is not a number.
func ReadMatrix(r io.Reader) (*Matrix, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing distance matrix: %w", err)
	}

	if len(records) > 0 && !isNumber(records[0][0]) {
		records = records[1:]
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty file: %w", ErrMatrixShape)
	}

	rows := make([][]float64, len(records))
	for i, rec := range records {
		if len(rec) > 0 && !isNumber(rec[0]) {
			rec = rec[1:]
		}
		values := make([]float64, 0, len(rec))
		for _, field := range rec {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", i+1, err)
			}
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("line %d: distance %v must be finite and non-negative: %w", i+1, v, ErrMatrixShape)
			}
			values = append(values, v)
		}
		rows[i] = values
	}

	n := len(rows)
	m := NewMatrix(n)

	square := true
	for _, row := range rows {
		if len(row) != n {
			square = false
			break
		}
	}

	if square {
		for i := 0; i < n; i++ {
			if err := checkDiagonal(i, rows[i][i]); err != nil {
				return nil, err
			}
			for j := i + 1; j < n; j++ {
				if math.Abs(rows[i][j]-rows[j][i]) > tolerance {
					return nil, fmt.Errorf("d(%d,%d)=%v but d(%d,%d)=%v: %w", i, j, rows[i][j], j, i, rows[j][i], ErrMatrixShape)
				}
				m.Set(i, j, rows[i][j])
			}
		}
		return m, nil
	}

	for i, row := range rows {
		if len(row) != i+1 {
			return nil, fmt.Errorf("line %d has %d values, want %d including the diagonal: %w", i+1, len(row), i+1, ErrMatrixShape)
		}
		if err := checkDiagonal(i, row[i]); err != nil {
			return nil, err
		}
		for j := 0; j < i; j++ {
			m.Set(i, j, row[j])
		}
	}

	return m, nil
}

// LoadMatrix reads a distance matrix file.
func LoadMatrix(path string) (*Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening distance matrix: %w", err)
	}
	defer f.Close()

	m, err := ReadMatrix(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func checkDiagonal(i int, d float64) error {
	if math.Abs(d) > tolerance {
		return fmt.Errorf("d(%d,%d)=%v, the diagonal must be 0: %w", i, i, d, ErrMatrixShape)
	}
	return nil
}

func isNumber(s string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return err == nil
}
