package distance

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/lacquerai/silhouette/internal/feature"
)

// ErrRowOutOfRange is returned when a source is asked for a row it does not hold.
// It signals an inconsistency between grouping and the source and is fatal.
var ErrRowOutOfRange = errors.New("row index out of range")

// Source supplies the distance between two rows.
type Source interface {
	// Len returns the number of rows covered.
	Len() int
	// Between returns the distance between rows i and j.
	Between(i, j int) (float64, error)
}

func checkRows(i, j, n int) error {
	if i < 0 || i >= n {
		return fmt.Errorf("row %d of %d: %w", i, n, ErrRowOutOfRange)
	}
	if j < 0 || j >= n {
		return fmt.Errorf("row %d of %d: %w", j, n, ErrRowOutOfRange)
	}
	return nil
}

// OnTheFly computes every distance when asked. It needs no extra memory and
// repeats work the matrix would cache.
type OnTheFly struct {
	metric  *Metric
	vectors []feature.Vector
}

// NewOnTheFly returns a source computing distances from the vectors directly.
func NewOnTheFly(metric *Metric, vectors []feature.Vector) *OnTheFly {
	return &OnTheFly{metric: metric, vectors: vectors}
}

func (s *OnTheFly) Len() int {
	return len(s.vectors)
}

func (s *OnTheFly) Between(i, j int) (float64, error) {
	if err := checkRows(i, j, len(s.vectors)); err != nil {
		return 0, err
	}
	if i == j {
		return 0, nil
	}
	d, err := s.metric.Distance(s.vectors[i], s.vectors[j])
	if err != nil {
		return 0, fmt.Errorf("rows %d and %d: %w", i, j, err)
	}
	return d, nil
}

// Matrix is a symmetric distance matrix with a zero diagonal, stored as the
// condensed upper triangle.
type Matrix struct {
	n    int
	data []float64
}

// NewMatrix allocates an n×n matrix of zero distances.
func NewMatrix(n int) *Matrix {
	size := 0
	if n > 1 {
		size = n * (n - 1) / 2
	}
	return &Matrix{n: n, data: make([]float64, size)}
}

// MatrixBytes returns the memory a matrix of n rows needs.
func MatrixBytes(n int) int64 {
	if n < 2 {
		return 0
	}
	return int64(n) * int64(n-1) / 2 * 8
}

func (m *Matrix) offset(i, j int) int {
	if i > j {
		i, j = j, i
	}
	return i*m.n - i*(i+1)/2 + (j - i - 1)
}

func (m *Matrix) Len() int {
	return m.n
}

// Set stores the distance between two distinct rows.
func (m *Matrix) Set(i, j int, d float64) {
	if i == j {
		return
	}
	m.data[m.offset(i, j)] = d
}

func (m *Matrix) Between(i, j int) (float64, error) {
	if err := checkRows(i, j, m.n); err != nil {
		return 0, err
	}
	if i == j {
		return 0, nil
	}
	return m.data[m.offset(i, j)], nil
}

// BuildMatrix computes all pairwise distances in parallel. Work is split by row,
// so each worker writes a disjoint part of the matrix. progress, when not nil, is
// called once per finished row and may be called concurrently.
func BuildMatrix(ctx context.Context, metric *Metric, vectors []feature.Vector, workers int, progress func(done, total int)) (*Matrix, error) {
	n := len(vectors)
	m := NewMatrix(n)
	if workers < 1 {
		workers = 1
	}

	log.Debug().
		Int("rows", n).
		Int64("bytes", MatrixBytes(n)).
		Int("workers", workers).
		Msg("Building distance matrix")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var done atomic.Int64
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for j := i + 1; j < n; j++ {
				d, err := metric.Distance(vectors[i], vectors[j])
				if err != nil {
					return fmt.Errorf("rows %d and %d: %w", i, j, err)
				}
				m.Set(i, j, d)
			}
			if progress != nil {
				progress(int(done.Add(1)), n)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return m, nil
}
