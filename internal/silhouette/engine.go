// Package silhouette computes the silhouette coefficient of every row of a
// clustered dataset.
package silhouette

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/lacquerai/silhouette/internal/cluster"
	"github.com/lacquerai/silhouette/internal/distance"
)

// Progress describes one finished row.
type Progress struct {
	Done        int
	Total       int
	Row         int
	Cluster     string
	Coefficient float64
}

// Engine runs the silhouette computation over a model.
type Engine struct {
	workers  int
	progress func(Progress)
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers bounds the number of rows computed at the same time.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithProgress registers a callback invoked after every finished row. It may
// be called from several goroutines at once.
func WithProgress(fn func(Progress)) Option {
	return func(e *Engine) {
		e.progress = fn
	}
}

// New returns an engine using one worker per CPU unless configured otherwise.
func New(opts ...Option) *Engine {
	e := &Engine{workers: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Workers returns the configured parallelism.
func (e *Engine) Workers() int {
	return e.workers
}

type job struct {
	row     int
	cluster int
}

// Compute writes the coefficient of every row into the model. Distances come
// from src, which must cover every row of the model. Rows already finished when
// ctx is cancelled keep their coefficients. The first distance error aborts the
// remaining rows and is returned.
func (e *Engine) Compute(ctx context.Context, model *cluster.Model, src distance.Source) error {
	if model.Rows() > src.Len() {
		return fmt.Errorf("model has %d rows but distance source only %d: %w", model.Rows(), src.Len(), distance.ErrRowOutOfRange)
	}

	// workers only read this snapshot; members are written concurrently
	members := make([][]int, len(model.Clusters))
	var jobs []job
	for idx, c := range model.Clusters {
		members[idx] = c.Rows()
		for _, row := range members[idx] {
			jobs = append(jobs, job{row: row, cluster: idx})
		}
	}

	start := time.Now()
	log.Debug().
		Int("rows", len(jobs)).
		Int("clusters", model.Len()).
		Int("workers", e.workers).
		Msg("Computing silhouette coefficients")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	var done atomic.Int64
	for _, j := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			s, err := Coefficient(members, src, j.cluster, j.row)
			if err != nil {
				return err
			}
			c := model.Clusters[j.cluster]
			if err := c.SetCoefficient(j.row, s); err != nil {
				return err
			}

			if e.progress != nil {
				e.progress(Progress{
					Done:        int(done.Add(1)),
					Total:       len(jobs),
					Row:         j.row,
					Cluster:     c.Name,
					Coefficient: s,
				})
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("silhouette computation: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("silhouette computation: %w", err)
	}

	log.Debug().
		Dur("duration", time.Since(start)).
		Int("rows", len(jobs)).
		Msg("Silhouette coefficients computed")

	return nil
}

// Coefficient computes s for one row of the cluster at index own. members
// holds the rows of every cluster, in cluster order.
func Coefficient(members [][]int, src distance.Source, own, row int) (float64, error) {
	rows := members[own]
	if len(rows) <= 1 {
		return 0, nil
	}

	a, err := meanDistance(src, row, rows, true)
	if err != nil {
		return 0, err
	}

	b, found := 0.0, false
	for idx, other := range members {
		if idx == own || len(other) == 0 {
			continue
		}
		mean, err := meanDistance(src, row, other, false)
		if err != nil {
			return 0, err
		}
		if !found || mean < b {
			b, found = mean, true
		}
	}
	if !found {
		return 0, nil
	}

	return score(a, b), nil
}

// meanDistance averages the distance from row to rows. For the row's own
// cluster the row itself is left out of the divisor.
func meanDistance(src distance.Source, row int, rows []int, own bool) (float64, error) {
	var sum float64
	for _, other := range rows {
		if other == row {
			continue
		}
		d, err := src.Between(row, other)
		if err != nil {
			return 0, err
		}
		sum += d
	}

	n := len(rows)
	if own {
		n--
	}
	return sum / float64(n), nil
}

func score(a, b float64) float64 {
	if a == b {
		return 0
	}
	hi := max(a, b)
	if hi == 0 {
		return 0
	}
	return (b - a) / hi
}
