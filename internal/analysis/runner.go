// Package analysis runs a complete silhouette analysis: it resolves the
// settings against a dataset, extracts features, groups rows, picks a distance
// source, computes every coefficient and summarises the clusters.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lacquerai/silhouette/internal/cluster"
	"github.com/lacquerai/silhouette/internal/config"
	"github.com/lacquerai/silhouette/internal/dataset"
	"github.com/lacquerai/silhouette/internal/distance"
	"github.com/lacquerai/silhouette/internal/feature"
	"github.com/lacquerai/silhouette/internal/silhouette"
	"github.com/lacquerai/silhouette/internal/stats"
	"github.com/lacquerai/silhouette/pkg/events"
)

// DistanceExternal is the effective distance mode when a matrix file is used.
const DistanceExternal = "external"

// Run statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Request describes one analysis.
type Request struct {
	// RunID identifies the run. A random ID is generated when empty.
	RunID string
	// Source names the dataset, usually its path.
	Source string
	// Table is the dataset. When nil it is loaded from Source.
	Table    *dataset.Table
	Settings config.Settings
}

// Runner executes analyses and reports their progress to a listener.
type Runner struct {
	listener events.Listener
}

// Option configures a Runner.
type Option func(*Runner)

// WithListener sets the listener receiving progress events.
func WithListener(l events.Listener) Option {
	return func(r *Runner) {
		r.listener = l
	}
}

// NewRunner creates an analysis runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetListener replaces the progress listener.
func (r *Runner) SetListener(l events.Listener) {
	r.listener = l
}

type emitter struct {
	runID string
	ch    chan events.Event
}

func (e *emitter) emit(ev events.Event) {
	if e.ch == nil {
		return
	}
	ev.RunID = e.runID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	e.ch <- ev
}

// Run executes the analysis. Configuration problems are returned before any
// computation starts and match config.ErrInvalidConfiguration. When the
// coefficient computation fails or is cancelled, the partial result is
// returned together with the error; rows finished before the failure keep
// their coefficients.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}

	em := &emitter{runID: req.RunID}
	if r.listener != nil {
		em.ch = make(chan events.Event, 100)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.listener.StartListening(em.ch)
		}()
		defer func() {
			close(em.ch)
			wg.Wait()
			r.listener.StopListening()
		}()
	}

	start := time.Now()
	em.emit(events.Event{Type: events.EventAnalysisStarted, Text: req.Source})

	result, err := r.run(ctx, req, em)

	duration := time.Since(start)
	if result != nil {
		result.StartedAt = start
		result.Duration = duration
	}

	if err != nil {
		if result != nil {
			result.Status = StatusFailed
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				result.Status = StatusCancelled
			}
			result.Error = err.Error()
		}
		em.emit(events.Event{Type: events.EventAnalysisFailed, Error: err.Error(), Duration: duration})
		log.Error().
			Err(err).
			Str("run_id", req.RunID).
			Dur("duration", duration).
			Msg("Analysis failed")
		return result, err
	}

	result.Status = StatusCompleted
	em.emit(events.Event{Type: events.EventAnalysisCompleted, Duration: duration, Total: result.Rows})
	log.Info().
		Str("run_id", req.RunID).
		Int("rows", result.Rows).
		Int("clusters", result.Model.Len()).
		Dur("duration", duration).
		Msg("Analysis completed")

	return result, nil
}

func (r *Runner) run(ctx context.Context, req Request, em *emitter) (*Result, error) {
	settings := req.Settings

	table := req.Table
	if table == nil {
		if req.Source == "" {
			return nil, errors.New("no dataset given")
		}
		em.emit(events.Event{Type: events.EventPhaseStarted, Phase: events.PhaseLoading})
		loaded, err := dataset.LoadFile(req.Source, settings.Missing...)
		if err != nil {
			return nil, err
		}
		table = loaded
		em.emit(events.Event{Type: events.EventPhaseCompleted, Phase: events.PhaseLoading, Total: table.Len()})
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	if table.Len() == 0 {
		return nil, dataset.ErrEmptyDataset
	}

	resolved, vr := settings.Resolve(table)
	for _, w := range vr.Warnings {
		log.Warn().Str("run_id", req.RunID).Msg(w)
	}
	if err := vr.ToError(); err != nil {
		return nil, err
	}

	labels, err := table.Labels(resolved.Label)
	if err != nil {
		return nil, err
	}

	result := &Result{
		RunID:    req.RunID,
		Source:   req.Source,
		Method:   resolved.Method.String(),
		Label:    resolved.LabelName,
		Rows:     table.Len(),
		Table:    table,
		Warnings: vr.Warnings,
		Model:    cluster.Group(labels),
	}

	var vectors []feature.Vector
	if settings.Matrix == "" {
		vectors, result.Anomalies = resolved.Extractor.ExtractAll(table)
		for _, a := range result.Anomalies {
			em.emit(events.Event{Type: events.EventAnomaly, Row: a.Row, Text: a.Error()})
		}
	}

	src, mode, err := r.source(ctx, settings, resolved, vectors, table.Len(), em)
	if err != nil {
		return result, err
	}
	result.Distance = mode

	em.emit(events.Event{Type: events.EventPhaseStarted, Phase: events.PhaseCoefficient, Total: table.Len()})
	phaseStart := time.Now()
	engine := silhouette.New(
		silhouette.WithWorkers(settings.Workers),
		silhouette.WithProgress(func(p silhouette.Progress) {
			em.emit(events.Event{
				Type:        events.EventRowCompleted,
				Phase:       events.PhaseCoefficient,
				Row:         p.Row,
				Cluster:     p.Cluster,
				Coefficient: p.Coefficient,
				Done:        p.Done,
				Total:       p.Total,
			})
		}),
	)
	if err := engine.Compute(ctx, result.Model, src); err != nil {
		return result, err
	}
	em.emit(events.Event{Type: events.EventPhaseCompleted, Phase: events.PhaseCoefficient, Duration: time.Since(phaseStart), Total: table.Len()})

	em.emit(events.Event{Type: events.EventPhaseStarted, Phase: events.PhaseStatistics})
	result.Stats = stats.Aggregate(result.Model)
	em.emit(events.Event{Type: events.EventPhaseCompleted, Phase: events.PhaseStatistics, Total: result.Model.Len()})

	return result, nil
}

// source picks where distances come from: an external matrix file, a matrix
// precomputed from the features, or distances computed on demand.
func (r *Runner) source(ctx context.Context, s config.Settings, resolved *config.Resolved, vectors []feature.Vector, rows int, em *emitter) (distance.Source, string, error) {
	if s.Matrix != "" {
		m, err := distance.LoadMatrix(s.Matrix)
		if err != nil {
			return nil, "", err
		}
		if m.Len() != rows {
			return nil, "", fmt.Errorf("%s holds %d rows but the dataset has %d: %w", filepath.Base(s.Matrix), m.Len(), rows, distance.ErrMatrixShape)
		}
		return m, DistanceExternal, nil
	}

	metric := distance.NewMetric(resolved.Method)

	if s.Distance == config.DistanceOnTheFly || (s.MatrixLimit > 0 && rows > s.MatrixLimit) {
		if s.Distance == config.DistancePrecomputed {
			log.Info().
				Int("rows", rows).
				Int("limit", s.MatrixLimit).
				Int64("matrix_bytes", distance.MatrixBytes(rows)).
				Msg("Dataset too large for a distance matrix, computing distances on the fly")
		}
		return distance.NewOnTheFly(metric, vectors), config.DistanceOnTheFly, nil
	}

	em.emit(events.Event{Type: events.EventPhaseStarted, Phase: events.PhaseDistances, Total: rows})
	start := time.Now()
	m, err := distance.BuildMatrix(ctx, metric, vectors, s.Workers, func(done, total int) {
		em.emit(events.Event{Type: events.EventPhaseProgress, Phase: events.PhaseDistances, Done: done, Total: total})
	})
	if err != nil {
		return nil, "", err
	}
	em.emit(events.Event{Type: events.EventPhaseCompleted, Phase: events.PhaseDistances, Duration: time.Since(start), Total: rows})

	return m, config.DistancePrecomputed, nil
}
