package analysis

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lacquerai/silhouette/internal/config"
	"github.com/lacquerai/silhouette/internal/dataset"
	"github.com/lacquerai/silhouette/internal/distance"
	"github.com/lacquerai/silhouette/internal/testhelper"
	"github.com/lacquerai/silhouette/pkg/events"
)

const twoClusters = `x,label
0,a
1,a
2,a
10,b
11,b
12,b
`

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) listener() events.Listener {
	return events.ListenerFunc(func(e events.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, e)
	})
}

func (r *recorder) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.EventType
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *recorder) count(t events.EventType) int {
	n := 0
	for _, got := range r.types() {
		if got == t {
			n++
		}
	}
	return n
}

func settings(mutate func(*config.Settings)) config.Settings {
	s := config.Default()
	s.Workers = 2
	if mutate != nil {
		mutate(&s)
	}
	return s
}

func TestRun_EndToEnd(t *testing.T) {
	path := testhelper.TempFile(t, "points.csv", twoClusters)
	rec := &recorder{}

	result, err := NewRunner(WithListener(rec.listener())).Run(context.Background(), Request{
		RunID:    "run-1",
		Source:   path,
		Settings: settings(nil),
	})
	require.NoError(t, err)

	assert.Equal(t, "run-1", result.RunID)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, config.DistancePrecomputed, result.Distance)
	assert.Equal(t, "label", result.Label)
	assert.Equal(t, 6, result.Rows)
	assert.Empty(t, result.Anomalies)
	assert.Positive(t, result.Duration)

	got := result.Coefficients()
	require.Len(t, got, 6)
	assert.InDelta(t, 9.5/11, got[0], 1e-12)
	assert.InDelta(t, 0.9, got[1], 1e-12)
	assert.InDelta(t, 7.5/9, got[2], 1e-12)
	assert.InDelta(t, got[0], got[5], 1e-12)

	require.Len(t, result.Stats.Rows, 2)
	wantAvg := (9.5/11 + 0.9 + 7.5/9) / 3
	assert.InDelta(t, wantAvg, result.Stats.Rows[0].Avg, 1e-12)
	assert.InDelta(t, wantAvg, result.Stats.Weighted.Avg, 1e-12)
	assert.Equal(t, 6, result.Stats.Weighted.Size)

	types := rec.types()
	require.NotEmpty(t, types)
	assert.Equal(t, events.EventAnalysisStarted, types[0])
	assert.Equal(t, events.EventAnalysisCompleted, types[len(types)-1])
	assert.Equal(t, 6, rec.count(events.EventRowCompleted))
	assert.Equal(t, 6, rec.count(events.EventPhaseProgress))
	for _, e := range rec.events {
		assert.Equal(t, "run-1", e.RunID)
	}
}

func TestRun_GeneratesRunID(t *testing.T) {
	table, err := dataset.ReadCSV(strings.NewReader(twoClusters), dataset.CSVOptions{})
	require.NoError(t, err)

	result, err := NewRunner().Run(context.Background(), Request{Table: table, Settings: settings(nil)})
	require.NoError(t, err)
	assert.NotEmpty(t, result.RunID)
}

func TestRun_OnTheFlyMatchesMatrix(t *testing.T) {
	table, err := dataset.ReadCSV(strings.NewReader(twoClusters), dataset.CSVOptions{})
	require.NoError(t, err)

	precomputed, err := NewRunner().Run(context.Background(), Request{Table: table, Settings: settings(nil)})
	require.NoError(t, err)

	// rows above the limit fall back to on-the-fly distances
	limited, err := NewRunner().Run(context.Background(), Request{Table: table, Settings: settings(func(s *config.Settings) {
		s.MatrixLimit = 3
	})})
	require.NoError(t, err)
	assert.Equal(t, config.DistanceOnTheFly, limited.Distance)

	explicit, err := NewRunner().Run(context.Background(), Request{Table: table, Settings: settings(func(s *config.Settings) {
		s.Distance = config.DistanceOnTheFly
	})})
	require.NoError(t, err)
	assert.Equal(t, config.DistanceOnTheFly, explicit.Distance)

	assert.InDeltaSlice(t, precomputed.Coefficients(), limited.Coefficients(), 1e-12)
	assert.InDeltaSlice(t, precomputed.Coefficients(), explicit.Coefficients(), 1e-12)
}

func TestRun_ExternalMatrix(t *testing.T) {
	matrix := testhelper.TempFile(t, "matrix.csv", "0\n1,0\n4,5,0\n5,4,1,0\n")
	table, err := dataset.ReadCSV(strings.NewReader("id,label\np,a\nq,a\nr,b\ns,b\n"), dataset.CSVOptions{})
	require.NoError(t, err)

	result, err := NewRunner().Run(context.Background(), Request{Table: table, Settings: settings(func(s *config.Settings) {
		s.Matrix = matrix
	})})
	require.NoError(t, err)
	assert.Equal(t, DistanceExternal, result.Distance)

	got := result.Coefficients()
	// row 0: a = 1, b = (4+5)/2
	assert.InDelta(t, 3.5/4.5, got[0], 1e-12)
	assert.InDelta(t, 3.5/4.5, got[3], 1e-12)
}

func TestRun_ExternalMatrixWrongSize(t *testing.T) {
	matrix := testhelper.TempFile(t, "matrix.csv", "0\n1,0\n")
	table, err := dataset.ReadCSV(strings.NewReader("id,label\np,a\nq,a\nr,b\n"), dataset.CSVOptions{})
	require.NoError(t, err)

	result, err := NewRunner().Run(context.Background(), Request{Table: table, Settings: settings(func(s *config.Settings) {
		s.Matrix = matrix
	})})
	require.ErrorIs(t, err, distance.ErrMatrixShape)
	require.NotNil(t, result)
	assert.Equal(t, StatusFailed, result.Status)
}

func TestRun_InvalidConfiguration(t *testing.T) {
	table, err := dataset.ReadCSV(strings.NewReader(twoClusters), dataset.CSVOptions{})
	require.NoError(t, err)

	rec := &recorder{}
	result, err := NewRunner(WithListener(rec.listener())).Run(context.Background(), Request{
		Table:    table,
		Settings: settings(func(s *config.Settings) { s.Workers = 0 }),
	})
	require.ErrorIs(t, err, config.ErrInvalidConfiguration)
	assert.Nil(t, result)
	assert.Equal(t, 0, rec.count(events.EventRowCompleted))
	assert.Equal(t, 1, rec.count(events.EventAnalysisFailed))
}

func TestRun_MissingCellAborts(t *testing.T) {
	table, err := dataset.ReadCSV(strings.NewReader("x,label\n1,a\n?,a\n3,b\n4,b\n"), dataset.CSVOptions{})
	require.NoError(t, err)

	result, err := NewRunner().Run(context.Background(), Request{Table: table, Settings: settings(nil)})
	require.ErrorIs(t, err, distance.ErrDimensionMismatch)
	require.NotNil(t, result)
	assert.Equal(t, StatusFailed, result.Status)
	require.Len(t, result.Anomalies, 1)
	assert.Equal(t, 1, result.Anomalies[0].Row)
}

func TestRun_Cancelled(t *testing.T) {
	table, err := dataset.ReadCSV(strings.NewReader(twoClusters), dataset.CSVOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := NewRunner().Run(ctx, Request{Table: table, Settings: settings(nil)})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Equal(t, StatusCancelled, result.Status)
	assert.NotEmpty(t, result.Error)
}

func TestRun_EmptyDataset(t *testing.T) {
	table := &dataset.Table{Columns: []dataset.Column{{Name: "x", Kind: dataset.KindInt}, {Name: "label", Kind: dataset.KindString}}}

	_, err := NewRunner().Run(context.Background(), Request{Table: table, Settings: settings(nil)})
	require.ErrorIs(t, err, dataset.ErrEmptyDataset)
}

func TestResult_Annotated(t *testing.T) {
	table, err := dataset.ReadCSV(strings.NewReader(twoClusters), dataset.CSVOptions{})
	require.NoError(t, err)

	result, err := NewRunner().Run(context.Background(), Request{Table: table, Settings: settings(nil)})
	require.NoError(t, err)

	out := result.Annotated()
	require.Equal(t, 3, out.Width())
	assert.Equal(t, CoefficientColumn, out.Columns[2].Name)
	assert.Equal(t, dataset.KindReal, out.Columns[2].Kind)
	assert.Equal(t, 2, table.Width(), "input table is untouched")

	v, ok := out.Rows[1][2].RealValue()
	require.True(t, ok)
	assert.InDelta(t, 0.9, v, 1e-12)
}

func TestResult_Report(t *testing.T) {
	table, err := dataset.ReadCSV(strings.NewReader(twoClusters), dataset.CSVOptions{})
	require.NoError(t, err)

	result, err := NewRunner().Run(context.Background(), Request{RunID: "r", Table: table, Settings: settings(nil)})
	require.NoError(t, err)

	rep := result.Report()
	assert.Equal(t, "r", rep.RunID)
	assert.Equal(t, StatusCompleted, rep.Status)
	require.Len(t, rep.Clusters, 2)
	assert.Equal(t, "a", rep.Clusters[0].Name)
	assert.Equal(t, []int{0, 1, 2}, rep.Clusters[0].Rows)
	assert.Equal(t, result.Model.Clusters[0].Color.Hex(), rep.Clusters[0].Color)
	assert.Len(t, rep.Coefficients, 6)

	run := result.HistoryRun()
	assert.Equal(t, 2, run.ClusterCount)
	assert.Equal(t, 6, run.Rows)
}
