package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lacquerai/silhouette/internal/analysis"
	"github.com/lacquerai/silhouette/pkg/events"
)

func TestAnalysisManager_NewManager(t *testing.T) {
	// Use a separate registry for tests to avoid conflicts
	registry := prometheus.NewRegistry()
	manager := NewAnalysisManagerWithRegistry(5, registry)

	assert.NotNil(t, manager)
	assert.Equal(t, 5, manager.maxConcurrency)
	assert.Equal(t, 0, manager.GetActiveAnalyses())
	assert.True(t, manager.CanStartAnalysis())
}

func TestAnalysisManager_StartAnalysis(t *testing.T) {
	manager := NewAnalysisManagerWithRegistry(2, prometheus.NewRegistry())

	status, err := manager.StartAnalysis("run-123", "points.csv", 6, func() {})
	require.NoError(t, err)

	assert.Equal(t, "run-123", status.RunID)
	assert.Equal(t, "points.csv", status.Source)
	assert.Equal(t, StatusRunning, status.Status)
	assert.Equal(t, 6, status.Rows)
	assert.NotEmpty(t, status.StartTime)
	assert.Nil(t, status.EndTime)
	assert.Empty(t, status.Progress)
	assert.Equal(t, 1, manager.GetActiveAnalyses())

	retrieved, exists := manager.GetAnalysis("run-123")
	assert.True(t, exists)
	assert.Same(t, status, retrieved)
}

func TestAnalysisManager_ConcurrencyLimit(t *testing.T) {
	manager := NewAnalysisManagerWithRegistry(2, prometheus.NewRegistry())

	_, err := manager.StartAnalysis("run-1", "", 1, nil)
	require.NoError(t, err)
	assert.True(t, manager.CanStartAnalysis())

	_, err = manager.StartAnalysis("run-2", "", 1, nil)
	require.NoError(t, err)
	assert.False(t, manager.CanStartAnalysis())

	_, err = manager.StartAnalysis("run-3", "", 1, nil)
	assert.ErrorIs(t, err, ErrAtCapacity, "third analysis exceeds the limit")
	_, exists := manager.GetAnalysis("run-3")
	assert.False(t, exists)

	manager.FinishAnalysis("run-1", nil, nil)
	assert.True(t, manager.CanStartAnalysis())
	assert.Equal(t, 1, manager.GetActiveAnalyses())

	finished, exists := manager.GetAnalysis("run-1")
	require.True(t, exists)
	assert.Equal(t, analysis.StatusCompleted, finished.Status)
	assert.NotNil(t, finished.EndTime)
	assert.Empty(t, finished.Error)
}

func TestAnalysisManager_FinishWithResult(t *testing.T) {
	manager := NewAnalysisManagerWithRegistry(1, prometheus.NewRegistry())
	_, err := manager.StartAnalysis("run-1", "", 3, nil)
	require.NoError(t, err)

	manager.FinishAnalysis("run-1", &analysis.Result{
		RunID:  "run-1",
		Status: analysis.StatusFailed,
		Error:  "dimension mismatch",
		Rows:   3,
	}, errors.New("dimension mismatch"))

	status, _ := manager.GetAnalysis("run-1")
	assert.Equal(t, analysis.StatusFailed, status.Status)
	assert.Equal(t, "dimension mismatch", status.Error)
	require.NotNil(t, status.Result)
	assert.Equal(t, "run-1", status.Result.RunID)
}

func TestAnalysisManager_FinishIsIdempotent(t *testing.T) {
	manager := NewAnalysisManagerWithRegistry(2, prometheus.NewRegistry())
	_, err := manager.StartAnalysis("run-1", "", 1, nil)
	require.NoError(t, err)

	manager.FinishAnalysis("run-1", nil, nil)
	manager.FinishAnalysis("run-1", nil, errors.New("late"))
	manager.FinishAnalysis("unknown", nil, nil)

	status, _ := manager.GetAnalysis("run-1")
	assert.Equal(t, analysis.StatusCompleted, status.Status)
	assert.Equal(t, 0, manager.GetActiveAnalyses())
}

func TestAnalysisManager_Cancel(t *testing.T) {
	manager := NewAnalysisManagerWithRegistry(1, prometheus.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	_, err := manager.StartAnalysis("run-1", "", 1, cancel)
	require.NoError(t, err)

	assert.False(t, manager.CancelAnalysis("unknown"))
	assert.True(t, manager.CancelAnalysis("run-1"))
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	manager.FinishAnalysis("run-1", nil, ctx.Err())
	status, _ := manager.GetAnalysis("run-1")
	assert.Equal(t, analysis.StatusCancelled, status.Status)

	assert.False(t, manager.CancelAnalysis("run-1"), "finished analyses cannot be cancelled")
}

func TestAnalysisManager_ProgressEvents(t *testing.T) {
	manager := NewAnalysisManagerWithRegistry(1, prometheus.NewRegistry())
	_, err := manager.StartAnalysis("run-1", "", 2, nil)
	require.NoError(t, err)

	manager.AddProgressEvent("run-1", events.Event{Type: events.EventAnalysisStarted, RunID: "run-1"})
	manager.AddProgressEvent("run-1", events.Event{Type: events.EventRowCompleted, RunID: "run-1", Row: 1})
	manager.AddProgressEvent("unknown", events.Event{Type: events.EventRowCompleted})

	snap, exists := manager.snapshot("run-1")
	require.True(t, exists)
	require.Len(t, snap.Progress, 2)
	assert.Equal(t, events.EventRowCompleted, snap.Progress[1].Type)
	assert.Positive(t, snap.Duration)
}

func TestAnalysisManager_ListNewestFirst(t *testing.T) {
	manager := NewAnalysisManagerWithRegistry(3, prometheus.NewRegistry())
	_, err := manager.StartAnalysis("older", "", 1, nil)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = manager.StartAnalysis("newer", "", 1, nil)
	require.NoError(t, err)

	list := manager.ListAnalyses()
	require.Len(t, list, 2)
	assert.Equal(t, "newer", list[0].RunID)
	assert.Equal(t, "older", list[1].RunID)
}

func TestAnalysisManager_Metrics(t *testing.T) {
	manager := NewAnalysisManagerWithRegistry(2, prometheus.NewRegistry())

	_, err := manager.StartAnalysis("run-1", "", 4, nil)
	require.NoError(t, err)
	_, err = manager.StartAnalysis("run-2", "", 7, nil)
	require.NoError(t, err)

	assert.Equal(t, float64(2), testutil.ToFloat64(manager.totalAnalyses))
	assert.Equal(t, float64(2), testutil.ToFloat64(manager.activeAnalyses))

	manager.FinishAnalysis("run-1", nil, nil)
	manager.FinishAnalysis("run-2", nil, errors.New("boom"))

	assert.Equal(t, float64(0), testutil.ToFloat64(manager.activeAnalyses))
	assert.Equal(t, float64(4), testutil.ToFloat64(manager.rowsAnalysed))
	assert.Equal(t, float64(1), testutil.ToFloat64(manager.analysisStatus.WithLabelValues(analysis.StatusCompleted)))
	assert.Equal(t, float64(1), testutil.ToFloat64(manager.analysisStatus.WithLabelValues(analysis.StatusFailed)))
}

func TestAnalysisManager_DuplicateRunID(t *testing.T) {
	manager := NewAnalysisManagerWithRegistry(4, prometheus.NewRegistry())

	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := manager.StartAnalysis("dup", "", 1, nil)
			if err == nil {
				accepted.Add(1)
				return
			}
			assert.ErrorIs(t, err, ErrAnalysisExists)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
	assert.Equal(t, 1, manager.GetActiveAnalyses())

	manager.FinishAnalysis("dup", nil, nil)
	assert.Equal(t, 0, manager.GetActiveAnalyses())

	// a finished run still owns its ID
	_, err := manager.StartAnalysis("dup", "", 1, nil)
	assert.ErrorIs(t, err, ErrAnalysisExists)
	assert.Equal(t, 0, manager.GetActiveAnalyses())
}

func TestAnalysisManager_StoredEventsAreBounded(t *testing.T) {
	manager := NewAnalysisManagerWithRegistry(1, prometheus.NewRegistry())
	_, err := manager.StartAnalysis("run-1", "", 1000, nil)
	require.NoError(t, err)

	manager.AddProgressEvent("run-1", events.Event{Type: events.EventPhaseStarted, Phase: "Calculating Coefficients"})
	for i := range 1000 {
		manager.AddProgressEvent("run-1", events.Event{Type: events.EventRowCompleted, Phase: "Calculating Coefficients", Row: i, Done: i + 1, Total: 1000})
	}
	for i := range 2 * maxStoredEvents {
		manager.AddProgressEvent("run-1", events.Event{Type: events.EventAnomaly, Row: i})
	}
	manager.AddProgressEvent("run-1", events.Event{Type: events.EventAnalysisCompleted})

	snap, exists := manager.snapshot("run-1")
	require.True(t, exists)
	assert.LessOrEqual(t, len(snap.Progress), maxStoredEvents+1)

	// row events collapse into the latest one
	assert.Equal(t, events.EventRowCompleted, snap.Progress[1].Type)
	assert.Equal(t, 1000, snap.Progress[1].Done)
	assert.Equal(t, events.EventAnomaly, snap.Progress[2].Type)
	assert.Equal(t, events.EventAnalysisCompleted, snap.Progress[len(snap.Progress)-1].Type)
}

func TestAnalysisManager_EvictsFinishedRuns(t *testing.T) {
	manager := NewAnalysisManagerWithRegistry(2, prometheus.NewRegistry())
	manager.SetRetention(time.Millisecond)

	_, err := manager.StartAnalysis("old", "", 1, nil)
	require.NoError(t, err)
	_, err = manager.StartAnalysis("running", "", 1, nil)
	require.NoError(t, err)
	manager.FinishAnalysis("old", nil, nil)

	time.Sleep(10 * time.Millisecond)

	_, err = manager.StartAnalysis("new", "", 1, nil)
	require.NoError(t, err)

	_, exists := manager.GetAnalysis("old")
	assert.False(t, exists, "finished run past its retention is evicted")
	_, exists = manager.GetAnalysis("running")
	assert.True(t, exists, "running analyses are never evicted")
}
