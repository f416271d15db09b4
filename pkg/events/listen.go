// Package events provides types and interfaces for tracking silhouette analysis
// progress. An analysis runs through a fixed set of phases (loading the
// dataset, calculating cluster distances, calculating coefficients and
// summarising statistics); this package describes the events emitted along the
// way, from the start of a run to its completion or failure.
//
// Events are delivered over a channel to a Listener, which makes it possible to
// drive a terminal spinner, stream progress over a WebSocket or simply log what
// happens.
package events

import (
	"time"
)

// EventType represents the type of event that occurred during an analysis.
type EventType string

const (
	// EventAnalysisStarted is emitted once, before the dataset is read.
	EventAnalysisStarted EventType = "analysis_started"

	// EventAnalysisCompleted is emitted once every coefficient and the
	// statistics are available.
	EventAnalysisCompleted EventType = "analysis_completed"

	// EventAnalysisFailed is emitted when the analysis stops because of an
	// error or a cancellation. Coefficients computed before the failure are
	// kept by the run but the result is not reported as complete.
	EventAnalysisFailed EventType = "analysis_failed"

	// EventPhaseStarted is emitted when a phase begins. Phase holds its name.
	EventPhaseStarted EventType = "phase_started"

	// EventPhaseProgress is emitted as a phase advances. Done and Total count
	// rows.
	EventPhaseProgress EventType = "phase_progress"

	// EventPhaseCompleted is emitted when a phase ends successfully.
	EventPhaseCompleted EventType = "phase_completed"

	// EventRowCompleted is emitted after the coefficient of a single row has
	// been computed. Row, Cluster and Coefficient describe it.
	EventRowCompleted EventType = "row_completed"

	// EventAnomaly is emitted for every cell or column left out of the feature
	// vectors because its type cannot be compared. Anomalies do not stop the
	// analysis.
	EventAnomaly EventType = "anomaly"
)

// Phase names used in EventPhaseStarted, EventPhaseProgress and
// EventPhaseCompleted.
const (
	PhaseLoading     = "Loading Dataset"
	PhaseDistances   = "Calculating Cluster Distances"
	PhaseCoefficient = "Calculating Coefficients"
	PhaseStatistics  = "Summarising Clusters"
)

// Event represents a single event that occurred during an analysis. Only the
// fields relevant to its Type are set.
type Event struct {
	// Type specifies the kind of event that occurred.
	Type EventType `json:"type"`
	// Timestamp indicates when the event occurred.
	Timestamp time.Time `json:"timestamp"`
	// RunID is the unique identifier of the analysis run.
	RunID string `json:"run_id"`
	// Phase names the phase the event belongs to (optional).
	Phase string `json:"phase,omitempty"`
	// Done is the number of rows finished in the current phase.
	Done int `json:"done,omitempty"`
	// Total is the number of rows the current phase will process.
	Total int `json:"total,omitempty"`
	// Row is the zero-based dataset row for row-level events.
	Row int `json:"row,omitempty"`
	// Cluster is the name of the cluster the row belongs to.
	Cluster string `json:"cluster,omitempty"`
	// Coefficient is the silhouette coefficient of Row.
	Coefficient float64 `json:"coefficient,omitempty"`
	// Duration represents how long the phase or analysis took (for completion events).
	Duration time.Duration `json:"duration,omitempty"`
	// Error contains the error message if the event represents a failure.
	Error string `json:"error,omitempty"`
	// Text provides additional descriptive information about the event.
	Text string `json:"text,omitempty"`
	// Metadata contains additional structured data specific to the event type.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Listener defines the interface for tracking analysis progress.
// Implementations receive events as they occur and are notified when tracking
// should stop.
type Listener interface {
	// StartListening consumes events from progressChan until it is closed.
	// The analysis runner calls it in its own goroutine when the run begins.
	StartListening(progressChan <-chan Event)

	// StopListening signals that progress listening should end. It is called
	// after progressChan has been closed and fully drained.
	StopListening()
}

// NoopListener is a Listener implementation that drains events and does
// nothing else. It can be used as a default listener when progress tracking is
// not needed.
type NoopListener struct{}

// StartListening implements the Listener interface by discarding every event.
func (n *NoopListener) StartListening(progressChan <-chan Event) {
	for range progressChan {
	}
}

// StopListening implements the Listener interface but performs no operation.
func (n *NoopListener) StopListening() {}

// ListenerFunc adapts a plain function to a Listener. The function is called
// for every event, from a single goroutine.
type ListenerFunc func(Event)

// StartListening implements the Listener interface.
func (f ListenerFunc) StartListening(progressChan <-chan Event) {
	for e := range progressChan {
		f(e)
	}
}

// StopListening implements the Listener interface but performs no operation.
func (f ListenerFunc) StopListening() {}
