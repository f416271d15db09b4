// Package silhouette provides a public API for running silhouette analyses
// programmatically. It allows third-party applications to score how well the
// rows of a labelled dataset fit their clusters without shelling out to the
// silq binary.
//
// The main functionality includes:
//   - Analysing CSV, TSV, YAML or JSON dataset files
//   - Configuring the analysis through functional parameters
//   - Monitoring analysis progress through event listeners
//
// Example usage:
//
//	// Analyse a dataset with the default settings
//	result, err := silhouette.Analyze("iris.csv")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	for row, s := range result.Coefficients {
//		fmt.Printf("row %d: %.3f\n", row, s)
//	}
//
//	// Pick the label column and monitor progress
//	listener := &MyProgressListener{}
//	result, err = silhouette.Analyze("iris.csv",
//		silhouette.WithLabel("species"),
//		silhouette.WithProgressListener(listener),
//	)
package silhouette

import (
	"context"

	"github.com/lacquerai/silhouette/internal/analysis"
	"github.com/lacquerai/silhouette/internal/config"
	"github.com/lacquerai/silhouette/pkg/events"
)

// Result is the serialised outcome of an analysis: one coefficient per row in
// row order, the cluster roster and the cluster statistics.
type Result = analysis.Report

// options collects the runner and settings an analysis is started with.
type options struct {
	runner   *analysis.Runner
	settings config.Settings
	ctx      context.Context
}

// Option represents a functional option for configuring an analysis.
// Options allow customization of the runner behavior, such as adding progress
// listeners or choosing the label column and string distance.
//
// Options follow the functional options pattern, allowing for flexible and
// extensible configuration of the analysis.
type Option func(*options)

// WithProgressListener creates an Option that configures a progress listener
// for monitoring the analysis in real-time.
//
// The provided listener will receive events throughout the analysis lifecycle,
// including the start and end of each phase, one event per computed row,
// skipped cells and the final completion or failure.
//
// Parameters:
//   - listener: An implementation of events.Listener that will receive analysis events
//
// Returns:
//   - Option: A functional option that can be passed to Analyze
//
// Example:
//
//	type MyListener struct{}
//
//	func (l *MyListener) StartListening(progressChan <-chan events.Event) {
//		for event := range progressChan {
//			fmt.Printf("Event: %s at %s\n", event.Type, event.Timestamp)
//		}
//	}
//
//	func (l *MyListener) StopListening() {
//		fmt.Println("Progress tracking stopped")
//	}
//
//	result, err := Analyze("iris.csv", WithProgressListener(&MyListener{}))
func WithProgressListener(listener events.Listener) Option {
	return func(o *options) {
		o.runner.SetListener(listener)
	}
}

// WithContext sets the context the analysis runs under. Cancelling it stops the
// computation and Analyze returns the partial result together with the error.
func WithContext(ctx context.Context) Option {
	return func(o *options) {
		o.ctx = ctx
	}
}

// WithLabel selects the cluster label column by name. When the name is not
// found the last column is used.
func WithLabel(name string) Option {
	return func(o *options) {
		o.settings.Label = name
	}
}

// WithLabelIndex selects the cluster label column by position. Negative values
// count from the end and out-of-range values wrap around.
func WithLabelIndex(idx int) Option {
	return func(o *options) {
		o.settings.LabelIndex = &idx
	}
}

// WithColumns restricts the feature columns. Excluded columns win over
// included ones; an empty include list selects every non-label column.
func WithColumns(include, exclude []string) Option {
	return func(o *options) {
		o.settings.Include = include
		o.settings.Exclude = exclude
	}
}

// WithMethod selects the string distance: levenshtein, jaro-winkler, hamming,
// jaccard or lcs.
func WithMethod(method string) Option {
	return func(o *options) {
		o.settings.Method = method
	}
}

// WithWorkers bounds the number of rows computed in parallel.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.settings.Workers = n
	}
}

// WithDistanceMatrix replaces the feature-based distances with a precomputed
// matrix file. The file may be square or lower triangular with a zero diagonal.
func WithDistanceMatrix(path string) Option {
	return func(o *options) {
		o.settings.Matrix = path
	}
}

// Analyze computes the silhouette coefficient of every row of a dataset file
// and summarises the clusters.
//
// This is the primary entry point for running analyses programmatically. The
// function loads the dataset, resolves the label and feature columns, computes
// the pairwise distances and the coefficients, and aggregates statistics per
// cluster.
//
// Parameters:
//   - dataFile: Path to a .csv, .tsv, .txt, .yaml, .yml or .json dataset
//   - opts: Variadic functional options for configuring the analysis
//
// Returns:
//   - *Result: The coefficients, the cluster roster and the statistics
//   - error: Any error that occurred while loading, validating or computing
//
// Errors can occur due to:
//   - Invalid dataset file path or format
//   - Configuration problems, matched by config.ErrInvalidConfiguration
//   - Rows whose feature vectors have different dimensions
//   - Cancellation of the context given with WithContext
//
// Example:
//
//	result, err := Analyze("customers.csv",
//		WithLabel("segment"),
//		WithMethod("jaro-winkler"),
//		WithWorkers(4),
//	)
//	if err != nil {
//		return fmt.Errorf("analysis failed: %w", err)
//	}
//
//	fmt.Println(result.Statistics.Weighted.Avg)
func Analyze(dataFile string, opts ...Option) (*Result, error) {
	o := &options{
		runner:   analysis.NewRunner(),
		settings: config.Default(),
		ctx:      context.Background(),
	}

	for _, opt := range opts {
		opt(o)
	}

	result, err := o.runner.Run(o.ctx, analysis.Request{
		Source:   dataFile,
		Settings: o.settings,
	})
	if result == nil {
		return nil, err
	}

	return result.Report(), err
}
