package distance

import (
	"errors"
	"fmt"
	"math"

	"github.com/lacquerai/silhouette/internal/feature"
)

// ErrDimensionMismatch is matched by every *DimensionMismatchError.
var ErrDimensionMismatch = errors.New("dimension mismatch")

// DimensionMismatchError reports two vectors with different per-kind lengths.
type DimensionMismatchError struct {
	Kind  string
	Left  int
	Right int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch in %s values: %d != %d", e.Kind, e.Left, e.Right)
}

func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// Metric is the Euclidean combination of string distances and numeric
// differences. Every dimension has unit weight and nothing is normalised.
type Metric struct {
	method Method
	str    StringFunc
}

// NewMetric returns a metric using the given string method.
func NewMetric(m Method) *Metric {
	return &Metric{method: m, str: StringDistance(m)}
}

// NewMetricFunc returns a metric with a custom string distance.
func NewMetricFunc(str StringFunc) *Metric {
	return &Metric{method: -1, str: str}
}

// Method returns the configured string method, -1 for a custom function.
func (m *Metric) Method() Method {
	return m.method
}

// Distance returns sqrt(Σ sd(a.s, b.s)² + Σ (a.r - b.r)² + Σ (a.i - b.i)²).
func (m *Metric) Distance(a, b feature.Vector) (float64, error) {
	if len(a.Strings) != len(b.Strings) {
		return 0, &DimensionMismatchError{Kind: "string", Left: len(a.Strings), Right: len(b.Strings)}
	}
	if len(a.Reals) != len(b.Reals) {
		return 0, &DimensionMismatchError{Kind: "real", Left: len(a.Reals), Right: len(b.Reals)}
	}
	if len(a.Ints) != len(b.Ints) {
		return 0, &DimensionMismatchError{Kind: "int", Left: len(a.Ints), Right: len(b.Ints)}
	}

	var sum float64
	for k := range a.Strings {
		d, err := m.str(a.Strings[k], b.Strings[k])
		if err != nil {
			return 0, fmt.Errorf("string dimension %d: %w", k, err)
		}
		sum += d * d
	}
	for k := range a.Reals {
		d := a.Reals[k] - b.Reals[k]
		sum += d * d
	}
	for k := range a.Ints {
		d := float64(a.Ints[k]) - float64(b.Ints[k])
		sum += d * d
	}

	return math.Sqrt(sum), nil
}
