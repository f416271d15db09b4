// Package config holds the analysis settings, their viper binding and the
// checks run before an analysis starts.
package config

import (
	"fmt"
	"os"
	"runtime"
	"slices"

	"github.com/spf13/viper"

	"github.com/lacquerai/silhouette/internal/dataset"
	"github.com/lacquerai/silhouette/internal/distance"
	"github.com/lacquerai/silhouette/internal/feature"
)

// Distance modes.
const (
	// DistancePrecomputed builds the full pairwise matrix before computing coefficients.
	DistancePrecomputed = "precomputed"
	// DistanceOnTheFly computes each distance when it is needed.
	DistanceOnTheFly = "on-the-fly"
)

// DefaultMatrixLimit is the row count above which the precomputed mode falls
// back to on-the-fly distances.
const DefaultMatrixLimit = 8192

// Viper keys.
const (
	KeyLabel       = "analysis.label"
	KeyInclude     = "analysis.include"
	KeyExclude     = "analysis.exclude"
	KeyMethod      = "analysis.method"
	KeyWorkers     = "analysis.workers"
	KeyDistance    = "analysis.distance"
	KeyMatrix      = "analysis.matrix"
	KeyMatrixLimit = "analysis.matrix_limit"
	KeyMissing     = "analysis.missing"
	KeyHistoryPath = "history.path"
)

// Settings configures one analysis.
type Settings struct {
	// Label names the column holding the cluster of each row. Empty selects the last column.
	Label string `mapstructure:"label" json:"label,omitempty" yaml:"label,omitempty" jsonschema:"description=Name of the cluster label column"`
	// LabelIndex selects the label column by position when set. Negative values count from the end.
	LabelIndex *int `mapstructure:"label_index" json:"label_index,omitempty" yaml:"label_index,omitempty" jsonschema:"description=Position of the label column; negative counts from the end"`
	// Include restricts the feature columns. Empty includes every column.
	Include []string `mapstructure:"include" json:"include,omitempty" yaml:"include,omitempty"`
	// Exclude removes feature columns. It wins over Include.
	Exclude []string `mapstructure:"exclude" json:"exclude,omitempty" yaml:"exclude,omitempty"`
	// Method selects the string distance.
	Method string `mapstructure:"method" json:"method,omitempty" yaml:"method,omitempty" jsonschema:"enum=levenshtein,enum=jaro-winkler,enum=hamming,enum=jaccard,enum=lcs,default=levenshtein"`
	// Workers bounds the number of rows computed in parallel.
	Workers int `mapstructure:"workers" json:"workers,omitempty" yaml:"workers,omitempty" jsonschema:"minimum=1"`
	// Distance is DistancePrecomputed or DistanceOnTheFly.
	Distance string `mapstructure:"distance" json:"distance,omitempty" yaml:"distance,omitempty" jsonschema:"enum=precomputed,enum=on-the-fly,default=precomputed"`
	// Matrix points at a precomputed distance matrix file used instead of the features.
	Matrix string `mapstructure:"matrix" json:"matrix,omitempty" yaml:"matrix,omitempty"`
	// MatrixLimit is the largest row count for which a matrix is precomputed.
	MatrixLimit int `mapstructure:"matrix_limit" json:"matrix_limit,omitempty" yaml:"matrix_limit,omitempty"`
	// Missing lists raw CSV values read as missing.
	Missing []string `mapstructure:"missing" json:"missing,omitempty" yaml:"missing,omitempty"`
}

// Default returns the settings used when nothing is configured.
func Default() Settings {
	return Settings{
		Method:      distance.Levenshtein.String(),
		Workers:     runtime.GOMAXPROCS(0),
		Distance:    DistancePrecomputed,
		MatrixLimit: DefaultMatrixLimit,
		Missing:     slices.Clone(dataset.DefaultMissingTokens),
	}
}

// SetDefaults registers the default settings with v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault(KeyMethod, d.Method)
	v.SetDefault(KeyWorkers, d.Workers)
	v.SetDefault(KeyDistance, d.Distance)
	v.SetDefault(KeyMatrixLimit, d.MatrixLimit)
	v.SetDefault(KeyMissing, d.Missing)
	v.SetDefault(KeyHistoryPath, "~/.silq/history.db")
}

// Load reads the analysis settings from v, including values bound to flags
// and environment variables.
func Load(v *viper.Viper) (Settings, error) {
	wrapper := struct {
		Analysis Settings `mapstructure:"analysis"`
	}{Analysis: Default()}
	// decoding into a non-nil slice keeps trailing default elements
	wrapper.Analysis.Missing = nil

	if err := v.Unmarshal(&wrapper); err != nil {
		return wrapper.Analysis, fmt.Errorf("reading analysis settings: %w", err)
	}
	if wrapper.Analysis.Missing == nil {
		wrapper.Analysis.Missing = slices.Clone(dataset.DefaultMissingTokens)
	}
	return wrapper.Analysis, nil
}

// Resolved is a validated configuration bound to a concrete table.
type Resolved struct {
	Settings  Settings
	Label     int
	LabelName string
	Method    distance.Method
	Extractor *feature.Extractor
}

// Validate checks the settings that do not depend on a dataset.
func (s Settings) Validate() *ValidationResult {
	vr := newResult()

	if s.Workers < 1 {
		vr.AddError("workers", "must be at least 1", s.Workers)
	}
	if s.Distance != DistancePrecomputed && s.Distance != DistanceOnTheFly {
		vr.AddError("distance", fmt.Sprintf("must be %q or %q", DistancePrecomputed, DistanceOnTheFly), s.Distance)
	}
	if s.MatrixLimit < 0 {
		vr.AddError("matrix_limit", "must not be negative", s.MatrixLimit)
	}
	if s.Method != "" {
		if _, ok := distance.LookupMethod(s.Method); !ok {
			vr.AddWarning("unknown string distance %q, using %s", s.Method, distance.Levenshtein)
		}
	}
	if s.Matrix != "" {
		if info, err := os.Stat(s.Matrix); err != nil {
			vr.AddError("matrix", "distance matrix file not found", s.Matrix)
		} else if info.IsDir() {
			vr.AddError("matrix", "distance matrix path is a directory", s.Matrix)
		}
	}

	return vr
}

// Resolve validates the settings against a table and fixes the label column,
// the feature columns and the string method. Every problem is collected in the
// result; Resolved is nil when it has errors.
func (s Settings) Resolve(table *dataset.Table) (*Resolved, *ValidationResult) {
	vr := s.Validate()

	if table.Width() < 2 {
		vr.AddError("columns", "dataset needs a label column and at least one feature column", table.Width())
		return nil, vr
	}

	r := &Resolved{
		Settings: s,
		Method:   distance.ParseMethod(s.Method),
	}

	switch {
	case s.LabelIndex != nil:
		r.Label = dataset.WrapIndex(*s.LabelIndex, table.Width())
	default:
		r.Label = table.LabelColumn(s.Label)
		if s.Label != "" && table.ColumnIndex(s.Label) < 0 {
			vr.AddWarning("label column %q not found, using %q", s.Label, table.Columns[r.Label].Name)
		}
	}
	r.LabelName = table.Columns[r.Label].Name

	if kind := table.Columns[r.Label].Kind; kind != dataset.KindString && kind != dataset.KindInt {
		vr.AddError("label", fmt.Sprintf("column must hold string or int values, not %s", kind), r.LabelName)
	}

	include := resolveColumns(table, s.Include, "include", vr)
	exclude := resolveColumns(table, s.Exclude, "exclude", vr)

	r.Extractor = feature.NewExtractor(table.Columns, r.Label, func(col int) bool {
		if len(s.Include) > 0 && !include[col] {
			return false
		}
		return !exclude[col]
	})
	for _, a := range r.Extractor.Skipped() {
		vr.AddWarning("%s", a.Error())
	}

	// an external matrix replaces the features entirely
	if s.Matrix == "" && r.Extractor.Plan().Total() == 0 {
		vr.AddError("columns", "no comparable feature columns selected", nil)
	}

	if vr.HasErrors() {
		return nil, vr
	}
	return r, vr
}

func resolveColumns(table *dataset.Table, names []string, field string, vr *ValidationResult) map[int]bool {
	out := make(map[int]bool, len(names))
	for _, name := range names {
		idx := table.ColumnIndex(name)
		if idx < 0 {
			vr.AddError(field, "unknown column", name)
			continue
		}
		out[idx] = true
	}
	return out
}
