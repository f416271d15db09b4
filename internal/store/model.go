// Package store persists silhouette models as YAML files and keeps a SQLite
// history of analysis runs.
package store

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/lacquerai/silhouette/internal/cluster"
)

// FormatVersion is written to every model file. Files with a different major
// version are rejected.
const FormatVersion = "1.0.0"

var (
	// ErrFormatVersion is returned for a model file written by an incompatible version.
	ErrFormatVersion = errors.New("unsupported model format version")

	// ErrCorruptModel is returned when the file contents contradict each other.
	ErrCorruptModel = errors.New("corrupt model file")
)

// Coefficient is a float64 stored as its IEEE-754 bits so that a saved model
// reloads bit for bit. The readable value is kept as a line comment.
type Coefficient float64

func (c Coefficient) MarshalYAML() (interface{}, error) {
	bits := math.Float64bits(float64(c))
	return &yaml.Node{
		Kind:        yaml.ScalarNode,
		Tag:         "!!str",
		Value:       fmt.Sprintf("0x%016x", bits),
		LineComment: strconv.FormatFloat(float64(c), 'g', -1, 64),
	}, nil
}

func (c *Coefficient) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: coefficient must be a scalar", value.Line)
	}

	if hex, ok := strings.CutPrefix(value.Value, "0x"); ok {
		bits, err := strconv.ParseUint(hex, 16, 64)
		if err != nil {
			return fmt.Errorf("line %d: %w", value.Line, err)
		}
		*c = Coefficient(math.Float64frombits(bits))
		return nil
	}

	// hand-written files may use plain numbers
	f, err := strconv.ParseFloat(value.Value, 64)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*c = Coefficient(f)
	return nil
}

// ClusterRecord is one cluster of a model file.
type ClusterRecord struct {
	Name         string        `yaml:"name" json:"name"`
	Color        int32         `yaml:"color" json:"color"`
	Indices      []int         `yaml:"indices" json:"indices"`
	Coefficients []Coefficient `yaml:"coefficients" json:"coefficients"`
}

// ModelFile is the on-disk layout of a model.
type ModelFile struct {
	FormatVersion string          `yaml:"format_version" json:"format_version"`
	Source        string          `yaml:"source,omitempty" json:"source,omitempty" jsonschema:"description=Dataset the model was computed from"`
	Method        string          `yaml:"method,omitempty" json:"method,omitempty" jsonschema:"description=String distance used"`
	CreatedAt     time.Time       `yaml:"created_at,omitempty" json:"created_at,omitempty"`
	ClustersNum   int             `yaml:"clusters_num" json:"clusters_num"`
	Clusters      []ClusterRecord `yaml:"clusters" json:"clusters"`
}

// Meta describes where a model came from.
type Meta struct {
	Source    string
	Method    string
	CreatedAt time.Time
}

// NewModelFile converts a model to its file layout. Members are written in
// their current order.
func NewModelFile(model *cluster.Model, meta Meta) *ModelFile {
	f := &ModelFile{
		FormatVersion: FormatVersion,
		Source:        meta.Source,
		Method:        meta.Method,
		CreatedAt:     meta.CreatedAt,
		ClustersNum:   model.Len(),
	}

	for _, c := range model.Clusters {
		rec := ClusterRecord{
			Name:         c.Name,
			Color:        int32(c.Color),
			Indices:      make([]int, len(c.Members)),
			Coefficients: make([]Coefficient, len(c.Members)),
		}
		for i, m := range c.Members {
			rec.Indices[i] = m.Row
			rec.Coefficients[i] = Coefficient(m.Coefficient)
		}
		f.Clusters = append(f.Clusters, rec)
	}

	return f
}

// Model rebuilds the cluster model.
func (f *ModelFile) Model() (*cluster.Model, error) {
	if err := checkVersion(f.FormatVersion); err != nil {
		return nil, err
	}
	if f.ClustersNum != len(f.Clusters) {
		return nil, fmt.Errorf("clusters_num is %d but %d clusters are listed: %w", f.ClustersNum, len(f.Clusters), ErrCorruptModel)
	}

	clusters := make([]*cluster.Cluster, 0, len(f.Clusters))
	for _, rec := range f.Clusters {
		if len(rec.Indices) != len(rec.Coefficients) {
			return nil, fmt.Errorf("cluster %q has %d indices and %d coefficients: %w", rec.Name, len(rec.Indices), len(rec.Coefficients), ErrCorruptModel)
		}

		color := cluster.Color(rec.Color)
		members := make([]cluster.Member, len(rec.Indices))
		for i, row := range rec.Indices {
			members[i] = cluster.Member{Row: row, Color: color, Coefficient: float64(rec.Coefficients[i])}
		}

		c, err := cluster.New(rec.Name, color, members)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptModel, err)
		}
		clusters = append(clusters, c)
	}

	model, err := cluster.NewModel(clusters)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptModel, err)
	}
	return model, nil
}

// Meta returns the provenance fields.
func (f *ModelFile) Meta() Meta {
	return Meta{Source: f.Source, Method: f.Method, CreatedAt: f.CreatedAt}
}

func checkVersion(v string) error {
	if v == "" {
		return fmt.Errorf("missing format_version: %w", ErrFormatVersion)
	}
	got, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("format_version %q: %w", v, ErrFormatVersion)
	}
	want := semver.MustParse(FormatVersion)
	if got.Major() != want.Major() {
		return fmt.Errorf("format_version %s, want %d.x: %w", got, want.Major(), ErrFormatVersion)
	}
	return nil
}

// EncodeModel writes the model as YAML.
func EncodeModel(w io.Writer, model *cluster.Model, meta Meta) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(NewModelFile(model, meta)); err != nil {
		return fmt.Errorf("encoding model: %w", err)
	}
	return enc.Close()
}

// DecodeModel reads a model written by EncodeModel.
func DecodeModel(r io.Reader) (*cluster.Model, Meta, error) {
	var f ModelFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, Meta{}, fmt.Errorf("decoding model: %w", err)
	}
	model, err := f.Model()
	if err != nil {
		return nil, Meta{}, err
	}
	return model, f.Meta(), nil
}

// SaveModel writes the model to path.
func SaveModel(path string, model *cluster.Model, meta Meta) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating model file: %w", err)
	}
	if err := EncodeModel(f, model, meta); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadModel reads the model stored at path.
func LoadModel(path string) (*cluster.Model, Meta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("opening model file: %w", err)
	}
	defer f.Close()

	model, meta, err := DecodeModel(f)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("%s: %w", path, err)
	}
	return model, meta, nil
}
