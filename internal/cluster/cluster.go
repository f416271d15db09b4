// Package cluster groups rows by label and holds the per-row silhouette
// coefficients of each group.
package cluster

import (
	"cmp"
	"errors"
	"fmt"
	"iter"
	"slices"
)

var (
	// ErrRowNotFound is returned when a row is looked up in a cluster it does not belong to.
	ErrRowNotFound = errors.New("row is not a member of the cluster")

	// ErrDuplicateRow is returned when a row appears in more than one place.
	ErrDuplicateRow = errors.New("row belongs to more than one cluster")

	// ErrEmptyCluster is returned for a cluster without members.
	ErrEmptyCluster = errors.New("cluster has no members")
)

// Member is one row of a cluster with its colour and coefficient.
type Member struct {
	Row         int     `json:"row" yaml:"row"`
	Color       Color   `json:"color" yaml:"color"`
	Coefficient float64 `json:"coefficient" yaml:"coefficient"`
}

// Cluster is a named group of rows. Coefficients are addressed by row, never by
// position, because members can be reordered for presentation.
type Cluster struct {
	Name    string
	Color   Color
	Members []Member

	index map[int]int
}

// New returns a cluster holding the given members.
func New(name string, color Color, members []Member) (*Cluster, error) {
	c := &Cluster{
		Name:    name,
		Color:   color,
		Members: members,
	}
	if err := c.reindex(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cluster) reindex() error {
	c.index = make(map[int]int, len(c.Members))
	for pos, m := range c.Members {
		if _, ok := c.index[m.Row]; ok {
			return fmt.Errorf("cluster %q row %d: %w", c.Name, m.Row, ErrDuplicateRow)
		}
		c.index[m.Row] = pos
	}
	return nil
}

func (c *Cluster) add(row int) {
	if c.index == nil {
		c.index = make(map[int]int)
	}
	c.index[row] = len(c.Members)
	c.Members = append(c.Members, Member{Row: row, Color: c.Color})
}

// Size returns the number of members.
func (c *Cluster) Size() int {
	return len(c.Members)
}

// Rows returns the member rows in current order.
func (c *Cluster) Rows() []int {
	rows := make([]int, len(c.Members))
	for i := range c.Members {
		rows[i] = c.Members[i].Row
	}
	return rows
}

// Coefficients returns the member coefficients in current order.
func (c *Cluster) Coefficients() []float64 {
	values := make([]float64, len(c.Members))
	for i, m := range c.Members {
		values[i] = m.Coefficient
	}
	return values
}

// Contains reports whether the row is a member.
func (c *Cluster) Contains(row int) bool {
	_, ok := c.index[row]
	return ok
}

// Coefficient returns the coefficient stored for the row.
func (c *Cluster) Coefficient(row int) (float64, error) {
	pos, ok := c.index[row]
	if !ok {
		return 0, fmt.Errorf("cluster %q row %d: %w", c.Name, row, ErrRowNotFound)
	}
	return c.Members[pos].Coefficient, nil
}

// SetCoefficient stores the coefficient of a member row. Calls for different
// rows may run concurrently; the membership itself must not change meanwhile.
func (c *Cluster) SetCoefficient(row int, s float64) error {
	pos, ok := c.index[row]
	if !ok {
		return fmt.Errorf("cluster %q row %d: %w", c.Name, row, ErrRowNotFound)
	}
	c.Members[pos].Coefficient = s
	return nil
}

// SortDescending orders members by coefficient, highest first. Ties keep row order.
func (c *Cluster) SortDescending() {
	slices.SortStableFunc(c.Members, func(a, b Member) int {
		if byCoef := cmp.Compare(b.Coefficient, a.Coefficient); byCoef != 0 {
			return byCoef
		}
		return cmp.Compare(a.Row, b.Row)
	})
	_ = c.reindex()
}

// DominantColor returns the most frequent member colour, or the cluster colour
// for an empty cluster. Ties go to the colour seen first.
func (c *Cluster) DominantColor() Color {
	if len(c.Members) == 0 {
		return c.Color
	}

	counts := make(map[Color]int)
	best, bestCount := c.Members[0].Color, 0
	for _, m := range c.Members {
		counts[m.Color]++
		if counts[m.Color] > bestCount {
			best, bestCount = m.Color, counts[m.Color]
		}
	}
	return best
}

func (c *Cluster) clone() *Cluster {
	out := &Cluster{
		Name:    c.Name,
		Color:   c.Color,
		Members: slices.Clone(c.Members),
	}
	_ = out.reindex()
	return out
}

// Model is the ordered set of clusters found in one dataset.
type Model struct {
	Clusters []*Cluster

	rows  int
	ofRow []int
}

// Group partitions rows by label. Clusters appear in the order their label is
// first seen and get the next palette colour. Input order does not need to be
// sorted by label.
func Group(labels []string) *Model {
	m := &Model{
		rows:  len(labels),
		ofRow: make([]int, len(labels)),
	}

	ordinal := make(map[string]int)
	for row, label := range labels {
		idx, ok := ordinal[label]
		if !ok {
			idx = len(m.Clusters)
			ordinal[label] = idx
			m.Clusters = append(m.Clusters, &Cluster{Name: label, Color: PaletteColor(idx)})
		}
		m.Clusters[idx].add(row)
		m.ofRow[row] = idx
	}

	return m
}

// NewModel assembles a model from existing clusters, for example after loading
// it from disk. Every row may belong to at most one cluster.
func NewModel(clusters []*Cluster) (*Model, error) {
	m := &Model{Clusters: clusters}

	for _, c := range clusters {
		if len(c.Members) == 0 {
			return nil, fmt.Errorf("cluster %q: %w", c.Name, ErrEmptyCluster)
		}
		if c.index == nil {
			if err := c.reindex(); err != nil {
				return nil, err
			}
		}
		for _, member := range c.Members {
			if member.Row < 0 {
				return nil, fmt.Errorf("cluster %q has negative row %d", c.Name, member.Row)
			}
			if member.Row+1 > m.rows {
				m.rows = member.Row + 1
			}
		}
	}

	m.ofRow = make([]int, m.rows)
	for i := range m.ofRow {
		m.ofRow[i] = -1
	}
	for idx, c := range clusters {
		for _, member := range c.Members {
			if m.ofRow[member.Row] != -1 {
				return nil, fmt.Errorf("row %d: %w", member.Row, ErrDuplicateRow)
			}
			m.ofRow[member.Row] = idx
		}
	}

	return m, nil
}

// Len returns the number of clusters.
func (m *Model) Len() int {
	return len(m.Clusters)
}

// Rows returns the number of row positions the model covers.
func (m *Model) Rows() int {
	return m.rows
}

// ClusterOf returns the cluster holding the row and its ordinal.
func (m *Model) ClusterOf(row int) (*Cluster, int, bool) {
	if row < 0 || row >= len(m.ofRow) || m.ofRow[row] < 0 {
		return nil, -1, false
	}
	idx := m.ofRow[row]
	return m.Clusters[idx], idx, true
}

// Coefficient returns the coefficient of a row.
func (m *Model) Coefficient(row int) (float64, error) {
	c, _, ok := m.ClusterOf(row)
	if !ok {
		return 0, fmt.Errorf("row %d: %w", row, ErrRowNotFound)
	}
	return c.Coefficient(row)
}

// Coefficients yields (row, coefficient) in row order. Each call starts over
// from the current state of the model.
func (m *Model) Coefficients() iter.Seq2[int, float64] {
	return func(yield func(int, float64) bool) {
		for row := 0; row < m.rows; row++ {
			c, _, ok := m.ClusterOf(row)
			if !ok {
				continue
			}
			s, err := c.Coefficient(row)
			if err != nil {
				continue
			}
			if !yield(row, s) {
				return
			}
		}
	}
}

// SortDescending sorts the members of every cluster by coefficient.
func (m *Model) SortDescending() {
	for _, c := range m.Clusters {
		c.SortDescending()
	}
}

// Reset sets every coefficient back to zero.
func (m *Model) Reset() {
	for _, c := range m.Clusters {
		for i := range c.Members {
			c.Members[i].Coefficient = 0
		}
	}
}

// Clone returns a deep copy of the model.
func (m *Model) Clone() *Model {
	out := &Model{
		Clusters: make([]*Cluster, len(m.Clusters)),
		rows:     m.rows,
		ofRow:    slices.Clone(m.ofRow),
	}
	for i, c := range m.Clusters {
		out.Clusters[i] = c.clone()
	}
	return out
}

// Find returns the cluster with the given name.
func (m *Model) Find(name string) (*Cluster, bool) {
	for _, c := range m.Clusters {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}
