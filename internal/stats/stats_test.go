package stats

import (
	"math"
	"os"
	"strings"
	"testing"

	"github.com/gkampitakis/go-snaps/snaps"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lacquerai/silhouette/internal/cluster"
	_ "github.com/lacquerai/silhouette/internal/testhelper"
)

func TestMain(m *testing.M) {
	v := m.Run()
	snaps.Clean(m)
	os.Exit(v)
}

func modelWith(t *testing.T, labels []string, coefficients []float64) *cluster.Model {
	t.Helper()
	m := cluster.Group(labels)
	for row, s := range coefficients {
		c, _, ok := m.ClusterOf(row)
		require.True(t, ok)
		require.NoError(t, c.SetCoefficient(row, s))
	}
	return m
}

func TestCompute_HalfAndHalf(t *testing.T) {
	r := Compute("A", []float64{0.5, -0.5})

	assert.Equal(t, 2, r.Size)
	assert.InDelta(t, 0, r.Avg, 1e-12)
	assert.InDelta(t, 0.5, r.RMS, 1e-12)
	assert.InDelta(t, 0.5, r.StdDev, 1e-12)
	assert.Equal(t, 1.0, r.NegCount)
	assert.Equal(t, 0.5, r.NegPct)
}

func TestCompute_Single(t *testing.T) {
	r := Compute("A", []float64{0.8})
	assert.InDelta(t, 0.8, r.Avg, 1e-12)
	assert.InDelta(t, 0.8, r.RMS, 1e-12)
	assert.Equal(t, 0.0, r.StdDev)
	assert.Equal(t, 0.0, r.NegPct)

	empty := Compute("none", nil)
	assert.Equal(t, Row{Cluster: "none"}, empty)
}

func TestAggregate_Weighted(t *testing.T) {
	m := modelWith(t,
		[]string{"A", "A", "A", "B"},
		[]float64{0.6, 0.6, 0.6, -0.2},
	)

	table := Aggregate(m)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "A", table.Rows[0].Cluster)
	assert.Equal(t, cluster.Palette[0], table.Rows[0].Color)
	assert.Equal(t, "B", table.Rows[1].Cluster)

	w := table.Weighted
	assert.Equal(t, WeightedName, w.Cluster)
	assert.Equal(t, 4, w.Size)
	assert.InDelta(t, 0.6*0.75+(-0.2)*0.25, w.Avg, 1e-12)
	assert.InDelta(t, 0.6*0.75+0.2*0.25, w.RMS, 1e-12)
	assert.InDelta(t, 0.25, w.NegCount, 1e-12)
	assert.InDelta(t, 0.25, w.NegPct, 1e-12)
	assert.Nil(t, w.Ratings)
}

func TestAggregate_Ratings(t *testing.T) {
	m := modelWith(t,
		[]string{"good", "good", "bad", "bad"},
		[]float64{0.9, 0.7, -0.4, 0.2},
	)

	table := Aggregate(m)
	good, bad := table.Rows[0], table.Rows[1]
	require.Len(t, good.Ratings, len(Metrics))

	assert.Equal(t, Best, good.Ratings[Avg])
	assert.Equal(t, Worst, bad.Ratings[Avg])
	assert.Equal(t, Best, good.Ratings[NegCount])
	assert.Equal(t, Worst, bad.Ratings[NegCount])
}

func TestGrade(t *testing.T) {
	tests := []struct {
		name   string
		val    float64
		lo, hi float64
		higher bool
		want   int
	}{
		{"flat column", 0.5, 0.5, 0.504, true, Neutral},
		{"max higher", 1, 0, 1, true, 1},
		{"min higher", 0, 0, 1, true, 5},
		{"middle", 0.5, 0, 1, true, 3},
		{"max lower", 1, 0, 1, false, 5},
		{"min lower", 0, 0, 1, false, 1},
		{"second fifth", 0.3, 0, 1, true, 4},
		{"fourth fifth", 0.7, 0, 1, true, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Grade(tt.val, tt.lo, tt.hi, tt.higher))
		})
	}
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 0.13, Round2(0.125))
	assert.Equal(t, -0.13, Round2(-0.125))
	assert.Equal(t, 1.0, Round2(0.999))
	assert.Equal(t, 0.0, Round2(0.004))
	assert.False(t, math.Signbit(Round2(0.004)))
}

func TestRender(t *testing.T) {
	m := modelWith(t,
		[]string{"setosa", "setosa", "virginica", "virginica", "virginica"},
		[]float64{0.81, 0.77, 0.42, -0.13, 0.35},
	)

	out := Render(Aggregate(m), nil)
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "Cluster"))
	assert.True(t, strings.HasPrefix(lines[3], WeightedName))
	assert.Contains(t, lines[1], "0.79")

	snaps.MatchSnapshot(t, out)
}

func TestRender_Painter(t *testing.T) {
	m := modelWith(t, []string{"x", "y"}, []float64{0, 0})

	var weightedGrades []int
	Render(Aggregate(m), func(text string, row, col, grade int) string {
		if row == 3 {
			weightedGrades = append(weightedGrades, grade)
		}
		if row == 0 || col < 2 {
			assert.Equal(t, -1, grade)
		}
		return text
	})

	for _, g := range weightedGrades {
		assert.Equal(t, -1, g)
	}
}
