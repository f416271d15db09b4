package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lacquerai/silhouette/internal/stats"
)

func TestCompareTables(t *testing.T) {
	a := stats.Table{
		Rows: []stats.Row{
			{Cluster: "a", Size: 2, Avg: 0.5},
			{Cluster: "b", Size: 2, Avg: 0.2},
		},
		Weighted: stats.Row{Cluster: stats.WeightedName, Size: 4, Avg: 0.35},
	}
	b := stats.Table{
		Rows: []stats.Row{
			{Cluster: "b", Size: 3, Avg: 0.6, NegCount: 1},
			{Cluster: "c", Size: 1, Avg: 0.1},
		},
		Weighted: stats.Row{Cluster: stats.WeightedName, Size: 4, Avg: 0.475},
	}

	deltas, weighted := compareTables(a, b)
	require.Len(t, deltas, 3)

	assert.Equal(t, "a", deltas[0].Cluster)
	assert.Equal(t, "a", deltas[0].OnlyIn)
	assert.Nil(t, deltas[0].Delta)

	assert.Equal(t, "b", deltas[1].Cluster)
	assert.Empty(t, deltas[1].OnlyIn)
	assert.Equal(t, 2, deltas[1].SizeA)
	assert.Equal(t, 3, deltas[1].SizeB)
	assert.InDelta(t, 0.4, deltas[1].Delta["avg"], 1e-12)
	assert.InDelta(t, 1.0, deltas[1].Delta["neg_count"], 1e-12)

	assert.Equal(t, "c", deltas[2].Cluster)
	assert.Equal(t, "b", deltas[2].OnlyIn)

	assert.Equal(t, stats.WeightedName, weighted.Cluster)
	assert.InDelta(t, 0.125, weighted.Delta["avg"], 1e-12)
}

func TestCompare_Text(t *testing.T) {
	before := saveModel(t, "before.yaml", []string{"a", "a", "b", "b"}, []float64{0.5, -0.5, 0.8, 0.6})
	after := saveModel(t, "after.yaml", []string{"a", "a", "b", "b"}, []float64{0.7, 0.5, 0.8, 0.6})

	stdout, _, err := executeCommand(t, "compare", before, after)
	require.NoError(t, err)

	out := normalize(stdout)
	assert.Contains(t, out, "Δ Avg. S")
	assert.Contains(t, out, "2 → 2")
	assert.Contains(t, out, "+0.60")
	assert.NotContains(t, out, "+ ", "no diff without --diff")
}

func TestCompare_Diff(t *testing.T) {
	before := saveModel(t, "before.yaml", []string{"a", "a", "b", "b"}, []float64{0.5, -0.5, 0.8, 0.6})
	after := saveModel(t, "after.yaml", []string{"a", "a", "b", "b"}, []float64{0.7, 0.5, 0.8, 0.6})

	stdout, _, err := executeCommand(t, "compare", before, after, "--diff", "--output", "json")
	require.NoError(t, err)

	var cmp Comparison
	require.NoError(t, json.Unmarshal([]byte(stdout), &cmp), stdout)

	require.Len(t, cmp.Clusters, 2)
	assert.InDelta(t, 0.6, cmp.Clusters[0].Delta["avg"], 1e-12)
	assert.InDelta(t, 0.0, cmp.Clusters[1].Delta["avg"], 1e-12)

	// only the row of cluster a and the weighted row change
	assert.Contains(t, cmp.Diff, "- a ")
	assert.Contains(t, cmp.Diff, "+ a ")
	assert.Contains(t, cmp.Diff, "  b ")
	assert.Contains(t, cmp.Diff, "- "+stats.WeightedName)
}

func TestCompare_SameModel(t *testing.T) {
	path := saveModel(t, "model.yaml", []string{"a", "b"}, []float64{0.1, 0.2})

	diffs := diffStats(mustStats(t, path), mustStats(t, path))
	require.Len(t, diffs, 1)
	assert.NotContains(t, renderDiff(diffs, false), "+ ")
}

func mustStats(t *testing.T, path string) stats.Table {
	t.Helper()
	_, ms, err := loadModelStats(path)
	require.NoError(t, err)
	return ms.Statistics
}
