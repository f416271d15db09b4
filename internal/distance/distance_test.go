package distance

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lacquerai/silhouette/internal/feature"
)

func TestParseMethod(t *testing.T) {
	tests := []struct {
		input string
		want  Method
		known bool
	}{
		{"levenshtein", Levenshtein, true},
		{"Jaro-Winkler", JaroWinkler, true},
		{"jaro_winkler", JaroWinkler, true},
		{"HAMMING", Hamming, true},
		{"jaccard", Jaccard, true},
		{"Longest Common Subsequence", LCS, true},
		{"lcs", LCS, true},
		{"cosine", Levenshtein, false},
		{"", Levenshtein, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseMethod(tt.input))
			_, ok := LookupMethod(tt.input)
			assert.Equal(t, tt.known, ok)
		})
	}
}

func TestMethodText(t *testing.T) {
	for _, m := range Methods() {
		text, err := m.MarshalText()
		require.NoError(t, err)

		var parsed Method
		require.NoError(t, parsed.UnmarshalText(text))
		assert.Equal(t, m, parsed)
	}
}

func TestStringDistances(t *testing.T) {
	tests := []struct {
		method Method
		a, b   string
		want   float64
	}{
		{Levenshtein, "cat", "cats", 1},
		{Levenshtein, "kitten", "sitting", 3},
		{Levenshtein, "", "abc", 3},
		{Hamming, "karolin", "kathrin", 3},
		{Hamming, "héllo", "hallo", 1},
		{Jaccard, "abc", "abd", 0.5},
		{Jaccard, "", "", 0},
		{Jaccard, "aaa", "bbb", 1},
		{LCS, "abcde", "ace", 2},
		{LCS, "abc", "xyz", 6},
		{JaroWinkler, "same", "same", 0},
	}

	for _, tt := range tests {
		t.Run(tt.method.String()+"/"+tt.a+"-"+tt.b, func(t *testing.T) {
			d, err := StringDistance(tt.method)(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, d, 1e-12)
		})
	}
}

func TestJaroWinkler_IsDistance(t *testing.T) {
	fn := StringDistance(JaroWinkler)

	near, err := fn("martha", "marhta")
	require.NoError(t, err)
	far, err := fn("martha", "zzzzzz")
	require.NoError(t, err)

	assert.Greater(t, near, 0.0)
	assert.Less(t, near, far)
	assert.LessOrEqual(t, far, 1.0)
}

func TestHamming_UnequalLength(t *testing.T) {
	_, err := StringDistance(Hamming)("abc", "abcd")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHammingLength)
}

func TestStringDistances_Symmetric(t *testing.T) {
	pairs := [][2]string{{"cat", "cats"}, {"martha", "marhta"}, {"dixon", "dicksonx"}, {"", "x"}}
	for _, m := range []Method{Levenshtein, JaroWinkler, Jaccard, LCS} {
		fn := StringDistance(m)
		for _, p := range pairs {
			ab, err := fn(p[0], p[1])
			require.NoError(t, err)
			ba, err := fn(p[1], p[0])
			require.NoError(t, err)
			assert.InDelta(t, ab, ba, 1e-12, "%s(%q,%q)", m, p[0], p[1])
		}
	}
}

func vec(strs []string, reals []float64, ints []int64) feature.Vector {
	return feature.Vector{Strings: strs, Reals: reals, Ints: ints}
}

func TestMetric_Distance(t *testing.T) {
	metric := NewMetric(Levenshtein)

	a := vec([]string{"cat"}, []float64{0, 0}, []int64{1})
	b := vec([]string{"cats"}, []float64{3, 4}, []int64{3})

	// 1² + 3² + 4² + 2² = 30
	d, err := metric.Distance(a, b)
	require.NoError(t, err)
	assert.InDelta(t, math.Sqrt(30), d, 1e-12)

	// string term alone: cat/cats contributes 1² under the root
	d, err = metric.Distance(vec([]string{"cat"}, nil, nil), vec([]string{"cats"}, nil, nil))
	require.NoError(t, err)
	assert.Equal(t, 1.0, d)
}

func TestMetric_SymmetryAndIdentity(t *testing.T) {
	vectors := []feature.Vector{
		vec([]string{"alpha", "x"}, []float64{1.5}, []int64{-3}),
		vec([]string{"beta", "xy"}, []float64{-2}, []int64{7}),
		vec([]string{"", "xyz"}, []float64{0}, []int64{0}),
	}

	for _, m := range []Method{Levenshtein, JaroWinkler, Jaccard, LCS} {
		metric := NewMetric(m)
		for i := range vectors {
			self, err := metric.Distance(vectors[i], vectors[i])
			require.NoError(t, err)
			assert.Equal(t, 0.0, self, "%s identity", m)

			for j := range vectors {
				ij, err := metric.Distance(vectors[i], vectors[j])
				require.NoError(t, err)
				ji, err := metric.Distance(vectors[j], vectors[i])
				require.NoError(t, err)
				assert.InDelta(t, ij, ji, 1e-12, "%s symmetry", m)
			}
		}
	}
}

func TestMetric_DimensionMismatch(t *testing.T) {
	metric := NewMetric(Levenshtein)

	tests := []struct {
		name string
		a, b feature.Vector
		kind string
	}{
		{"strings", vec([]string{"a"}, nil, nil), vec(nil, nil, nil), "string"},
		{"reals", vec(nil, []float64{1, 2}, nil), vec(nil, []float64{1}, nil), "real"},
		{"ints", vec(nil, nil, []int64{1}), vec(nil, nil, []int64{1, 2, 3}), "int"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := metric.Distance(tt.a, tt.b)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDimensionMismatch)

			var mismatch *DimensionMismatchError
			require.True(t, errors.As(err, &mismatch))
			assert.Equal(t, tt.kind, mismatch.Kind)
			assert.NotEqual(t, mismatch.Left, mismatch.Right)
		})
	}
}

func TestMetric_StringErrorPropagates(t *testing.T) {
	metric := NewMetric(Hamming)
	_, err := metric.Distance(vec([]string{"ab"}, nil, nil), vec([]string{"abc"}, nil, nil))
	assert.ErrorIs(t, err, ErrHammingLength)
}

func TestMatrix_MatchesOnTheFly(t *testing.T) {
	vectors := []feature.Vector{
		vec(nil, []float64{0}, nil),
		vec(nil, []float64{1}, nil),
		vec(nil, []float64{2}, nil),
		vec(nil, []float64{10}, nil),
		vec(nil, []float64{11}, nil),
	}
	metric := NewMetric(Levenshtein)

	var mu sync.Mutex
	calls := 0
	m, err := BuildMatrix(context.Background(), metric, vectors, 3, func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		assert.Equal(t, len(vectors), total)
	})
	require.NoError(t, err)
	assert.Equal(t, len(vectors), calls)

	fly := NewOnTheFly(metric, vectors)
	require.Equal(t, fly.Len(), m.Len())
	for i := range vectors {
		for j := range vectors {
			want, err := fly.Between(i, j)
			require.NoError(t, err)
			got, err := m.Between(i, j)
			require.NoError(t, err)
			assert.Equal(t, want, got, "d(%d,%d)", i, j)
		}
	}

	_, err = m.Between(0, 5)
	assert.ErrorIs(t, err, ErrRowOutOfRange)
	_, err = fly.Between(-1, 0)
	assert.ErrorIs(t, err, ErrRowOutOfRange)
}

func TestBuildMatrix_Errors(t *testing.T) {
	vectors := []feature.Vector{
		vec(nil, []float64{0}, nil),
		vec(nil, []float64{1, 2}, nil),
	}
	_, err := BuildMatrix(context.Background(), NewMetric(Levenshtein), vectors, 2, nil)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = BuildMatrix(ctx, NewMetric(Levenshtein), []feature.Vector{vectors[0], vectors[0]}, 1, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadMatrix_Square(t *testing.T) {
	input := `,a,b,c
a,0,1,2
b,1,0,3
c,2,3,0
`
	m, err := ReadMatrix(strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, 3, m.Len())

	d, err := m.Between(2, 1)
	require.NoError(t, err)
	assert.Equal(t, 3.0, d)
}

func TestReadMatrix_LowerTriangular(t *testing.T) {
	m, err := ReadMatrix(strings.NewReader("0\n1.5,0\n2,4,0\n"))
	require.NoError(t, err)
	require.Equal(t, 3, m.Len())

	d, err := m.Between(0, 2)
	require.NoError(t, err)
	assert.Equal(t, 2.0, d)
	d, err = m.Between(1, 2)
	require.NoError(t, err)
	assert.Equal(t, 4.0, d)
}

func TestReadMatrix_Invalid(t *testing.T) {
	tests := map[string]string{
		"asymmetric": "0,1\n2,0\n",
		"negative":   "0\n-1,0\n",
		"ragged":     "0\n1,0\n1,2,3,4\n",
		"empty":      "a,b\n",
		// the empty first line of a strict lower triangle is skipped, so
		// every row would otherwise shift by one
		"strict lower triangle": "\n1.5\n2,4\n",
		"square diagonal":       "0,1\n1,0.5\n",
		"triangle diagonal":     "0\n1,0\n2,4,1\n",
	}

	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ReadMatrix(strings.NewReader(input))
			assert.ErrorIs(t, err, ErrMatrixShape)
		})
	}
}
