// Package distance implements the heterogeneous distance between feature vectors
// and the sources the silhouette engine reads pairwise distances from.
package distance

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/rs/zerolog/log"
	"github.com/xrash/smetrics"
)

// Method selects the string sub-distance.
type Method int

const (
	Levenshtein Method = iota
	JaroWinkler
	Hamming
	Jaccard
	LCS
)

// Jaro-Winkler parameters: prefix boost applies above this similarity, over at most
// this many leading characters.
const (
	jaroWinklerBoostThreshold = 0.7
	jaroWinklerPrefixSize     = 4
)

// ErrHammingLength is returned by the Hamming distance for strings of different length.
var ErrHammingLength = errors.New("hamming distance requires strings of equal length")

var methodNames = []string{
	Levenshtein: "levenshtein",
	JaroWinkler: "jaro-winkler",
	Hamming:     "hamming",
	Jaccard:     "jaccard",
	LCS:         "lcs",
}

var methodAliases = map[string]Method{
	"levenshtein":              Levenshtein,
	"edit":                     Levenshtein,
	"jarowinkler":              JaroWinkler,
	"jaro":                     JaroWinkler,
	"hamming":                  Hamming,
	"jaccard":                  Jaccard,
	"lcs":                      LCS,
	"longestcommonsubsequence": LCS,
}

// Methods lists every supported method in display order.
func Methods() []Method {
	return []Method{Levenshtein, JaroWinkler, Hamming, Jaccard, LCS}
}

func (m Method) String() string {
	if m >= 0 && int(m) < len(methodNames) {
		return methodNames[m]
	}
	return fmt.Sprintf("method(%d)", int(m))
}

func (m Method) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Method) UnmarshalText(text []byte) error {
	*m = ParseMethod(string(text))
	return nil
}

func normalizeMethodName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer("-", "", "_", "", " ", "").Replace(name)
}

// LookupMethod resolves a method name, reporting whether it was recognised.
func LookupMethod(name string) (Method, bool) {
	m, ok := methodAliases[normalizeMethodName(name)]
	return m, ok
}

// ParseMethod resolves a method name. Unknown names select Levenshtein.
func ParseMethod(name string) Method {
	m, ok := LookupMethod(name)
	if !ok {
		if name != "" {
			log.Debug().Str("method", name).Msg("Unknown string distance, using levenshtein")
		}
		return Levenshtein
	}
	return m
}

// StringFunc is the distance between two string dimensions.
type StringFunc func(a, b string) (float64, error)

// StringDistance returns the implementation of the given method.
func StringDistance(m Method) StringFunc {
	switch m {
	case JaroWinkler:
		return jaroWinklerDistance
	case Hamming:
		return hammingDistance
	case Jaccard:
		return jaccardDistance
	case LCS:
		return lcsDistance
	default:
		return levenshteinDistance
	}
}

func levenshteinDistance(a, b string) (float64, error) {
	return float64(levenshtein.ComputeDistance(a, b)), nil
}

// jaroWinklerDistance is one minus the Jaro-Winkler similarity so that equal
// strings are at distance zero.
func jaroWinklerDistance(a, b string) (float64, error) {
	if a == b {
		return 0, nil
	}
	// greedy matching can depend on argument order
	if a > b {
		a, b = b, a
	}
	sim := smetrics.JaroWinkler(a, b, jaroWinklerBoostThreshold, jaroWinklerPrefixSize)
	return 1 - sim, nil
}

func hammingDistance(a, b string) (float64, error) {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if la != lb {
		return 0, fmt.Errorf("%q (%d) and %q (%d): %w", a, la, b, lb, ErrHammingLength)
	}

	if len(a) == len(b) {
		d, err := smetrics.Hamming(a, b)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrHammingLength, err)
		}
		return float64(d), nil
	}

	// same rune count but different byte widths
	ra, rb := []rune(a), []rune(b)
	d := 0
	for i := range ra {
		if ra[i] != rb[i] {
			d++
		}
	}
	return float64(d), nil
}

// jaccardDistance compares the character sets of both strings.
func jaccardDistance(a, b string) (float64, error) {
	if a == b {
		return 0, nil
	}

	setA := make(map[rune]struct{})
	for _, r := range a {
		setA[r] = struct{}{}
	}
	setB := make(map[rune]struct{})
	for _, r := range b {
		setB[r] = struct{}{}
	}

	intersection := 0
	for r := range setA {
		if _, ok := setB[r]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0, nil
	}

	return 1 - float64(intersection)/float64(union), nil
}

// lcsDistance counts the characters outside the longest common subsequence.
func lcsDistance(a, b string) (float64, error) {
	ra, rb := []rune(a), []rune(b)
	if len(ra) < len(rb) {
		ra, rb = rb, ra
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			switch {
			case ra[i-1] == rb[j-1]:
				curr[j] = prev[j-1] + 1
			case prev[j] >= curr[j-1]:
				curr[j] = prev[j]
			default:
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}

	lcs := prev[len(rb)]
	return float64(len(ra) + len(rb) - 2*lcs), nil
}
