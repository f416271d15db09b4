package stats

// Grades run from 1 (best) to 5 (worst). Neutral is used when a column has no
// meaningful spread.
const (
	Neutral = 0
	Best    = 1
	Worst   = 5
)

// Gradient holds the background colour of each grade, indexed by grade.
var Gradient = [6]string{"#dddddd", "#a7ff8f", "#d4ff8f", "#fffb8f", "#ffce8f", "#ff8f8f"}

// Grade places val in fifths between lo and hi.
func Grade(val, lo, hi float64, higherIsBetter bool) int {
	diff := hi - lo
	if Round2(diff) == 0 {
		return Neutral
	}

	ratio := (val - lo) / diff
	if !higherIsBetter {
		ratio = 1 - ratio
	}

	switch {
	case ratio < 0.2:
		return 5
	case ratio < 0.4:
		return 4
	case ratio < 0.6:
		return 3
	case ratio < 0.8:
		return 2
	default:
		return 1
	}
}

// Rate grades every statistic of rows against the other rows of its column.
func Rate(rows []Row) {
	if len(rows) == 0 {
		return
	}

	lo := make([]float64, len(Metrics))
	hi := make([]float64, len(Metrics))
	for i, m := range Metrics {
		lo[i], hi[i] = rows[0].Value(m), rows[0].Value(m)
		for _, r := range rows[1:] {
			lo[i] = min(lo[i], r.Value(m))
			hi[i] = max(hi[i], r.Value(m))
		}
	}

	for ri := range rows {
		rows[ri].Ratings = make([]int, len(Metrics))
		for i, m := range Metrics {
			rows[ri].Ratings[i] = Grade(rows[ri].Value(m), lo[i], hi[i], m.HigherIsBetter())
		}
	}
}
