package stats

import (
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Painter decorates a padded cell. grade is -1 for the header and the cluster
// name column, and for every cell of the weighted row.
type Painter func(text string, row, col, grade int) string

// Render lays the table out as aligned text columns with values rounded to two
// decimals. paint may be nil.
func Render(t Table, paint Painter) string {
	header := []string{"Cluster", "Size"}
	for _, m := range Metrics {
		header = append(header, m.Title())
	}

	cells := [][]string{header}
	grades := [][]int{nil}
	for _, r := range slices.Concat(t.Rows, []Row{t.Weighted}) {
		line := []string{r.Cluster, strconv.Itoa(r.Size)}
		for _, m := range Metrics {
			v := Round2(r.Value(m))
			if v == 0 {
				v = 0 // drop the sign of -0
			}
			line = append(line, strconv.FormatFloat(v, 'f', 2, 64))
		}
		cells = append(cells, line)
		grades = append(grades, r.Ratings)
	}

	widths := make([]int, len(header))
	for _, line := range cells {
		for i, c := range line {
			widths[i] = max(widths[i], utf8.RuneCountInString(c))
		}
	}

	var b strings.Builder
	for ri, line := range cells {
		for ci, c := range line {
			pad := strings.Repeat(" ", widths[ci]-utf8.RuneCountInString(c))
			text := c + pad
			if ci > 0 {
				text = pad + c
				b.WriteString("  ")
			}
			if paint != nil {
				grade := -1
				if ci >= 2 && ci-2 < len(grades[ri]) {
					grade = grades[ri][ci-2]
				}
				text = paint(text, ri, ci, grade)
			}
			b.WriteString(text)
		}
		b.WriteByte('\n')
	}

	return b.String()
}
