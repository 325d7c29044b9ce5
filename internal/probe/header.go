package probe

import (
	"strconv"
	"strings"
	"unicode"

	"sheetetl/internal/workbook"
)

// DetectHeaderRow returns the 1-based index of the most likely header row.
//
// Each candidate row is scored as 3*textLike + nonEmpty, where a cell is
// text-like when it is text that does not read as a number or date, or when
// its string form contains a letter. Untyped sources such as CSV score the
// same as typed xlsx cells.
// Header rows are denser in alphabetic labels than data rows, so the text
// weighting breaks ties against rows that merely carry many numbers.
//
// Edge cases:
//   - Rows with fewer than 3 non-empty cells are never eligible.
//   - Ties keep the earliest row (strictly greater score wins).
//   - If no row qualifies, the header is row 1.
func DetectHeaderRow(rows [][]workbook.Cell) int {
	best, bestScore := 1, -1
	for i, row := range rows {
		nonEmpty, textLike := 0, 0
		for _, c := range row {
			if c.IsBlank() {
				continue
			}
			nonEmpty++
			if isTextLike(c) {
				textLike++
			}
		}
		score := textLike*3 + nonEmpty
		if nonEmpty >= 3 && score > bestScore {
			best, bestScore = i+1, score
		}
	}
	return best
}

func isTextLike(c workbook.Cell) bool {
	if c.Kind == workbook.KindString && InferValueType(c) == TypeText {
		return true
	}
	return hasLetter(c.String())
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// CleanHeaderText turns a raw header cell into a display name.
//
// The cell is stringified, trimmed, and internal whitespace (newlines
// included) collapses to single spaces. The result is capped at maxLen runes.
// Blank cells become "col_<idx>" (idx is 1-based).
func CleanHeaderText(c workbook.Cell, idx, maxLen int) string {
	fallback := "col_" + strconv.Itoa(idx)
	if c.Kind == workbook.KindEmpty {
		return fallback
	}
	txt := strings.Join(strings.Fields(c.String()), " ")
	if txt == "" {
		return fallback
	}
	return truncateRunes(txt, maxLen)
}

// NormalizeHeaders names every column from 1 to width using the header row.
// Repeated names get a running suffix in first-seen order: "name",
// "name__2", "name__3". Matching is exact (case and whitespace sensitive).
func NormalizeHeaders(header []workbook.Cell, width, maxLen int) []string {
	names := make([]string, 0, width)
	used := make(map[string]int, width)
	for idx := 1; idx <= width; idx++ {
		var raw workbook.Cell
		if idx-1 < len(header) {
			raw = header[idx-1]
		}
		name := CleanHeaderText(raw, idx, maxLen)
		if n, ok := used[name]; ok {
			used[name] = n + 1
			name = name + "__" + strconv.Itoa(n+1)
		} else {
			used[name] = 1
		}
		names = append(names, name)
	}
	return names
}

// truncateRunes cuts s to at most n runes, preserving UTF-8 validity.
func truncateRunes(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
