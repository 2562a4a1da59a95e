package watch

import (
	"strings"
	"unicode"
)

// ChangeMetric scores how much new text differs from the previous snapshot,
// as a fraction in [0, 1]. The watcher compares the score against its
// configured threshold. Kept as a function field so the metric is swappable.
type ChangeMetric func(oldText, newText string) float64

// ChangedLineFraction is the default metric: the share of the new snapshot's
// lines whose normalized token sequence does not appear anywhere in the old
// snapshot. Normalization lowercases and strips punctuation, so a
// punctuation-only change scores 0.0 while a reworded line counts in full.
// A first snapshot (empty old) scores 1.0.
func ChangedLineFraction(oldText, newText string) float64 {
	newLines := normalizedLines(newText)
	if len(newLines) == 0 {
		return 0
	}
	oldLines := normalizedLines(oldText)
	if len(oldLines) == 0 {
		return 1
	}

	seen := make(map[string]struct{}, len(oldLines))
	for _, l := range oldLines {
		seen[l] = struct{}{}
	}

	changed := 0
	for _, l := range newLines {
		if _, ok := seen[l]; !ok {
			changed++
		}
	}
	return float64(changed) / float64(len(newLines))
}

// normalizedLines reduces text to comparable token lines: one entry per
// non-empty physical line, lowercased, punctuation dropped, whitespace
// collapsed.
func normalizedLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		tokens := strings.FieldsFunc(strings.ToLower(line), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if len(tokens) == 0 {
			continue
		}
		out = append(out, strings.Join(tokens, " "))
	}
	return out
}
