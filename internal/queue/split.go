package queue

import (
	"regexp"
	"strings"
	"unicode"
)

// Lines longer than this are broken further on sentence boundaries so that a
// single giant paragraph does not become one unskippable utterance.
const maxLineRunes = 400

var (
	spaceRun    = regexp.MustCompile(`[ \t]+`)
	sentenceEnd = regexp.MustCompile(`([.!?]+["')\]]*)\s+`)
)

// CleanText normalizes raw captured text before splitting. OCR output in
// particular arrives with control runes, ragged whitespace and stray
// single-character lines from misread pixels.
func CleanText(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r == '\n' || r == '\t' || unicode.IsPrint(r) {
			b.WriteRune(r)
		}
	}
	out := make([]string, 0, 8)
	for _, line := range strings.Split(b.String(), "\n") {
		line = strings.TrimSpace(spaceRun.ReplaceAllString(line, " "))
		if isJunkLine(line) {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// isJunkLine reports lines that carry no speakable content: empty lines and
// isolated non-alphanumeric fragments.
func isJunkLine(line string) bool {
	if line == "" {
		return true
	}
	if len([]rune(line)) == 1 {
		r := []rune(line)[0]
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}
	for _, r := range line {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// splitLogical breaks cleaned text into speakable lines: one per physical
// line, with overlong lines split again at sentence boundaries.
func splitLogical(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len([]rune(line)) <= maxLineRunes {
			out = append(out, line)
			continue
		}
		out = append(out, splitSentences(line)...)
	}
	return out
}

// splitSentences splits a paragraph at sentence-ending punctuation. The
// terminator stays attached to its sentence.
func splitSentences(text string) []string {
	var out []string
	rest := text
	for {
		loc := sentenceEnd.FindStringSubmatchIndex(rest)
		if loc == nil {
			break
		}
		sentence := strings.TrimSpace(rest[:loc[3]])
		if sentence != "" {
			out = append(out, sentence)
		}
		rest = rest[loc[1]:]
	}
	if rest = strings.TrimSpace(rest); rest != "" {
		out = append(out, rest)
	}
	return out
}
