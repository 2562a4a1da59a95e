// Package queue holds the ordered lines derived from a single speak request
// and tracks the playback cursor across them.
package queue

// Source identifies where the text of a speak request came from.
type Source string

const (
	// SourceClipboard marks text taken from the system clipboard.
	SourceClipboard Source = "clipboard"
	// SourceSelection marks text taken from the current selection.
	SourceSelection Source = "selection"
	// SourceOCR marks text recognized from a watched screen region.
	SourceOCR Source = "ocr"
)

// Line is one unit of text queued for independent synthesis and playback.
// Lines are immutable once built.
type Line struct {
	Text  string
	Index int
}

// Queue is an ordered sequence of lines with a cursor. The cursor starts at
// -1 ("not started") and stays within [-1, Len()]. A queue is built once per
// speak request and never merged with another.
type Queue struct {
	lines  []Line
	cursor int
	source Source
}

// Build splits raw text on logical line boundaries, dropping empty lines,
// and returns a fresh queue with the cursor before the first line.
// Empty input yields an empty queue.
func Build(raw string, source Source) *Queue {
	parts := splitLogical(CleanText(raw))
	lines := make([]Line, 0, len(parts))
	for _, p := range parts {
		lines = append(lines, Line{Text: p, Index: len(lines)})
	}
	return &Queue{lines: lines, cursor: -1, source: source}
}

// Len returns the number of lines in the queue.
func (q *Queue) Len() int { return len(q.lines) }

// Source returns the source tag the queue was built with.
func (q *Queue) Source() Source { return q.source }

// Cursor returns the current cursor position, -1 if playback has not started.
func (q *Queue) Cursor() int { return q.cursor }

// Current returns the line at the cursor, or false if the cursor is before
// the first line or past the last one.
func (q *Queue) Current() (Line, bool) {
	if q.cursor < 0 || q.cursor >= len(q.lines) {
		return Line{}, false
	}
	return q.lines[q.cursor], true
}

// Advance moves the cursor forward and returns the new current line.
// Past the last line it returns false and parks the cursor at Len(),
// so repeated calls stay terminal.
func (q *Queue) Advance() (Line, bool) {
	if q.cursor >= len(q.lines) {
		return Line{}, false
	}
	q.cursor++
	return q.Current()
}

// Retreat moves the cursor backward, clamped at the first line. At the first
// line (or before it) it returns false and leaves the cursor in place.
func (q *Queue) Retreat() (Line, bool) {
	if q.cursor <= 0 {
		return Line{}, false
	}
	q.cursor--
	return q.Current()
}

// Peek returns the line after the cursor without moving it. Used by the
// prefetch pipeline to look at the next line while the current one plays.
func (q *Queue) Peek() (Line, bool) {
	next := q.cursor + 1
	if next < 0 || next >= len(q.lines) {
		return Line{}, false
	}
	return q.lines[next], true
}
