package munin

import (
	"fmt"
	"sort"
	"unicode/utf8"
)

// Location is a byte cursor resolved to a 1-based line/column, the
// unit every diagnostic in the lexer, parser and code generator
// reports positions in.
type Location struct {
	Line   int32
	Column int32
	Cursor int
}

// Span is a pair of Locations delimiting the source text a token,
// expression or instruction came from.
type Span struct {
	Start Location
	End   Location
}

func (s Span) String() string {
	startLine, startCol := int(s.Start.Line), int(s.Start.Column)
	endLine, endCol := int(s.End.Line), int(s.End.Column)
	if startLine == endLine && startCol == endCol {
		return fmt.Sprintf("%d:%d", startLine, startCol)
	}
	if startLine == endLine {
		return fmt.Sprintf("%d:%d..%d", startLine, startCol, endCol)
	}
	return fmt.Sprintf("%d:%d..%d:%d", startLine, startCol, endLine, endCol)
}

// LineIndex allows fast conversion from byte cursor offsets to
// line/column.
//
// It stores the start byte offset of each line (0-based). Given a
// cursor, it finds the line by binary searching line starts (O(log
// lines)) and computes the column as (runes since lineStart + 1).
//
// Construction is O(n) over the input and is intended to be cached
// per input (one LineIndex per compiled source file).
type LineIndex struct {
	input     []byte
	lineStart []int
}

func NewLineIndex(input []byte) *LineIndex {
	lineStart := make([]int, 1, 64)
	lineStart[0] = 0
	for i, b := range input {
		if b == '\n' {
			lineStart = append(lineStart, i+1)
		}
	}
	return &LineIndex{input: input, lineStart: lineStart}
}

func (li *LineIndex) Span(r Range) Span {
	return Span{
		Start: li.LocationAt(r.Start),
		End:   li.LocationAt(r.End),
	}
}

func (li *LineIndex) LocationAt(cursor int) Location {
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(li.input) {
		cursor = len(li.input)
	}

	lineIdx := sort.Search(len(li.lineStart), func(i int) bool {
		return li.lineStart[i] > cursor
	}) - 1
	if lineIdx < 0 {
		lineIdx = 0
	}

	lineStart := li.lineStart[lineIdx]
	col := int32(utf8.RuneCount(li.input[lineStart:cursor])) + 1

	return Location{
		Line:   int32(lineIdx + 1),
		Column: col,
		Cursor: cursor,
	}
}
