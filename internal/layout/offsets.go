package layout

import (
	"sort"
	"unicode/utf8"
)

// OffsetMap translates character offsets in the text built by Text(tokens)
// back to document offsets. Segment tokens need not be contiguous in the
// document.
type OffsetMap struct {
	tokens []Token
	local  []int
	size   int
}

// NewOffsetMap indexes tokens for translation.
func NewOffsetMap(tokens []Token) *OffsetMap {
	local := make([]int, len(tokens))
	pos := 0
	for i, t := range tokens {
		local[i] = pos
		pos += utf8.RuneCountInString(t.Text)
	}
	return &OffsetMap{tokens: tokens, local: local, size: pos}
}

// Len returns the length of the segment text in characters.
func (m *OffsetMap) Len() int {
	return m.size
}

// Global maps the segment-local span [start, end) to document offsets. It
// fails for empty or out-of-range spans.
func (m *OffsetMap) Global(start, end int) (int, int, bool) {
	if start < 0 || end > m.size || start >= end {
		return 0, 0, false
	}
	si := m.tokenAt(start)
	ei := m.tokenAt(end - 1)
	gs := m.tokens[si].Offset + (start - m.local[si])
	ge := m.tokens[ei].Offset + (end - m.local[ei])
	if ge <= gs {
		return 0, 0, false
	}
	return gs, ge, true
}

// tokenAt returns the index of the token covering local position pos.
func (m *OffsetMap) tokenAt(pos int) int {
	return sort.Search(len(m.local), func(i int) bool {
		return m.local[i] > pos
	}) - 1
}
