package layout

import (
	"unicode"
	"unicode/utf8"
)

// Tokenize splits raw text into layout-style tokens: letter and digit runs,
// whitespace runs, and single punctuation characters. Joining the tokens
// reproduces the input exactly. Offsets count characters, not bytes.
func Tokenize(text string) []Token {
	tokens := make([]Token, 0, len(text)/4)
	start, startPos, pos := 0, 0, 0
	prev := classNone
	for i, r := range text {
		c := classify(r)
		if i > start && (c != prev || c == classPunct) {
			tokens = append(tokens, Token{Text: text[start:i], Offset: startPos})
			start, startPos = i, pos
		}
		prev = c
		pos++
	}
	if start < len(text) {
		tokens = append(tokens, Token{Text: text[start:], Offset: startPos})
	}
	return tokens
}

type runeClass int

const (
	classNone runeClass = iota
	classWord
	classSpace
	classPunct
)

func classify(r rune) runeClass {
	switch {
	case r == utf8.RuneError:
		return classPunct
	case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r):
		return classWord
	case unicode.IsSpace(r):
		return classSpace
	default:
		return classPunct
	}
}
