// Package layout models what the layout service returns for a document:
// a global token stream and the structural parts that slice it.
package layout

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Kind names a structural part of a document.
type Kind string

const (
	KindHeader          Kind = "HEADER"
	KindBody            Kind = "BODY"
	KindReferences      Kind = "REFERENCES"
	KindAcknowledgement Kind = "ACKNOWLEDGEMENT"
	KindAnnex           Kind = "ANNEX"
	KindFootnote        Kind = "FOOTNOTE"
)

// HeaderField names the header sub-fields that carry running text.
type HeaderField string

const (
	FieldTitle    HeaderField = "title"
	FieldAbstract HeaderField = "abstract"
	FieldKeywords HeaderField = "keywords"
)

// Token is one layout token. Offset is the token's character (rune)
// position in the document's full text.
type Token struct {
	Text   string `json:"text"`
	Offset int    `json:"offset"`
}

// End returns the offset just past the token.
func (t Token) End() int {
	return t.Offset + utf8.RuneCountInString(t.Text)
}

// Piece is a contiguous run of document tokens, [Start, End) in token
// indexes, belonging to one structural part.
type Piece struct {
	Kind  Kind `json:"kind"`
	Start int  `json:"start"`
	End   int  `json:"end"`
}

// HeaderPiece locates one header sub-field in the token stream.
type HeaderPiece struct {
	Field HeaderField `json:"field"`
	Start int         `json:"start"`
	End   int         `json:"end"`
}

// Document is a segmented document.
type Document struct {
	Tokens []Token        `json:"tokens"`
	Pieces []Piece        `json:"pieces"`
	Header []HeaderPiece  `json:"header,omitempty"`
	Pages  int            `json:"pages,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// Validate checks that every piece indexes inside the token stream.
func (d *Document) Validate() error {
	n := len(d.Tokens)
	for i, p := range d.Pieces {
		if p.Start < 0 || p.End > n || p.Start > p.End {
			return fmt.Errorf("piece %d (%s) range [%d,%d) outside %d tokens", i, p.Kind, p.Start, p.End, n)
		}
	}
	for i, h := range d.Header {
		if h.Start < 0 || h.End > n || h.Start > h.End {
			return fmt.Errorf("header piece %d (%s) range [%d,%d) outside %d tokens", i, h.Field, h.Start, h.End, n)
		}
	}
	return nil
}

// Part returns the pieces of the given kind in document order.
func (d *Document) Part(kind Kind) []Piece {
	var out []Piece
	for _, p := range d.Pieces {
		if p.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}

// TokenizeParts concatenates the tokens of the given pieces.
func (d *Document) TokenizeParts(pieces []Piece) []Token {
	var out []Token
	for _, p := range pieces {
		out = append(out, d.slice(p.Start, p.End)...)
	}
	return out
}

// HeaderTokens returns the tokens of one header sub-field. Repeated
// entries for the same field (multiple keyword blocks) are concatenated.
func (d *Document) HeaderTokens(field HeaderField) []Token {
	var out []Token
	for _, h := range d.Header {
		if h.Field == field {
			out = append(out, d.slice(h.Start, h.End)...)
		}
	}
	return out
}

func (d *Document) slice(start, end int) []Token {
	start = max(start, 0)
	end = min(end, len(d.Tokens))
	if start >= end {
		return nil
	}
	return d.Tokens[start:end]
}

// Text joins the tokens' text. Tokens are expected to carry their own
// whitespace, as layout tokens do.
func Text(tokens []Token) string {
	var b strings.Builder
	for _, t := range tokens {
		b.WriteString(t.Text)
	}
	return b.String()
}

// Blank reports whether the tokens carry no visible text.
func Blank(tokens []Token) bool {
	for _, t := range tokens {
		if strings.TrimSpace(t.Text) != "" {
			return false
		}
	}
	return true
}
