// Package entity defines the mention and entity records that flow through
// the annotation pipeline, their ordering and overlap rules, and the
// per-document context of disambiguation decisions.
package entity

import (
	"slices"
)

// Origin records who asserted an entity.
type Origin string

const (
	// OriginUser marks an entity present in the caller's query before
	// processing started.
	OriginUser Origin = "USER"
	// OriginAutomatic marks an entity produced by extraction.
	OriginAutomatic Origin = "AUTOMATIC"
)

// Mention is a raw span flagged by the recognizer. Offsets are half-open
// character (rune) positions into the segment text the extractor was given.
type Mention struct {
	Start      int     `json:"offsetStart"`
	End        int     `json:"offsetEnd"`
	Text       string  `json:"rawName"`
	Type       string  `json:"type,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Span returns the mention's half-open interval.
func (m Mention) Span() Span {
	return Span{Start: m.Start, End: m.End}
}

// Span is a half-open interval [Start, End).
type Span struct {
	Start int
	End   int
}

// Len returns the span width.
func (s Span) Len() int {
	return s.End - s.Start
}

// Valid reports whether the span is non-empty and non-negative.
func (s Span) Valid() bool {
	return s.Start >= 0 && s.End > s.Start
}

// Overlaps reports whether two spans share at least one position. Adjacent
// spans such as [0,5) and [5,9) do not overlap.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// Entity is the working record for one recognized or caller-supplied
// entity.
type Entity struct {
	Start               int     `json:"offsetStart"`
	End                 int     `json:"offsetEnd"`
	Text                string  `json:"rawName"`
	Type                string  `json:"type,omitempty"`
	Origin              Origin  `json:"origin"`
	NerConfidence       float64 `json:"nerConfidence"`
	DisambiguationScore float64 `json:"disambiguationScore"`
	KnowledgeBaseRef    string  `json:"knowledgeBaseRef,omitempty"`
	Segment             string  `json:"segment,omitempty"`
}

// Span returns the entity's half-open interval.
func (e Entity) Span() Span {
	return Span{Start: e.Start, End: e.End}
}

// Linked reports whether the entity carries a knowledge-base binding.
func (e Entity) Linked() bool {
	return e.KnowledgeBaseRef != ""
}

// FromMention builds an AUTOMATIC entity from a mention found in segment.
func FromMention(m Mention, segment string) Entity {
	return Entity{
		Start:         m.Start,
		End:           m.End,
		Text:          m.Text,
		Type:          m.Type,
		Origin:        OriginAutomatic,
		NerConfidence: m.Confidence,
		Segment:       segment,
	}
}

// Pin marks a caller-supplied entity as USER with full recognition
// confidence. An entity the caller already linked also gets a full
// disambiguation score.
func Pin(e Entity) Entity {
	e.Origin = OriginUser
	e.NerConfidence = 1.0
	if e.Linked() {
		e.DisambiguationScore = 1.0
	}
	return e
}

// Less orders entities by ascending start, then ascending end, then USER
// before AUTOMATIC.
func Less(a, b Entity) bool {
	return Compare(a, b) < 0
}

// Compare is the three-way form of Less.
func Compare(a, b Entity) int {
	if a.Start != b.Start {
		return a.Start - b.Start
	}
	if a.End != b.End {
		return a.End - b.End
	}
	return originRank(a.Origin) - originRank(b.Origin)
}

func originRank(o Origin) int {
	if o == OriginUser {
		return 0
	}
	return 1
}

// Sort orders entities in place; equal keys keep their relative order.
func Sort(entities []Entity) {
	slices.SortStableFunc(entities, Compare)
}

// FindOverlap returns the indexes of the first pair of overlapping entities
// in a slice sorted with Sort.
func FindOverlap(sorted []Entity) (int, int, bool) {
	reach := -1
	for i := range sorted {
		if reach >= 0 && sorted[reach].End > sorted[i].Start {
			return reach, i, true
		}
		if reach < 0 || sorted[i].End > sorted[reach].End {
			reach = i
		}
	}
	return 0, 0, false
}

// ByOrigin counts entities per origin.
func ByOrigin(entities []Entity) map[Origin]int {
	counts := map[Origin]int{OriginUser: 0, OriginAutomatic: 0}
	for _, e := range entities {
		counts[e.Origin]++
	}
	return counts
}
