package annotate

import (
	"cmp"
	"slices"

	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/entity"
)

// Resolve merges candidate entities with pinned ones. Pinned entities are
// kept unconditionally; a candidate survives only if it overlaps no pinned
// entity and no stronger candidate. Spans are half-open, so touching spans
// do not conflict. The result is unsorted but its composition does not
// depend on the order of either input.
func Resolve(candidates, pinned []entity.Entity) []entity.Entity {
	kept := pruneCandidates(candidates)

	pins := slices.Clone(pinned)
	entity.Sort(pins)

	out := make([]entity.Entity, 0, len(kept)+len(pins))
	cursor := 0
	for _, c := range kept {
		if keepAgainstPinned(c, pins, &cursor) {
			out = append(out, c)
		}
	}
	return append(out, pins...)
}

// keepAgainstPinned advances cursor past pinned entities that end before c
// starts. Candidates arrive in start order, so the cursor never moves back.
func keepAgainstPinned(c entity.Entity, pins []entity.Entity, cursor *int) bool {
	for *cursor < len(pins) {
		p := pins[*cursor]
		switch {
		case c.End <= p.Start:
			return true
		case c.Start >= p.End:
			*cursor++
		default:
			return false
		}
	}
	return true
}

// pruneCandidates drops invalid spans and resolves overlaps among
// candidates greedily by strength, returning survivors in entity order.
func pruneCandidates(candidates []entity.Entity) []entity.Entity {
	ranked := make([]entity.Entity, 0, len(candidates))
	for _, c := range candidates {
		if c.Span().Valid() {
			ranked = append(ranked, c)
		}
	}
	slices.SortFunc(ranked, byStrength)

	kept := make([]entity.Entity, 0, len(ranked))
	for _, c := range ranked {
		if !overlapsAny(c, kept) {
			kept = append(kept, c)
		}
	}
	entity.Sort(kept)
	return kept
}

// byStrength ranks higher confidence first, then longer spans, then earlier
// spans; the remaining keys only make the order total.
func byStrength(a, b entity.Entity) int {
	return cmp.Or(
		cmp.Compare(b.NerConfidence, a.NerConfidence),
		cmp.Compare(b.Span().Len(), a.Span().Len()),
		cmp.Compare(a.Start, b.Start),
		cmp.Compare(a.End, b.End),
		cmp.Compare(a.Text, b.Text),
		cmp.Compare(a.Type, b.Type),
		cmp.Compare(a.Segment, b.Segment),
	)
}

func overlapsAny(e entity.Entity, others []entity.Entity) bool {
	for _, o := range others {
		if e.Span().Overlaps(o.Span()) {
			return true
		}
	}
	return false
}
