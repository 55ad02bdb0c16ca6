package annotate

import (
	"context"
	"fmt"
	"slices"

	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/entity"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/tracing"
)

// Disambiguator links the whole document's entity collection once, after
// every segment has been processed.
type Disambiguator struct {
	metrics *metrics.Metrics
}

func NewDisambiguator(m *metrics.Metrics) *Disambiguator {
	return &Disambiguator{metrics: m}
}

// Disambiguate replaces wq's collection with the linked one and reports
// whether the document was degraded to recognition-only scores. In only-NER
// mode the linker is never called.
func (d *Disambiguator) Disambiguate(ctx context.Context, linker engine.Linker, wq *WorkingQuery, docCtx *entity.DocumentContext) ([]entity.Entity, bool) {
	entities := slices.Clone(wq.Entities())
	if wq.Options().OnlyNER || len(entities) == 0 {
		copyScores(entities)
		wq.SetEntities(entities)
		return entities, false
	}

	ctx, span := tracing.StartChildSpan(ctx, "disambiguate")
	defer span.End()
	span.SetAttr("entities", len(entities))

	linked, err := safeLink(ctx, linker, entities, docCtx, wq.Options())
	if err != nil {
		logger.FromContext(ctx).Warn("disambiguation failed, returning recognition scores",
			"entities", len(entities),
			"error", err,
		)
		d.metrics.DisambiguationDegradations.Inc()
		span.SetAttr("degraded", true)
		copyScores(entities)
		wq.SetEntities(entities)
		return entities, true
	}

	result := reconcileLinked(linked, entities, docCtx)
	docCtx.RecordLinked(result)
	wq.SetEntities(result)
	return result, false
}

func safeLink(ctx context.Context, linker engine.Linker, entities []entity.Entity, docCtx *entity.DocumentContext, opts engine.Options) (linked []entity.Entity, err error) {
	defer func() {
		if r := recover(); r != nil {
			linked, err = nil, fmt.Errorf("linker panic: %v", r)
		}
	}()
	// The linker gets its own copy so it cannot alias the fallback slice.
	return linker.Link(ctx, slices.Clone(entities), docCtx, opts)
}

// reconcileLinked installs the linker's answer while guaranteeing that every
// caller entity survives with its span and caller binding, and that the
// collection stays overlap-free. Recognized entities the linker left
// unbound take the decision already recorded for their surface form.
func reconcileLinked(linked, before []entity.Entity, docCtx *entity.DocumentContext) []entity.Entity {
	users := make(map[entity.Span]entity.Entity)
	recognized := make(map[entity.Span]entity.Entity)
	for _, e := range before {
		if e.Origin == entity.OriginUser {
			users[e.Span()] = e
		} else {
			recognized[e.Span()] = e
		}
	}

	var pinned, others []entity.Entity
	restored := make(map[entity.Span]bool, len(users))
	for _, e := range linked {
		orig, isUser := users[e.Span()]
		if isUser && !restored[e.Span()] {
			restored[e.Span()] = true
			e.Origin = entity.OriginUser
			e.Text = orig.Text
			e.NerConfidence = orig.NerConfidence
			if orig.Linked() {
				e.KnowledgeBaseRef = orig.KnowledgeBaseRef
			}
			pinned = append(pinned, e)
			continue
		}
		if isUser {
			continue
		}
		e.Origin = entity.OriginAutomatic
		if !e.Linked() {
			if ref, ok := docCtx.Lookup(e.Text); ok {
				e.KnowledgeBaseRef = ref
			}
		}
		if prev, ok := recognized[e.Span()]; ok {
			if e.NerConfidence == 0 {
				e.NerConfidence = prev.NerConfidence
			}
			if e.Segment == "" {
				e.Segment = prev.Segment
			}
		}
		others = append(others, e)
	}
	for span, u := range users {
		if !restored[span] {
			pinned = append(pinned, u)
		}
	}

	out := Resolve(others, pinned)
	entity.Sort(out)
	return out
}
