package annotate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/entity"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/layout"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/tracing"
)

// SegmentOutcome summarises one visited segment for the document report.
type SegmentOutcome struct {
	Kind     layout.Kind `json:"kind"`
	Field    string      `json:"field,omitempty"`
	Tokens   int         `json:"tokens"`
	Mentions int         `json:"mentions"`
	Kept     int         `json:"kept"`
	Skipped  bool        `json:"skipped,omitempty"`
	Failed   bool        `json:"failed,omitempty"`
}

// SegmentProcessor runs extraction over one segment and merges the result
// into the working query.
type SegmentProcessor struct {
	metrics *metrics.Metrics
}

func NewSegmentProcessor(m *metrics.Metrics) *SegmentProcessor {
	return &SegmentProcessor{metrics: m}
}

// Process extracts mentions from tokens with ext and merges them into wq.
// Empty input leaves wq untouched. Extraction failures are logged and
// yield no mentions for the segment; they never fail the document.
func (p *SegmentProcessor) Process(ctx context.Context, ext engine.Extractor, kind layout.Kind, tokens []layout.Token, docCtx *entity.DocumentContext, wq *WorkingQuery) ([]entity.Entity, SegmentOutcome) {
	outcome := SegmentOutcome{Kind: kind, Tokens: len(tokens)}
	if len(tokens) == 0 || layout.Blank(tokens) {
		outcome.Skipped = true
		return wq.Entities(), outcome
	}

	ctx, span := tracing.StartChildSpan(ctx, "segment")
	defer span.End()
	span.SetAttr("kind", string(kind))
	log := logger.FromContext(ctx).With("segment", string(kind))

	wq.SetTokens(tokens)
	docCtx.EnterSegment(string(kind))
	opts := wq.Options()

	mentions, err := p.extractAll(ctx, ext, tokens, opts)
	if err != nil {
		log.Warn("segment extraction failed, continuing without its mentions", "tokens", len(tokens), "error", err)
		p.metrics.SegmentFailuresTotal.WithLabelValues(string(kind)).Inc()
		outcome.Failed = true
		mentions = nil
	}
	outcome.Mentions = len(mentions)

	candidates := toGlobal(mentions, tokens, kind, log)
	docCtx.ObserveMentions(candidates)

	before := len(wq.Entities())
	merged := Resolve(candidates, wq.Entities())
	entity.Sort(merged)
	if opts.OnlyNER {
		copyScores(merged)
	}
	outcome.Kept = len(merged) - before

	wq.SetEntities(merged)
	wq.ClearText()
	p.metrics.SegmentsProcessedTotal.WithLabelValues(string(kind)).Inc()
	span.SetAttr("mentions", outcome.Mentions)
	span.SetAttr("kept", outcome.Kept)
	log.Debug("segment processed", "mentions", outcome.Mentions, "kept", outcome.Kept)
	return merged, outcome
}

// extractAll runs the primary pass and, unless only recognition was asked
// for, the exhaustive pass.
func (p *SegmentProcessor) extractAll(ctx context.Context, ext engine.Extractor, tokens []layout.Token, opts engine.Options) ([]entity.Mention, error) {
	primary, err := guard(func() ([]entity.Mention, error) { return ext.Extract(ctx, tokens, opts) })
	if err != nil {
		return nil, fmt.Errorf("primary pass: %w", err)
	}
	if opts.OnlyNER {
		return dedupSpans(primary, nil), nil
	}
	exhaustive, err := guard(func() ([]entity.Mention, error) { return ext.ExtractExhaustive(ctx, tokens, opts) })
	if err != nil {
		return nil, fmt.Errorf("exhaustive pass: %w", err)
	}
	return dedupSpans(primary, exhaustive), nil
}

// guard turns a panicking extractor into an error.
func guard(fn func() ([]entity.Mention, error)) (mentions []entity.Mention, err error) {
	defer func() {
		if r := recover(); r != nil {
			mentions, err = nil, fmt.Errorf("extractor panic: %v", r)
		}
	}()
	return fn()
}

// dedupSpans returns primary followed by the secondary mentions whose exact
// span is not already present. Only identical spans are duplicates; an
// earlier mention wins.
func dedupSpans(primary, secondary []entity.Mention) []entity.Mention {
	seen := make(map[entity.Span]struct{}, len(primary)+len(secondary))
	out := make([]entity.Mention, 0, len(primary)+len(secondary))
	for _, list := range [][]entity.Mention{primary, secondary} {
		for _, m := range list {
			if _, dup := seen[m.Span()]; dup {
				continue
			}
			seen[m.Span()] = struct{}{}
			out = append(out, m)
		}
	}
	return out
}

// toGlobal remaps segment-local mention offsets to document offsets.
// Mentions that fall outside the segment text are dropped.
func toGlobal(mentions []entity.Mention, tokens []layout.Token, kind layout.Kind, log *slog.Logger) []entity.Entity {
	if len(mentions) == 0 {
		return nil
	}
	offsets := layout.NewOffsetMap(tokens)
	var text []rune
	out := make([]entity.Entity, 0, len(mentions))
	for _, m := range mentions {
		start, end, ok := offsets.Global(m.Start, m.End)
		if !ok {
			log.Debug("dropping mention outside segment", "start", m.Start, "end", m.End, "text", m.Text)
			continue
		}
		if m.Text == "" {
			if text == nil {
				text = []rune(layout.Text(tokens))
			}
			m.Text = string(text[m.Start:m.End])
		}
		m.Start, m.End = start, end
		out = append(out, entity.FromMention(m, string(kind)))
	}
	return out
}
