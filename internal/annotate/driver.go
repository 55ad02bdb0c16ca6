package annotate

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/entity"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/language"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/layout"
	apperrors "github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/tracing"
)

// Input kinds.
const (
	KindPDF  = "pdf"
	KindText = "text"
)

var headerFields = []layout.HeaderField{layout.FieldTitle, layout.FieldAbstract, layout.FieldKeywords}

// bodyOrder is the visiting order after the header. References are never
// visited.
var bodyOrder = []layout.Kind{layout.KindBody, layout.KindAcknowledgement, layout.KindAnnex, layout.KindFootnote}

// Report is the per-document diagnostic record. It is logged and published
// as an analytics event, never returned in the payload.
type Report struct {
	DocumentID        string           `json:"documentId"`
	Kind              string           `json:"kind"`
	Language          string           `json:"language"`
	OnlyNER           bool             `json:"onlyNER"`
	Segments          []SegmentOutcome `json:"segments"`
	SegmentsProcessed int              `json:"segmentsProcessed"`
	SegmentsFailed    int              `json:"segmentsFailed"`
	Degraded          bool             `json:"degraded"`
	DroppedPinned     int              `json:"droppedPinned"`
	UserEntities      int              `json:"userEntities"`
	AutoEntities      int              `json:"autoEntities"`
	Duration          time.Duration    `json:"duration"`
}

// Settings configure request-level checks of the driver.
type Settings struct {
	MinTextLength int
	Sampler       tracing.Sampler
}

// Driver runs whole documents through the pipeline. A Driver is safe for
// concurrent use; all per-document state lives in the call.
type Driver struct {
	pool       *engine.Pool
	identifier *language.Identifier
	segments   *SegmentProcessor
	linking    *Disambiguator
	settings   Settings
	metrics    *metrics.Metrics
}

func NewDriver(pool *engine.Pool, identifier *language.Identifier, settings Settings, m *metrics.Metrics) *Driver {
	if settings.MinTextLength <= 0 {
		settings.MinTextLength = 6
	}
	return &Driver{
		pool:       pool,
		identifier: identifier,
		segments:   NewSegmentProcessor(m),
		linking:    NewDisambiguator(m),
		settings:   settings,
		metrics:    m,
	}
}

// ProcessPDF segments pdf and annotates it. q carries the options, the
// optional language hint and the caller's pinned entities.
func (d *Driver) ProcessPDF(ctx context.Context, q *Query, pdf []byte) (*Query, *Report, error) {
	if len(pdf) == 0 {
		return nil, nil, apperrors.InvalidInput("the uploaded PDF is empty")
	}
	return d.process(ctx, KindPDF, q, func(ctx context.Context, e *engine.Engine, run *documentRun) error {
		doc, err := e.Segmenter.Segment(ctx, pdf)
		if err != nil {
			return segmentationError(err)
		}
		for _, f := range headerFields {
			run.visit(ctx, e, layout.KindHeader, string(f), doc.HeaderTokens(f))
		}
		for _, k := range bodyOrder {
			run.visit(ctx, e, k, "", doc.TokenizeParts(doc.Part(k)))
		}
		return nil
	})
}

// ProcessText annotates q.Text as a single BODY segment.
func (d *Driver) ProcessText(ctx context.Context, q *Query) (*Query, *Report, error) {
	return d.process(ctx, KindText, q, func(ctx context.Context, e *engine.Engine, run *documentRun) error {
		run.wq.SetText(q.Text)
		run.visit(ctx, e, layout.KindBody, "", layout.Tokenize(q.Text))
		return nil
	})
}

type documentRun struct {
	driver *Driver
	wq     *WorkingQuery
	docCtx *entity.DocumentContext
	report *Report
}

func (r *documentRun) visit(ctx context.Context, e *engine.Engine, kind layout.Kind, field string, tokens []layout.Token) {
	_, outcome := r.driver.segments.Process(ctx, e.Extractor, kind, tokens, r.docCtx, r.wq)
	outcome.Field = field
	r.report.Segments = append(r.report.Segments, outcome)
	if !outcome.Skipped {
		r.report.SegmentsProcessed++
	}
	if outcome.Failed {
		r.report.SegmentsFailed++
	}
}

func (d *Driver) process(ctx context.Context, kind string, q *Query, walk func(context.Context, *engine.Engine, *documentRun) error) (out *Query, report *Report, err error) {
	start := time.Now()
	report = &Report{DocumentID: uuid.NewString(), Kind: kind, OnlyNER: q.OnlyNER}
	ctx = logger.WithDocumentID(ctx, report.DocumentID)
	log := logger.FromContext(ctx).With("kind", kind)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing document", "panic", r, "stack", string(debug.Stack()))
			out = nil
			err = apperrors.New(apperrors.ErrInternal, http.StatusInternalServerError, "unexpected failure while processing the document")
		}
		report.Duration = time.Since(start)
		d.observe(kind, report, err)
	}()

	lang, err := d.resolveLanguage(q)
	if err != nil {
		log.Info("document rejected", "error", err)
		return nil, report, err
	}
	report.Language = lang

	pinned, dropped := pinEntities(ctx, q.Entities)
	report.DroppedPinned = dropped

	run := &documentRun{
		driver: d,
		wq:     NewWorkingQuery(engine.Options{Language: lang, OnlyNER: q.OnlyNER}, pinned),
		docCtx: entity.NewDocumentContext(),
		report: report,
	}
	run.docCtx.RecordLinked(pinned)

	ctx, span := tracing.StartSpan(ctx, "document", report.DocumentID)
	span.SetAttr("kind", kind)
	defer func() {
		span.End()
		span.Log(log, d.settings.Sampler)
	}()

	err = d.pool.Do(ctx, func(e *engine.Engine) error {
		if err := walk(ctx, e, run); err != nil {
			return err
		}
		_, report.Degraded = d.linking.Disambiguate(ctx, e.Linker, run.wq, run.docCtx)
		return nil
	})
	if err != nil {
		log.Warn("document failed", "error", err, "status", apperrors.HTTPStatusCode(err))
		return nil, report, err
	}

	final := slices.Clone(run.wq.Entities())
	entity.Sort(final)
	if i, j, found := entity.FindOverlap(final); found {
		log.Error("overlapping entities in final collection", "first", final[i], "second", final[j])
	}
	run.wq.ClearBuffers()

	counts := entity.ByOrigin(final)
	report.UserEntities = counts[entity.OriginUser]
	report.AutoEntities = counts[entity.OriginAutomatic]

	out = &Query{
		Language: &Language{Lang: lang},
		Entities: final,
		OnlyNER:  q.OnlyNER,
		Runtime:  time.Since(start).Milliseconds(),
	}
	log.Info("document annotated",
		"language", lang,
		"entities", len(final),
		"segments", report.SegmentsProcessed,
		"segments_failed", report.SegmentsFailed,
		"degraded", report.Degraded,
		"runtime_ms", out.Runtime,
	)
	return out, report, nil
}

// resolveLanguage checks the query text has the minimum length, applies
// the language hint or identifies the language from the text, then checks
// it is supported. PDF requests are held to the same text rule.
func (d *Driver) resolveLanguage(q *Query) (string, error) {
	text := strings.TrimSpace(q.Text)
	if utf8.RuneCountInString(text) < d.settings.MinTextLength {
		return "", apperrors.InvalidInput("query text must be at least %d characters", d.settings.MinTextLength)
	}

	lang := strings.ToLower(strings.TrimSpace(q.Lang()))
	if lang == "" {
		detected, ok := d.identifier.Identify(text)
		if !ok {
			return "", apperrors.Newf(apperrors.ErrUnsupportedLanguage, http.StatusNotAcceptable, "the language of the text could not be identified")
		}
		lang = detected
	}
	if !d.identifier.Supported(lang) {
		return "", apperrors.Newf(apperrors.ErrUnsupportedLanguage, http.StatusNotAcceptable,
			"language %q is not supported (supported: %s)", lang, strings.Join(d.identifier.SupportedLanguages(), ", "))
	}
	return lang, nil
}

// segmentationError classifies a layout failure. Nothing has been
// extracted yet, so the whole document fails.
func segmentationError(err error) error {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return apperrors.Unavailable("layout service is unavailable")
	case errors.Is(err, engine.ErrRejected):
		return apperrors.InvalidInput("the PDF could not be segmented: %v", err)
	default:
		return fmt.Errorf("%w: segmenting document: %v", apperrors.ErrInternal, err)
	}
}

// pinEntities normalises the caller's entities: each is pinned, invalid
// spans are dropped, and overlapping caller entities are resolved in
// favour of linked ones, then longer ones, then earlier ones.
func pinEntities(ctx context.Context, entities []entity.Entity) ([]entity.Entity, int) {
	if len(entities) == 0 {
		return nil, 0
	}
	log := logger.FromContext(ctx)

	ranked := make([]entity.Entity, 0, len(entities))
	dropped := 0
	for _, e := range entities {
		if !e.Span().Valid() {
			dropped++
			log.Warn("dropping caller entity with invalid span", "start", e.Start, "end", e.End, "text", e.Text)
			continue
		}
		ranked = append(ranked, entity.Pin(e))
	}
	slices.SortStableFunc(ranked, func(a, b entity.Entity) int {
		return cmp.Or(
			boolRank(b.Linked())-boolRank(a.Linked()),
			cmp.Compare(b.Span().Len(), a.Span().Len()),
			cmp.Compare(a.Start, b.Start),
		)
	})

	kept := make([]entity.Entity, 0, len(ranked))
	for _, e := range ranked {
		if overlapsAny(e, kept) {
			dropped++
			log.Warn("dropping caller entity overlapping another caller entity", "start", e.Start, "end", e.End, "text", e.Text)
			continue
		}
		kept = append(kept, e)
	}
	entity.Sort(kept)
	return kept, dropped
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (d *Driver) observe(kind string, report *Report, err error) {
	outcome := "ok"
	switch {
	case err == nil && report.Degraded:
		outcome = "degraded"
	case err == nil:
	case errors.Is(err, apperrors.ErrInvalidInput), errors.Is(err, apperrors.ErrUnsupportedLanguage):
		outcome = "rejected"
	case errors.Is(err, apperrors.ErrEngineUnavailable):
		outcome = "unavailable"
	default:
		outcome = "error"
	}
	d.metrics.DocumentsTotal.WithLabelValues(kind, outcome).Inc()
	if err != nil {
		return
	}
	d.metrics.DocumentLatency.WithLabelValues(kind).Observe(report.Duration.Seconds())
	d.metrics.EntitiesPerDocument.WithLabelValues(string(entity.OriginUser)).Observe(float64(report.UserEntities))
	d.metrics.EntitiesPerDocument.WithLabelValues(string(entity.OriginAutomatic)).Observe(float64(report.AutoEntities))
}
