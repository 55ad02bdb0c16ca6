package annotate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/entity"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/language"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/layout"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/metrics"
)

var errExtractor = errors.New("recognizer crashed")

// fakeExtractor finds every occurrence of the configured surface forms in
// the segment text and reports character offsets.
type fakeExtractor struct {
	mu         sync.Mutex
	primary    map[string]float64
	exhaustive map[string]float64
	failOn     string
	panicOn    string
	seen       []string
	exhaustCnt int
}

func (f *fakeExtractor) Extract(_ context.Context, tokens []layout.Token, _ engine.Options) ([]entity.Mention, error) {
	text := layout.Text(tokens)
	f.mu.Lock()
	f.seen = append(f.seen, text)
	f.mu.Unlock()
	return f.find(text, f.primary)
}

func (f *fakeExtractor) ExtractExhaustive(_ context.Context, tokens []layout.Token, _ engine.Options) ([]entity.Mention, error) {
	f.mu.Lock()
	f.exhaustCnt++
	f.mu.Unlock()
	return f.find(layout.Text(tokens), f.exhaustive)
}

func (f *fakeExtractor) find(text string, surfaces map[string]float64) ([]entity.Mention, error) {
	if f.panicOn != "" && strings.Contains(text, f.panicOn) {
		panic("extractor blew up")
	}
	if f.failOn != "" && strings.Contains(text, f.failOn) {
		return nil, errExtractor
	}
	var out []entity.Mention
	for surface, conf := range surfaces {
		for from := 0; ; {
			i := strings.Index(text[from:], surface)
			if i < 0 {
				break
			}
			at := from + i
			start := utf8.RuneCountInString(text[:at])
			out = append(out, entity.Mention{Start: start, End: start + utf8.RuneCountInString(surface), Text: surface, Confidence: conf})
			from = at + len(surface)
		}
	}
	return out, nil
}

func (f *fakeExtractor) segmentsSeen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}

// fakeLinker binds surface forms to fixed identifiers.
type fakeLinker struct {
	mu    sync.Mutex
	refs  map[string]string
	err   error
	calls int
	// rewrite, when set, replaces the default behaviour.
	rewrite func([]entity.Entity) []entity.Entity
}

func (f *fakeLinker) Link(_ context.Context, entities []entity.Entity, _ *entity.DocumentContext, _ engine.Options) ([]entity.Entity, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.rewrite != nil {
		return f.rewrite(entities), nil
	}
	for i := range entities {
		if ref, ok := f.refs[entities[i].Text]; ok && entities[i].KnowledgeBaseRef == "" {
			entities[i].KnowledgeBaseRef = ref
		}
		entities[i].DisambiguationScore = 0.75
	}
	return entities, nil
}

func (f *fakeLinker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSegmenter struct {
	doc   *layout.Document
	err   error
	panic bool
}

func (f *fakeSegmenter) Segment(context.Context, []byte) (*layout.Document, error) {
	if f.panic {
		panic("layout parser crashed")
	}
	return f.doc, f.err
}

type docPart struct {
	kind  layout.Kind
	field layout.HeaderField
	text  string
}

// buildDocument lays parts out one after another in a single document
// text, so part offsets are document-global.
func buildDocument(parts ...docPart) *layout.Document {
	doc := &layout.Document{}
	base := 0
	for _, p := range parts {
		first := len(doc.Tokens)
		for _, tok := range layout.Tokenize(p.text) {
			tok.Offset += base
			doc.Tokens = append(doc.Tokens, tok)
		}
		base += utf8.RuneCountInString(p.text)
		if p.field != "" {
			doc.Header = append(doc.Header, layout.HeaderPiece{Field: p.field, Start: first, End: len(doc.Tokens)})
			continue
		}
		doc.Pieces = append(doc.Pieces, layout.Piece{Kind: p.kind, Start: first, End: len(doc.Tokens)})
	}
	return doc
}

func testMetrics() *metrics.Metrics {
	return metrics.NewWithRegistry(prometheus.NewRegistry())
}

type harness struct {
	driver    *Driver
	pool      *engine.Pool
	extractor *fakeExtractor
	linker    *fakeLinker
	segmenter *fakeSegmenter
	metrics   *metrics.Metrics
}

func newHarness(t *testing.T, poolSize int) *harness {
	t.Helper()
	h := &harness{
		extractor: &fakeExtractor{},
		linker:    &fakeLinker{},
		segmenter: &fakeSegmenter{},
		metrics:   testMetrics(),
	}
	engines := make([]*engine.Engine, poolSize)
	for i := range engines {
		engines[i] = &engine.Engine{ID: i, Segmenter: h.segmenter, Extractor: h.extractor, Linker: h.linker}
	}
	pool, err := engine.NewPool(engines, 30*time.Millisecond, h.metrics)
	require.NoError(t, err)
	h.pool = pool
	h.driver = NewDriver(pool, language.NewIdentifier([]string{"en", "de", "fr"}, 0), Settings{MinTextLength: 6}, h.metrics)
	return h
}

func spans(entities []entity.Entity) [][2]int {
	out := make([][2]int, 0, len(entities))
	for _, e := range entities {
		out = append(out, [2]int{e.Start, e.End})
	}
	return out
}
