// Package annotate implements the segment-driven entity pipeline: it walks
// a document's structural parts, extracts mentions from each, reconciles
// them with caller-pinned entities, links the merged set once per document
// and returns one ordered, overlap-free entity collection.
package annotate

import (
	"slices"

	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/entity"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/layout"
)

// Language is the query's language hint or the identified language.
type Language struct {
	Lang string  `json:"lang"`
	Conf float64 `json:"conf,omitempty"`
}

// Query is the caller-facing request and response document.
type Query struct {
	Text     string          `json:"text,omitempty"`
	Language *Language       `json:"language,omitempty"`
	Entities []entity.Entity `json:"entities"`
	OnlyNER  bool            `json:"onlyNER,omitempty"`
	Tokens   []layout.Token  `json:"tokens,omitempty"`
	Runtime  int64           `json:"runtime"`
}

// Lang returns the language code or "".
func (q *Query) Lang() string {
	if q.Language == nil {
		return ""
	}
	return q.Language.Lang
}

// WorkingQuery is the driver-owned state of one document under
// processing. It holds either raw text or a token stream, never both.
type WorkingQuery struct {
	text     string
	tokens   []layout.Token
	entities []entity.Entity
	opts     engine.Options
}

// NewWorkingQuery starts a working query with the given pinned entities.
func NewWorkingQuery(opts engine.Options, pinned []entity.Entity) *WorkingQuery {
	return &WorkingQuery{opts: opts, entities: slices.Clone(pinned)}
}

// Options returns the processing options.
func (wq *WorkingQuery) Options() engine.Options {
	return wq.opts
}

// SetText holds raw text and drops any token stream.
func (wq *WorkingQuery) SetText(text string) {
	wq.text = text
	wq.tokens = nil
}

// SetTokens holds a token stream and drops any raw text.
func (wq *WorkingQuery) SetTokens(tokens []layout.Token) {
	wq.tokens = tokens
	wq.text = ""
}

// ClearText drops the raw text.
func (wq *WorkingQuery) ClearText() {
	wq.text = ""
}

// ClearBuffers drops both text and tokens.
func (wq *WorkingQuery) ClearBuffers() {
	wq.text = ""
	wq.tokens = nil
}

func (wq *WorkingQuery) Text() string           { return wq.text }
func (wq *WorkingQuery) Tokens() []layout.Token { return wq.tokens }

// Entities returns the accumulated collection. Callers must not modify it.
func (wq *WorkingQuery) Entities() []entity.Entity {
	return wq.entities
}

// SetEntities replaces the accumulated collection.
func (wq *WorkingQuery) SetEntities(entities []entity.Entity) {
	wq.entities = entities
}

// copyScores sets every entity's disambiguation score to its recognition
// confidence, the scoring used when no linking stage runs.
func copyScores(entities []entity.Entity) {
	for i := range entities {
		entities[i].DisambiguationScore = entities[i].NerConfidence
	}
}
