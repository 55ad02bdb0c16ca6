// Package engine declares the external services the pipeline drives
// (layout segmentation, mention extraction, knowledge-base linking) and
// the bounded pool of engines through which every document acquires them.
package engine

import (
	"context"
	"errors"

	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/entity"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/layout"
)

// ErrRejected marks a failure caused by the input rather than the service,
// such as a PDF the layout service cannot parse.
var ErrRejected = errors.New("input rejected by engine")

// Options are the per-document processing options passed to every call.
type Options struct {
	Language string `json:"language"`
	OnlyNER  bool   `json:"onlyNER"`
}

// Segmenter turns a PDF into a segmented token stream.
type Segmenter interface {
	Segment(ctx context.Context, pdf []byte) (*layout.Document, error)
}

// Extractor finds mentions in a token sequence. Mention offsets are
// relative to layout.Text(tokens).
type Extractor interface {
	Extract(ctx context.Context, tokens []layout.Token, opts Options) ([]entity.Mention, error)
	// ExtractExhaustive is the higher-recall variant.
	ExtractExhaustive(ctx context.Context, tokens []layout.Token, opts Options) ([]entity.Mention, error)
}

// Linker binds entities to knowledge-base identifiers, using the document
// context to stay consistent with earlier decisions.
type Linker interface {
	Link(ctx context.Context, entities []entity.Entity, docCtx *entity.DocumentContext, opts Options) ([]entity.Entity, error)
}

// Engine bundles one connection to each external service.
type Engine struct {
	ID        int
	Segmenter Segmenter
	Extractor Extractor
	Linker    Linker
}
