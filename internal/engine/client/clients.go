package client

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"

	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/entity"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/layout"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/resilience"
)

// SegmenterClient calls the layout service.
type SegmenterClient struct {
	up upstream
}

// NewSegmenterClient creates a client for the layout service.
func NewSegmenterClient(s Settings, breaker *resilience.CircuitBreaker) *SegmenterClient {
	return &SegmenterClient{up: newUpstream("segmenter", s, breaker)}
}

// Segment uploads the PDF as multipart field "input" to /segment.
func (c *SegmenterClient) Segment(ctx context.Context, pdf []byte) (*layout.Document, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("input", "document.pdf")
	if err != nil {
		return nil, fmt.Errorf("building segmenter upload: %w", err)
	}
	if _, err := part.Write(pdf); err != nil {
		return nil, fmt.Errorf("building segmenter upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("building segmenter upload: %w", err)
	}

	var doc layout.Document
	if err := c.up.post(ctx, "/segment", mw.FormDataContentType(), body.Bytes(), &doc); err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("segmenter returned malformed document: %w", err)
	}
	return &doc, nil
}

type extractRequest struct {
	Tokens     []layout.Token `json:"tokens"`
	Language   string         `json:"language"`
	Exhaustive bool           `json:"exhaustive"`
}

type extractResponse struct {
	Mentions []entity.Mention `json:"mentions"`
}

// ExtractorClient calls the recognition service.
type ExtractorClient struct {
	up upstream
}

// NewExtractorClient creates a client for the recognition service.
func NewExtractorClient(s Settings, breaker *resilience.CircuitBreaker) *ExtractorClient {
	return &ExtractorClient{up: newUpstream("extractor", s, breaker)}
}

func (c *ExtractorClient) Extract(ctx context.Context, tokens []layout.Token, opts engine.Options) ([]entity.Mention, error) {
	return c.extract(ctx, tokens, opts, false)
}

func (c *ExtractorClient) ExtractExhaustive(ctx context.Context, tokens []layout.Token, opts engine.Options) ([]entity.Mention, error) {
	return c.extract(ctx, tokens, opts, true)
}

func (c *ExtractorClient) extract(ctx context.Context, tokens []layout.Token, opts engine.Options, exhaustive bool) ([]entity.Mention, error) {
	var resp extractResponse
	req := extractRequest{Tokens: tokens, Language: opts.Language, Exhaustive: exhaustive}
	if err := c.up.postJSON(ctx, "/extract", req, &resp); err != nil {
		return nil, err
	}
	return resp.Mentions, nil
}

type linkContext struct {
	Decisions map[string]string `json:"decisions"`
	Mentions  map[string]int    `json:"mentions"`
	Segments  []string          `json:"segments"`
}

type linkRequest struct {
	Entities []entity.Entity `json:"entities"`
	Language string          `json:"language"`
	Context  linkContext     `json:"context"`
}

type linkResponse struct {
	Entities []entity.Entity `json:"entities"`
}

// LinkerClient calls the knowledge-base linking service.
type LinkerClient struct {
	up upstream
}

// NewLinkerClient creates a client for the linking service.
func NewLinkerClient(s Settings, breaker *resilience.CircuitBreaker) *LinkerClient {
	return &LinkerClient{up: newUpstream("linker", s, breaker)}
}

// Link sends the entities and the document context to /link.
func (c *LinkerClient) Link(ctx context.Context, entities []entity.Entity, docCtx *entity.DocumentContext, opts engine.Options) ([]entity.Entity, error) {
	req := linkRequest{Entities: entities, Language: opts.Language}
	if docCtx != nil {
		req.Context = linkContext{
			Decisions: docCtx.Snapshot(),
			Mentions:  docCtx.MentionSnapshot(),
			Segments:  docCtx.Segments(),
		}
	}
	var resp linkResponse
	if err := c.up.postJSON(ctx, "/link", req, &resp); err != nil {
		return nil, err
	}
	return resp.Entities, nil
}

// NewEngines builds cfg.PoolSize engines. Engines share one circuit
// breaker per service so a failing service trips for the whole pool.
func NewEngines(cfg config.EngineConfig, m *metrics.Metrics) []*engine.Engine {
	settings := func(url string) Settings {
		return Settings{
			BaseURL:         url,
			Timeout:         cfg.RequestTimeout,
			MaxRetries:      cfg.MaxRetries,
			BreakerFailures: cfg.BreakerFailures,
			BreakerReset:    cfg.BreakerReset,
		}
	}
	seg, ext, lnk := settings(cfg.SegmenterURL), settings(cfg.ExtractorURL), settings(cfg.LinkerURL)
	segBreaker := NewBreaker("segmenter", seg, m)
	extBreaker := NewBreaker("extractor", ext, m)
	lnkBreaker := NewBreaker("linker", lnk, m)

	engines := make([]*engine.Engine, cfg.PoolSize)
	for i := range engines {
		engines[i] = &engine.Engine{
			ID:        i,
			Segmenter: NewSegmenterClient(seg, segBreaker),
			Extractor: NewExtractorClient(ext, extBreaker),
			Linker:    NewLinkerClient(lnk, lnkBreaker),
		}
	}
	return engines
}
