// Package tracing records a per-document span tree (document, segments,
// engine calls) and logs it through slog when the trace is sampled.
package tracing

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"
)

type spanKey struct{}

// Span represents a timed operation within a trace.
type Span struct {
	Name      string
	TraceID   string
	StartTime time.Time
	Duration  time.Duration
	Children  []*Span
	Attrs     map[string]any

	mu    sync.Mutex
	ended bool
}

// Sampler decides deterministically per trace ID whether a trace is logged.
type Sampler struct {
	enabled bool
	rate    float64
}

// NewSampler returns a sampler logging roughly rate of all traces. A
// disabled sampler logs nothing.
func NewSampler(enabled bool, rate float64) Sampler {
	return Sampler{enabled: enabled, rate: min(max(rate, 0), 1)}
}

// Sampled reports whether the trace should be logged.
func (s Sampler) Sampled(traceID string) bool {
	if !s.enabled || s.rate == 0 {
		return false
	}
	if s.rate == 1 {
		return true
	}
	h := fnv.New32a()
	h.Write([]byte(traceID))
	return float64(h.Sum32())/float64(^uint32(0)) < s.rate
}

// StartSpan creates a root span and stores it in the returned context.
func StartSpan(ctx context.Context, name string, traceID string) (context.Context, *Span) {
	span := newSpan(name, traceID)
	return context.WithValue(ctx, spanKey{}, span), span
}

// StartChildSpan creates a child of the span in ctx. Without a parent the
// child is an orphan root that is never logged.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent := SpanFromContext(ctx)
	child := newSpan(name, "")
	if parent != nil {
		child.TraceID = parent.TraceID
		parent.mu.Lock()
		parent.Children = append(parent.Children, child)
		parent.mu.Unlock()
	}
	return context.WithValue(ctx, spanKey{}, child), child
}

func newSpan(name, traceID string) *Span {
	return &Span{
		Name:      name,
		TraceID:   traceID,
		StartTime: time.Now(),
		Attrs:     make(map[string]any),
	}
}

// End records the span's duration. Only the first call has an effect.
func (s *Span) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.Duration = time.Since(s.StartTime)
}

// SetAttr attaches a key-value attribute to the span.
func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.Attrs[key] = value
	s.mu.Unlock()
}

// SpanFromContext extracts the current Span from ctx, or nil if none.
func SpanFromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(spanKey{}).(*Span)
	return span
}

// Count returns the number of spans in the tree rooted at s.
func (s *Span) Count() int {
	s.mu.Lock()
	children := append([]*Span(nil), s.Children...)
	s.mu.Unlock()
	n := 1
	for _, c := range children {
		n += c.Count()
	}
	return n
}

// Log writes the span tree to logger for sampled traces.
func (s *Span) Log(logger *slog.Logger, sampler Sampler) {
	if !sampler.Sampled(s.TraceID) {
		return
	}
	s.logRecursive(logger, 0)
}

func (s *Span) logRecursive(logger *slog.Logger, depth int) {
	s.mu.Lock()
	attrs := []any{
		"trace_id", s.TraceID,
		"span", s.Name,
		"duration_ms", s.Duration.Milliseconds(),
		"depth", depth,
	}
	for k, v := range s.Attrs {
		attrs = append(attrs, k, v)
	}
	children := append([]*Span(nil), s.Children...)
	s.mu.Unlock()

	logger.Info("span", attrs...)
	for _, child := range children {
		child.logRecursive(logger, depth+1)
	}
}
