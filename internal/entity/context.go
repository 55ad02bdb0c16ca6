package entity

import (
	"maps"
	"strings"
)

// DocumentContext accumulates what earlier parts of a document decided so
// that later work can stay consistent. It belongs to exactly one document
// and is not safe for concurrent use.
type DocumentContext struct {
	decisions map[string]string
	mentions  map[string]int
	segments  []string
}

// NewDocumentContext returns an empty context.
func NewDocumentContext() *DocumentContext {
	return &DocumentContext{
		decisions: make(map[string]string),
		mentions:  make(map[string]int),
	}
}

// NormalizeSurface folds case and collapses whitespace so that "New  York"
// and "new york" share a decision.
func NormalizeSurface(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// EnterSegment records that a structural part has been visited.
func (c *DocumentContext) EnterSegment(kind string) {
	c.segments = append(c.segments, kind)
}

// Segments returns the visited parts in visiting order.
func (c *DocumentContext) Segments() []string {
	return append([]string(nil), c.segments...)
}

// ObserveMentions counts surface forms of the given entities.
func (c *DocumentContext) ObserveMentions(entities []Entity) {
	for _, e := range entities {
		if key := NormalizeSurface(e.Text); key != "" {
			c.mentions[key]++
		}
	}
}

// Record stores a decision for a surface form. The first decision for a
// surface form wins; Record reports whether this call stored it.
func (c *DocumentContext) Record(surface, ref string) bool {
	key := NormalizeSurface(surface)
	if key == "" || ref == "" {
		return false
	}
	if _, ok := c.decisions[key]; ok {
		return false
	}
	c.decisions[key] = ref
	return true
}

// RecordLinked records the binding of every linked entity and returns how
// many new decisions were stored.
func (c *DocumentContext) RecordLinked(entities []Entity) int {
	n := 0
	for _, e := range entities {
		if e.Linked() && c.Record(e.Text, e.KnowledgeBaseRef) {
			n++
		}
	}
	return n
}

// Lookup returns the decision recorded for a surface form.
func (c *DocumentContext) Lookup(surface string) (string, bool) {
	ref, ok := c.decisions[NormalizeSurface(surface)]
	return ref, ok
}

// Snapshot returns a copy of the decisions keyed by normalised surface form.
func (c *DocumentContext) Snapshot() map[string]string {
	return maps.Clone(c.decisions)
}

// MentionSnapshot returns a copy of the surface form counts.
func (c *DocumentContext) MentionSnapshot() map[string]int {
	return maps.Clone(c.mentions)
}
