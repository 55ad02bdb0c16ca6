// Package language identifies the language of query text and checks it
// against the set the engines support.
package language

import (
	"slices"
	"strings"

	"github.com/abadojack/whatlanggo"
)

// Identifier detects ISO 639-1 language codes.
type Identifier struct {
	supported []string
	minConf   float64
}

// NewIdentifier returns an identifier accepting the given languages.
// Detections below minConfidence are treated as unknown.
func NewIdentifier(supported []string, minConfidence float64) *Identifier {
	norm := make([]string, 0, len(supported))
	for _, l := range supported {
		norm = append(norm, strings.ToLower(strings.TrimSpace(l)))
	}
	return &Identifier{supported: norm, minConf: minConfidence}
}

// Identify returns the ISO 639-1 code of text, or false when detection is
// unreliable.
func (id *Identifier) Identify(text string) (string, bool) {
	info := whatlanggo.Detect(text)
	if info.Confidence < id.minConf {
		return "", false
	}
	code := info.Lang.Iso6391()
	if code == "" {
		return "", false
	}
	return code, true
}

// Supported reports whether lang is accepted.
func (id *Identifier) Supported(lang string) bool {
	return slices.Contains(id.supported, strings.ToLower(lang))
}

// SupportedLanguages returns the accepted codes.
func (id *Identifier) SupportedLanguages() []string {
	return slices.Clone(id.supported)
}
