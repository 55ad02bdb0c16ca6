// Package validator checks decoded annotation queries before they reach the
// pipeline and reports every offending field at once.
package validator

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/annotate"
	apperrors "github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/errors"
)

const (
	maxTextLength = 1 << 20
	maxEntities   = 10000
)

var langPattern = regexp.MustCompile(`^[A-Za-z]{2,3}$`)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// Unwrap classifies every validation failure as invalid input.
func (e *ValidationError) Unwrap() error {
	return apperrors.ErrInvalidInput
}

// ValidateQuery checks field shapes for a request of the given kind. Length
// and language rules that depend on configuration are enforced by the
// driver. Entity offsets of text requests are bounded by the text length in
// characters; a PDF's text is only known after segmentation.
func ValidateQuery(kind string, q *annotate.Query) error {
	errs := make(map[string]string)

	if len(q.Text) > maxTextLength {
		errs["text"] = fmt.Sprintf("text must be at most %d bytes", maxTextLength)
	}
	if lang := strings.TrimSpace(q.Lang()); lang != "" && !langPattern.MatchString(lang) {
		errs["language.lang"] = "language must be an ISO 639 code"
	}
	if len(q.Tokens) > 0 {
		errs["tokens"] = "tokens are produced by the service and must not be sent"
	}
	if len(q.Entities) > maxEntities {
		errs["entities"] = fmt.Sprintf("at most %d entities may be supplied", maxEntities)
	}
	for i, e := range q.Entities {
		field := fmt.Sprintf("entities[%d]", i)
		switch {
		case e.Start < 0:
			errs[field] = "offsetStart must not be negative"
		case e.End <= e.Start:
			errs[field] = "offsetEnd must be greater than offsetStart"
		case kind == annotate.KindText && e.End > utf8.RuneCountInString(q.Text):
			errs[field] = fmt.Sprintf("offsetEnd %d is beyond the end of the text", e.End)
		}
		if len(errs) > 20 {
			break
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
