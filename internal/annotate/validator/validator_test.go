package validator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/annotate"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/entity"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/layout"
	apperrors "github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/errors"
)

func TestValidateQuery(t *testing.T) {
	tests := []struct {
		name   string
		kind   string
		query  annotate.Query
		fields []string
	}{
		{"valid text", annotate.KindText, annotate.Query{Text: "Paris is nice", Entities: []entity.Entity{{Start: 0, End: 5}}}, nil},
		{"valid pdf query", annotate.KindPDF, annotate.Query{Text: "A paper", Language: &annotate.Language{Lang: "en"}, Entities: []entity.Entity{{Start: 100, End: 105}}}, nil},
		{"bad language", annotate.KindText, annotate.Query{Language: &annotate.Language{Lang: "english"}}, []string{"language.lang"}},
		{"negative start", annotate.KindPDF, annotate.Query{Entities: []entity.Entity{{Start: -1, End: 3}}}, []string{"entities[0]"}},
		{"empty span", annotate.KindPDF, annotate.Query{Entities: []entity.Entity{{Start: 0, End: 5}, {Start: 4, End: 4}}}, []string{"entities[1]"}},
		{"beyond text", annotate.KindText, annotate.Query{Text: "Paris", Entities: []entity.Entity{{Start: 0, End: 9}}}, []string{"entities[0]"}},
		{"non-ascii text counts characters", annotate.KindText, annotate.Query{Text: "Zürich", Entities: []entity.Entity{{Start: 0, End: 6}}}, nil},
		{"non-ascii beyond text", annotate.KindText, annotate.Query{Text: "Zürich", Entities: []entity.Entity{{Start: 0, End: 7}}}, []string{"entities[0]"}},
		{"tokens sent", annotate.KindText, annotate.Query{Text: "Paris is nice", Tokens: []layout.Token{{Text: "Paris"}}}, []string{"tokens"}},
		{"text too long", annotate.KindText, annotate.Query{Text: strings.Repeat("a", maxTextLength+1)}, []string{"text"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateQuery(tt.kind, &tt.query)
			if tt.fields == nil {
				assert.NoError(t, err)
				return
			}
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			for _, f := range tt.fields {
				assert.Contains(t, ve.Fields, f)
			}
			assert.Len(t, ve.Fields, len(tt.fields))
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
			assert.Equal(t, 400, apperrors.HTTPStatusCode(err))
		})
	}
}

func TestValidationErrorMessageIsStable(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{"b": "second", "a": "first"}}
	assert.Equal(t, "a: first; b: second", err.Error())
}
