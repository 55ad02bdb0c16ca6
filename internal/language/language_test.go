package language

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentify(t *testing.T) {
	id := NewIdentifier([]string{"en", "de", "fr"}, 0)

	tests := []struct {
		text string
		want string
	}{
		{"The quick brown fox jumps over the lazy dog while the farmer watches from the porch.", "en"},
		{"Der schnelle braune Fuchs springt über den faulen Hund, während der Bauer zuschaut.", "de"},
		{"Le renard brun rapide saute par-dessus le chien paresseux pendant que le fermier regarde.", "fr"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got, ok := id.Identify(tt.text)
			assert.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIdentifyLowConfidence(t *testing.T) {
	id := NewIdentifier([]string{"en"}, 1.1)
	_, ok := id.Identify("The quick brown fox jumps over the lazy dog.")
	assert.False(t, ok)
}

func TestSupported(t *testing.T) {
	id := NewIdentifier([]string{" EN", "de"}, 0)
	assert.True(t, id.Supported("en"))
	assert.True(t, id.Supported("DE"))
	assert.False(t, id.Supported("it"))
	assert.Equal(t, []string{"en", "de"}, id.SupportedLanguages())
}
