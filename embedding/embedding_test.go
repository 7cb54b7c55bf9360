package embedding

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTexts(t *testing.T) {
	tests := []struct {
		name        string
		template    string
		instruction string
		texts       []string
		want        []string
		expectError bool
	}{
		{
			name:        "No instruction passes through",
			template:    "Instruct: {instruction}\nQuery: {query}",
			instruction: "",
			texts:       []string{"a", "b"},
			want:        []string{"a", "b"},
		},
		{
			name:        "No template passes through",
			template:    "",
			instruction: "find passages",
			texts:       []string{"a"},
			want:        []string{"a"},
		},
		{
			name:        "Template renders both placeholders",
			template:    "Instruct: {instruction}\nQuery: {query}",
			instruction: "find passages",
			texts:       []string{"what is it?"},
			want:        []string{"Instruct: find passages\nQuery: what is it?"},
		},
		{
			name:        "Template without query placeholder fails",
			template:    "Instruct: {instruction}",
			instruction: "find passages",
			texts:       []string{"what is it?"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := renderTexts(tt.template, tt.instruction, tt.texts)
			if tt.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize(t *testing.T) {
	vec := []float32{3, 4}
	normalize(vec)
	assert.InDelta(t, 0.6, vec[0], 1e-6)
	assert.InDelta(t, 0.8, vec[1], 1e-6)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-6)

	zero := []float32{0, 0}
	normalize(zero)
	assert.Equal(t, []float32{0, 0}, zero)
}

func TestTokenize(t *testing.T) {
	tokens, err := tokenize("hello world")
	require.NoError(t, err)
	assert.NotEmpty(t, tokens)
}
