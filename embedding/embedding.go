// Package embedding adapts embedding model providers to the EmbeddingModel
// port. Both variants return unit-normalised vectors and count tokens with
// the GPT-4o tiktoken vocabulary.
package embedding

import (
	"fmt"
	"math"
	"strings"

	"github.com/MegaGrindStone/go-agentic-rag/internal"
)

// Config identifies one embedding model. PromptTemplate, when set, must
// contain a {query} placeholder and may contain an {instruction} placeholder;
// it is rendered around each text when the caller passes an instruction.
type Config struct {
	Model          string `yaml:"model"`
	Endpoint       string `yaml:"endpoint"`
	APIKey         string `yaml:"api_key"`
	Dimension      int    `yaml:"dimension"`
	MaxTokens      int    `yaml:"max_tokens"`
	PromptTemplate string `yaml:"prompt_template"`
}

// renderTexts applies the prompt template to every text. With no instruction
// or no template the texts pass through unchanged; a template without a
// {query} placeholder is a configuration error.
func renderTexts(template, instruction string, texts []string) ([]string, error) {
	if instruction == "" || template == "" {
		return texts, nil
	}
	if !strings.Contains(template, "{query}") {
		return nil, fmt.Errorf("prompt template must contain a {query} placeholder")
	}

	rendered := make([]string, len(texts))
	for i, text := range texts {
		prompt := strings.ReplaceAll(template, "{instruction}", instruction)
		rendered[i] = strings.ReplaceAll(prompt, "{query}", text)
	}
	return rendered, nil
}

// normalize scales the vector to unit length in place. A zero vector is left
// untouched.
func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}

// tokenize counts against the GPT-4o vocabulary; providers do not expose
// their own tokenizers over the wire.
func tokenize(text string) ([]int, error) {
	ids, err := internal.EncodeStringByTiktoken(text)
	if err != nil {
		return nil, err
	}
	tokens := make([]int, len(ids))
	for i, id := range ids {
		tokens[i] = int(id)
	}
	return tokens, nil
}
