package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	goagenticrag "github.com/MegaGrindStone/go-agentic-rag"
	"github.com/ollama/ollama/api"
)

// Ollama implements the EmbeddingModel port against a local Ollama server.
type Ollama struct {
	cfg    Config
	client *api.Client
	logger *slog.Logger
}

// NewOllama creates an embedder for an Ollama server. The configured endpoint
// must be a valid URL; the logger may be nil.
func NewOllama(cfg Config, logger *slog.Logger) (Ollama, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return Ollama{}, fmt.Errorf("failed to parse endpoint %s: %w", cfg.Endpoint, err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return Ollama{
		cfg:    cfg,
		client: api.NewClient(u, &http.Client{}),
		logger: logger.With(slog.String("package", "embedding"), slog.String("model", cfg.Model)),
	}, nil
}

// Embed returns unit-normalised vectors aligned with texts.
func (o Ollama) Embed(ctx context.Context, texts []string, instruction string) ([][]float32, error) {
	rendered, err := renderTexts(o.cfg.PromptTemplate, instruction, texts)
	if err != nil {
		return nil, err
	}

	resp, err := o.client.Embed(ctx, &api.EmbedRequest{
		Model: o.cfg.Model,
		Input: rendered,
	})
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("got %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, embedding := range resp.Embeddings {
		if len(embedding) != o.cfg.Dimension {
			return nil, fmt.Errorf("%w: got dimension %d, want %d",
				goagenticrag.ErrDimensionMismatch, len(embedding), o.cfg.Dimension)
		}
		normalize(embedding)
		vectors[i] = embedding
	}

	return vectors, nil
}

// Tokenize returns the token IDs of text.
func (o Ollama) Tokenize(text string) ([]int, error) {
	return tokenize(text)
}

// Dimension returns the configured vector dimension.
func (o Ollama) Dimension() int {
	return o.cfg.Dimension
}

// MaxTokens returns the model's input token limit.
func (o Ollama) MaxTokens() int {
	return o.cfg.MaxTokens
}

// Clone returns a copy sharing the HTTP client.
func (o Ollama) Clone() goagenticrag.EmbeddingModel {
	return o
}
