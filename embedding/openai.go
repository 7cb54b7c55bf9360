package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	goagenticrag "github.com/MegaGrindStone/go-agentic-rag"
	goopenai "github.com/sashabaranov/go-openai"
)

const (
	maxAttempts   = 5
	backoffBase   = 2 * time.Second
	rateLimitWait = 10 * time.Second
)

// OpenAI implements the EmbeddingModel port against an OpenAI-compatible
// embeddings endpoint.
type OpenAI struct {
	cfg    Config
	client *goopenai.Client
	logger *slog.Logger
}

// NewOpenAI creates an embedder for an HTTP embeddings API. The logger may be
// nil.
func NewOpenAI(cfg Config, logger *slog.Logger) OpenAI {
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = cfg.Endpoint
	}
	if logger == nil {
		logger = slog.Default()
	}

	return OpenAI{
		cfg:    cfg,
		client: goopenai.NewClientWithConfig(clientCfg),
		logger: logger.With(slog.String("package", "embedding"), slog.String("model", cfg.Model)),
	}
}

// Embed returns unit-normalised vectors aligned with texts. The instruction,
// when non-empty, is rendered into the configured prompt template around each
// text before embedding.
func (o OpenAI) Embed(ctx context.Context, texts []string, instruction string) ([][]float32, error) {
	rendered, err := renderTexts(o.cfg.PromptTemplate, instruction, texts)
	if err != nil {
		return nil, err
	}

	resp, err := o.embed(ctx, goopenai.EmbeddingRequest{
		Input:      rendered,
		Model:      goopenai.EmbeddingModel(o.cfg.Model),
		Dimensions: o.cfg.Dimension,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("got %d embeddings for %d texts", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		if len(data.Embedding) != o.cfg.Dimension {
			return nil, fmt.Errorf("%w: got dimension %d, want %d",
				goagenticrag.ErrDimensionMismatch, len(data.Embedding), o.cfg.Dimension)
		}
		normalize(data.Embedding)
		vectors[i] = data.Embedding
	}

	return vectors, nil
}

// Tokenize returns the token IDs of text.
func (o OpenAI) Tokenize(text string) ([]int, error) {
	return tokenize(text)
}

// Dimension returns the configured vector dimension.
func (o OpenAI) Dimension() int {
	return o.cfg.Dimension
}

// MaxTokens returns the model's input token limit.
func (o OpenAI) MaxTokens() int {
	return o.cfg.MaxTokens
}

// Clone returns a copy sharing the HTTP client.
func (o OpenAI) Clone() goagenticrag.EmbeddingModel {
	return o
}

// embed performs the request with the same retry policy as the chat port:
// exponential backoff for transient failures, a fixed wait on 429 that does
// not consume an attempt, immediate surfacing of other 4xx responses.
func (o OpenAI) embed(ctx context.Context, req goopenai.EmbeddingRequest) (goopenai.EmbeddingResponse, error) {
	backoff := backoffBase

	for attempt := 1; ; {
		resp, err := o.client.CreateEmbeddings(ctx, req)
		if err == nil {
			return resp, nil
		}

		var apiErr *goopenai.APIError
		if errors.As(err, &apiErr) {
			if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
				o.logger.Warn("Rate limited, waiting", "wait", rateLimitWait)
				if err := sleep(ctx, rateLimitWait); err != nil {
					return resp, fmt.Errorf("%w: %v", goagenticrag.ErrRateLimited, err)
				}
				continue
			}
			if apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500 {
				return resp, fmt.Errorf("request rejected: %w", err)
			}
		}

		if attempt >= maxAttempts {
			return resp, fmt.Errorf("giving up after %d attempts: %w", maxAttempts, err)
		}
		o.logger.Warn("Request failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		if err := sleep(ctx, backoff); err != nil {
			return resp, err
		}
		backoff *= 2
		attempt++
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
