// Package llm adapts chat-completions model providers to the LLM port.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	goagenticrag "github.com/MegaGrindStone/go-agentic-rag"
	jsonrepair "github.com/RealAlexandreAI/json-repair"
	goopenai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
)

const (
	maxAttempts   = 5
	backoffBase   = 2 * time.Second
	rateLimitWait = 10 * time.Second
)

// Config identifies one model behind an OpenAI-compatible chat-completions
// endpoint. Endpoint may be empty for the default OpenAI base URL. Cost rates
// are per million tokens.
type Config struct {
	Model          string  `yaml:"model"`
	Endpoint       string  `yaml:"endpoint"`
	APIKey         string  `yaml:"api_key"`
	SystemPrompt   string  `yaml:"system_prompt"`
	InputCostPerM  float64 `yaml:"input_cost_per_m"`
	OutputCostPerM float64 `yaml:"output_cost_per_m"`
}

// Model implements the LLM port against any OpenAI-compatible provider.
// A Model is not safe for concurrent use; concurrent callers take Clone()s
// that share the HTTP client but keep private usage slots.
type Model struct {
	cfg    Config
	client *goopenai.Client

	usage  *goagenticrag.Usage
	logger *slog.Logger
}

// NewModel creates a model handle. The logger may be nil.
func NewModel(cfg Config, logger *slog.Logger) *Model {
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = cfg.Endpoint
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Model{
		cfg:    cfg,
		client: goopenai.NewClientWithConfig(clientCfg),
		usage:  new(goagenticrag.Usage),
		logger: logger.With(slog.String("package", "llm"), slog.String("model", cfg.Model)),
	}
}

// Clone returns a shallow copy sharing the HTTP client with a private usage
// slot, so per-call usage is not clobbered across workers.
func (m *Model) Clone() goagenticrag.LLM {
	clone := *m
	clone.usage = new(goagenticrag.Usage)
	return &clone
}

// Generate sends the prompt (plus optional image URLs) and returns the
// model's free-form reply.
func (m *Model) Generate(ctx context.Context, prompt string, images ...string) (string, error) {
	resp, err := m.chat(ctx, goopenai.ChatCompletionRequest{
		Model:    m.cfg.Model,
		Messages: m.messages(prompt, images),
	})
	if err != nil {
		return "", err
	}

	return resp.Choices[0].Message.Content, nil
}

// GenerateStructured sends the prompt with a strict JSON schema derived from
// the type of out, validates the reply against that schema client-side, and
// unmarshals it into out. A non-conforming reply fails with
// ErrSchemaViolation even when the provider claimed to enforce the schema.
func (m *Model) GenerateStructured(ctx context.Context, prompt string, out any) error {
	schema, err := jsonschema.GenerateSchemaForType(out)
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	resp, err := m.chat(ctx, goopenai.ChatCompletionRequest{
		Model:    m.cfg.Model,
		Messages: m.messages(prompt, nil),
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &goopenai.ChatCompletionResponseFormatJSONSchema{
				Name:   "response",
				Schema: schema,
				Strict: true,
			},
		},
	})
	if err != nil {
		return err
	}

	content := resp.Choices[0].Message.Content
	content = strings.TrimSpace(RemoveMarkdownBackticks(RemoveThinkTags(content)))

	// Local models wrap otherwise-valid payloads in stray fences or trailing
	// commas; repair first, validate strictly after.
	repaired, err := jsonrepair.RepairJSON(content)
	if err != nil {
		return fmt.Errorf("%w: failed to repair payload: %v", goagenticrag.ErrSchemaViolation, err)
	}

	if err := jsonschema.VerifySchemaAndUnmarshal(*schema, []byte(repaired), out); err != nil {
		return fmt.Errorf("%w: %v", goagenticrag.ErrSchemaViolation, err)
	}

	return nil
}

// LastUsage returns the token usage of the most recent call.
func (m *Model) LastUsage() goagenticrag.Usage {
	return *m.usage
}

// Cost returns the cost of the most recent call in dollars.
func (m *Model) Cost() float64 {
	return float64(m.usage.PromptTokens)/1e6*m.cfg.InputCostPerM +
		float64(m.usage.CompletionTokens)/1e6*m.cfg.OutputCostPerM
}

func (m *Model) messages(prompt string, images []string) []goopenai.ChatCompletionMessage {
	var msgs []goopenai.ChatCompletionMessage
	if m.cfg.SystemPrompt != "" {
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: m.cfg.SystemPrompt,
		})
	}

	if len(images) == 0 {
		return append(msgs, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleUser,
			Content: prompt,
		})
	}

	parts := []goopenai.ChatMessagePart{
		{Type: goopenai.ChatMessagePartTypeText, Text: prompt},
	}
	for _, url := range images {
		parts = append(parts, goopenai.ChatMessagePart{
			Type:     goopenai.ChatMessagePartTypeImageURL,
			ImageURL: &goopenai.ChatMessageImageURL{URL: url},
		})
	}
	return append(msgs, goopenai.ChatCompletionMessage{
		Role:         goopenai.ChatMessageRoleUser,
		MultiContent: parts,
	})
}

// chat performs the request with the retry policy: transient failures back
// off exponentially up to maxAttempts; a 429 waits a fixed delay and retries
// without consuming an attempt; other 4xx responses surface immediately.
func (m *Model) chat(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error) {
	backoff := backoffBase

	for attempt := 1; ; {
		resp, err := m.client.CreateChatCompletion(ctx, req)
		if err == nil {
			if len(resp.Choices) == 0 {
				return resp, errors.New("no choices in response")
			}
			*m.usage = goagenticrag.Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			}
			return resp, nil
		}

		var apiErr *goopenai.APIError
		if errors.As(err, &apiErr) {
			if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
				m.logger.Warn("Rate limited, waiting", "wait", rateLimitWait)
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
		m.logger.Warn("Request failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
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
