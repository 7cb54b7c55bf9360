package goagenticrag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

const (
	defaultMaxIterations = 5
	defaultConcurrency   = 4
	defaultTopK          = 10
)

// QAPipeline answers a user question against an ingested corpus with an
// iterative researcher loop: the researcher decides whether the accumulated
// research suffices, and while it doesn't, its sub-questions are researched
// concurrently against the vector store and fed back into the next decision.
// The main agent synthesizes the final answer exactly once.
type QAPipeline struct {
	Agents   Agents
	Embedder EmbeddingModel
	Storage  VectorStorage

	// GlobalContext, when non-empty, is prepended to every researcher prompt.
	GlobalContext string
	// MaxIterations bounds the number of researcher decisions. Defaults to 5.
	MaxIterations int
	// Concurrency bounds the fan-out worker pool. Defaults to 4, minimum 2.
	Concurrency int
	// TopK is the number of rows retrieved per sub-question. Defaults to 10.
	TopK int

	Logger *slog.Logger
}

// QAResult is the outcome of a single Run call. Fields are only safe to read
// after Run returns.
type QAResult struct {
	// Iterations counts the loops that performed sub-question research, i.e.
	// researcher decisions that ended unsatisfied.
	Iterations int
	// Cost is the summed cost of every model call made during the run.
	Cost float64
	// UsedContext holds every row retrieved during the run, in fan-out
	// completion order.
	UsedContext []Vector
	// Questions maps each researched sub-question to its answer.
	Questions map[string]string
	// Satisfactions holds the researcher decisions in the order they were
	// made.
	Satisfactions []Decision
	FinalAnswer   string
}

// Run executes the full pipeline for one user query. On context cancellation
// it returns the partial result accumulated so far with an empty FinalAnswer
// and the context error.
func (p QAPipeline) Run(ctx context.Context, query string) (QAResult, error) {
	logger := p.logger().With(
		slog.String("package", "goagenticrag"),
		slog.String("function", "Run"),
	)

	maxIterations := p.MaxIterations
	if maxIterations < 1 {
		maxIterations = defaultMaxIterations
	}
	concurrency := p.Concurrency
	if concurrency < 2 {
		concurrency = defaultConcurrency
	}
	topK := p.TopK
	if topK < 1 {
		topK = defaultTopK
	}

	result := QAResult{Questions: make(map[string]string)}

	transcript := ""
	if p.GlobalContext != "" {
		transcript = "Global Context:\n" + p.GlobalContext + "\n\n"
	}

	for range maxIterations {
		var decision Decision
		prompt := transcript + "\noriginal_user_question: " + query
		if err := p.Agents.Researcher.GenerateStructured(ctx, prompt, &decision); err != nil {
			return result, fmt.Errorf("failed researcher call: %w", err)
		}
		result.Cost += p.Agents.Researcher.Cost()
		result.Satisfactions = append(result.Satisfactions, decision)

		if decision.Satisfied {
			logger.Info("Researcher satisfied", "reason", decision.SatisfiedReason)
			break
		}

		logger.Info("Researcher unsatisfied", "questions", len(decision.Questions))
		result.Iterations++

		answers, used, cost := p.research(ctx, decision.Questions, topK, concurrency, logger)
		result.Cost += cost
		result.UsedContext = append(result.UsedContext, used...)
		for q, a := range answers {
			result.Questions[q] = a
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		// Stable transcript order across runs.
		ordered := make([]string, 0, len(answers))
		for q := range answers {
			ordered = append(ordered, q)
		}
		sort.Strings(ordered)
		for _, q := range ordered {
			transcript += fmt.Sprintf("---\nQuestion: %s\nAnswer: %s\n---\n\n", q, answers[q])
		}
	}

	answer, err := p.Agents.Main.Generate(ctx, transcript+"\n\nUser Query: "+query)
	if err != nil {
		return result, fmt.Errorf("failed synthesizer call: %w", err)
	}
	result.Cost += p.Agents.Main.Cost()
	result.FinalAnswer = strings.TrimSpace(answer)

	return result, nil
}

// research fans the sub-questions out over a bounded worker pool and joins
// before returning. A failed sub-question is logged and omitted so the
// researcher may re-ask it on the next iteration; only context cancellation
// stops the whole fan-out.
func (p QAPipeline) research(
	ctx context.Context,
	questions []Question,
	topK, concurrency int,
	logger *slog.Logger,
) (map[string]string, []Vector, float64) {
	var mu sync.Mutex
	answers := make(map[string]string)
	used := make([]Vector, 0)
	cost := 0.0

	eg := new(errgroup.Group)
	// Semaphore to protect the model provider from unbounded parallelism.
	sem := make(chan struct{}, concurrency)

	for _, question := range questions {
		eg.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}
			defer func() { <-sem }()

			// Per-worker copies keep the per-call usage slots private.
			embedder := p.Embedder.Clone()
			researcher := p.Agents.QueryResearcher.Clone()

			text := question.QuestionText + " " + strings.Join(question.Keywords, " ")
			embeddings, err := embedder.Embed(ctx, []string{text}, QueryEmbedInstruction)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Warn("Skipping sub-question, embedding failed",
					"question", question.QuestionText, "error", err)
				return nil
			}

			docs, err := p.Storage.Query(ctx, embeddings[0], topK, DistanceCosine)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Warn("Skipping sub-question, retrieval failed",
					"question", question.QuestionText, "error", err)
				return nil
			}

			blocks := make([]string, len(docs))
			for i, doc := range docs {
				blocks[i] = "source:" + doc.FileName + "\n" + doc.Content
			}
			contextBlock := strings.Join(blocks, "\n")

			answer, err := researcher.Generate(ctx,
				"**Context:**\n"+contextBlock+"\n\nResearched Question: "+question.QuestionText)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Warn("Skipping sub-question, query researcher failed",
					"question", question.QuestionText, "error", err)
				return nil
			}

			mu.Lock()
			answers[question.QuestionText] = strings.TrimSpace(answer)
			used = append(used, docs...)
			cost += researcher.Cost()
			mu.Unlock()

			return nil
		})
	}

	// Join barrier; the only error workers propagate is context cancellation,
	// which the caller re-checks through ctx.Err().
	_ = eg.Wait()

	return answers, used, cost
}

func (p QAPipeline) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}
