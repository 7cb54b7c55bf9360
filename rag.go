package goagenticrag

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// LLM defines the interface for language model operations.
// It provides methods for free-form generation, schema-constrained
// generation, and usage accounting.
type LLM interface {
	// Generate sends a prompt to the model and returns its reply as plain text.
	// Optional image URLs are attached to the user message; the model needs to
	// support vision for them to have any effect.
	Generate(ctx context.Context, prompt string, images ...string) (string, error)
	// GenerateStructured sends a prompt with a JSON schema derived from the
	// type of out, validates the reply against that schema, and unmarshals it
	// into out. A non-conforming reply surfaces as ErrSchemaViolation.
	GenerateStructured(ctx context.Context, prompt string, out any) error
	// LastUsage reports the token usage of the most recent call.
	LastUsage() Usage
	// Cost reports the cost of the most recent call in dollars, computed from
	// the configured per-million-token rates.
	Cost() float64
	// Clone returns a shallow copy sharing the underlying HTTP client but with
	// a private usage slot, so concurrent workers don't race on LastUsage.
	Clone() LLM
}

// EmbeddingModel defines the interface for embedding operations.
type EmbeddingModel interface {
	// Embed converts a batch of texts into unit-normalised vectors. When
	// instruction is non-empty and the model carries a prompt template, the
	// template is rendered around every text before embedding.
	Embed(ctx context.Context, texts []string, instruction string) ([][]float32, error)
	// Tokenize converts text into token IDs using the model's tokenizer.
	Tokenize(text string) ([]int, error)
	// Dimension reports the length of the vectors Embed returns.
	Dimension() int
	// MaxTokens reports the maximum number of tokens a single text may hold.
	MaxTokens() int
	// Clone returns a shallow copy with private per-call state.
	Clone() EmbeddingModel
}

// VectorStorage defines the interface for vector database operations.
// A store is identified by a collection name and a fixed dimension chosen at
// construction time; every row's embedding must have that dimension.
type VectorStorage interface {
	// Insert stores a single vector. The ID and UpdatedAt fields of v are
	// ignored; the store assigns them.
	Insert(ctx context.Context, v Vector) error
	// BatchInsert ingests vectors in fixed-size pages within a batch; each
	// batch is committed atomically. Zero batchSize and pageSize select the
	// defaults (1000 and 500).
	BatchInsert(ctx context.Context, vs []Vector, batchSize, pageSize int) error
	// Query returns the k rows closest to embedding under the given distance,
	// ordered by ascending distance. Ties are broken deterministically.
	Query(ctx context.Context, embedding []float32, k int, distance Distance) ([]Vector, error)
	// File returns all rows belonging to the named source file.
	File(ctx context.Context, name string) ([]Vector, error)
	// DeleteFile removes all rows belonging to the named source file.
	DeleteFile(ctx context.Context, name string) error
	// Clear removes every row but keeps the collection.
	Clear(ctx context.Context) error
	// Drop removes the collection entirely.
	Drop(ctx context.Context) error
}

// DocumentHandler turns raw markdown into retrievable chunks. The document
// package provides the canonical implementation (parser plus chunker).
type DocumentHandler interface {
	ChunkDocument(content, fileName string, modTime time.Time) ([]Chunk, error)
}

// Distance identifies the similarity metric used by a vector store query.
type Distance string

// Supported distance metrics. Hamming and Jaccard only make sense over bit
// vectors; whether a store accepts them for a given column is up to the
// backend.
const (
	DistanceL2           Distance = "l2"
	DistanceInnerProduct Distance = "inner_product"
	DistanceCosine       Distance = "cosine"
	DistanceL1           Distance = "l1"
	DistanceHamming      Distance = "hamming"
	DistanceJaccard      Distance = "jaccard"
)

// Chunk is a bounded-size unit of retrievable text carrying its source file,
// its emission position within that file, and a copy of the document's
// front-matter metadata.
type Chunk struct {
	Content      string
	FileName     string
	FilePosition int
	Metadata     map[string]string
}

// Vector is a chunk plus its embedding as persisted by a vector store.
type Vector struct {
	ID           int64
	Embedding    []float32
	FileName     string
	FilePosition int
	Content      string
	Metadata     map[string]string
	UpdatedAt    time.Time
}

// VectorFromChunk builds a Vector from a chunk and its embedding. The ID and
// UpdatedAt fields are left zero for the store to assign.
func VectorFromChunk(chunk Chunk, embedding []float32) Vector {
	return Vector{
		Embedding:    embedding,
		FileName:     chunk.FileName,
		FilePosition: chunk.FilePosition,
		Content:      chunk.Content,
		Metadata:     chunk.Metadata,
	}
}

// Usage holds the token counters of a single model call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Question is a single researcher sub-question with search keywords.
type Question struct {
	QuestionText string   `json:"question_text"`
	Keywords     []string `json:"keywords"`
}

// Decision is the researcher's structured verdict on whether the accumulated
// research suffices to answer the original question. When Satisfied is false,
// Questions lists the follow-ups to research next.
type Decision struct {
	SatisfiedReason string     `json:"satisfied_reason"`
	Satisfied       bool       `json:"satisfied"`
	Reasoning       string     `json:"reasoning"`
	Questions       []Question `json:"questions"`
}

// Agents bundles the three model roles used by the QA pipeline.
type Agents struct {
	// Main produces the final user-visible answer from the research transcript.
	Main LLM
	// Researcher decides satisfaction and emits new sub-questions.
	Researcher LLM
	// QueryResearcher answers a single sub-question from retrieved context.
	QueryResearcher LLM
}

var (
	// ErrDimensionMismatch is returned when a collection is opened with a
	// dimension different from the one it was created with.
	ErrDimensionMismatch = errors.New("collection dimension mismatch")
	// ErrUnsupportedDistance is returned when a store does not implement the
	// requested distance metric.
	ErrUnsupportedDistance = errors.New("unsupported distance")
	// ErrSchemaViolation is returned when a model reply does not conform to
	// the requested JSON schema.
	ErrSchemaViolation = errors.New("model reply violates schema")
	// ErrRateLimited signals provider-side rate limiting; ports wait and
	// retry on it, surfacing it only when the wait is cancelled.
	ErrRateLimited = errors.New("rate limited")
)

// ParseError reports a markdown file that could not be parsed. Ingestion
// logs it and moves on to the next file.
type ParseError struct {
	File  string
	Cause string
}

func (e ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.File, e.Cause)
}
