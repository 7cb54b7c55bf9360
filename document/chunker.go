package document

import (
	"fmt"
	"strings"
	"time"

	goagenticrag "github.com/MegaGrindStone/go-agentic-rag"
	"github.com/MegaGrindStone/go-agentic-rag/internal"
)

// Strategy selects how the chunker trades chunk size against structural
// fidelity.
type Strategy string

const (
	// StrategyMaxTokens packs chunks as close to the budget as possible by
	// halving oversized nodes.
	StrategyMaxTokens Strategy = "max_tokens"
	// StrategyBalanced keeps every top-level section whole where possible.
	StrategyBalanced Strategy = "balanced"
	// StrategyMinTokens flattens the document to leaf nodes first, emitting
	// the smallest structurally coherent units.
	StrategyMinTokens Strategy = "min_tokens"
)

// Tokenizer counts the tokens of a text under the target model's vocabulary.
type Tokenizer func(text string) (int, error)

// Chunker splits document trees into chunks whose token counts fit a budget.
type Chunker struct {
	chunkSize int
	strategy  Strategy
	tokenizer Tokenizer
}

// NewChunker creates a chunker with the given token budget per chunk. When
// tokenizer is nil, token counts are estimated with the GPT-4o tiktoken
// vocabulary and the effective budget shrinks to 90% of chunkSize to cover
// under-counting against the real embedding vocabulary.
func NewChunker(chunkSize int, strategy Strategy, tokenizer Tokenizer) (Chunker, error) {
	switch strategy {
	case StrategyMaxTokens, StrategyBalanced, StrategyMinTokens:
	default:
		return Chunker{}, fmt.Errorf("unknown chunk strategy %q", strategy)
	}
	if chunkSize < 1 {
		return Chunker{}, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}

	if tokenizer == nil {
		tokenizer = internal.CountTokens
		chunkSize = chunkSize * 9 / 10
		if chunkSize < 1 {
			chunkSize = 1
		}
	}

	return Chunker{
		chunkSize: chunkSize,
		strategy:  strategy,
		tokenizer: tokenizer,
	}, nil
}

// Chunk splits a document into chunks in document order. Every emitted chunk
// fits the token budget except indivisible leaves (a paragraph whose halves
// would be empty); nodes that cannot shrink while staying self-describing
// (single-row tables, single-item lists) are dropped.
func (c Chunker) Chunk(doc Document) ([]goagenticrag.Chunk, error) {
	var chunks []goagenticrag.Chunk
	position := 0

	queue := c.seed(doc)

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		content := stringify(node)
		if strings.TrimSpace(content) == "" {
			continue
		}

		tokens, err := c.tokenizer(content)
		if err != nil {
			return nil, fmt.Errorf("failed to count tokens: %w", err)
		}

		emit := func() {
			chunks = append(chunks, goagenticrag.Chunk{
				Content:      content,
				FileName:     doc.FileName,
				FilePosition: position,
				Metadata:     doc.Metadata,
			})
			position++
		}

		if tokens <= c.chunkSize {
			emit()
			continue
		}

		// Oversized: drop nodes that cannot shrink while staying
		// self-describing, emit an indivisible paragraph as-is, halve the
		// rest. Every re-enqueue strictly shrinks the queue's footprint, so
		// the loop terminates.
		switch n := node.(type) {
		case Table:
			if len(n.Rows) <= 1 {
				continue
			}
		case BulletList:
			if len(n.Items) <= 1 {
				continue
			}
		case Paragraph:
			if len([]rune(n.Content)) < 2 {
				emit()
				continue
			}
		}

		// Front insertion keeps the emitted chunks in document order.
		queue = append(c.split(node), queue...)
	}

	return chunks, nil
}

// seed builds the initial work list. MaxTokens and Balanced start from the
// whole document; MinTokens pre-flattens it to leaf nodes breadth-first.
func (c Chunker) seed(doc Document) []Node {
	if c.strategy != StrategyMinTokens {
		return []Node{doc}
	}

	queue := []Node{doc}
	var leaves []Node
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		switch n := node.(type) {
		case Document:
			queue = append(append([]Node{}, n.Sections...), queue...)
		case Section:
			queue = append(append([]Node{}, n.Children...), queue...)
		default:
			leaves = append(leaves, node)
		}
	}
	return leaves
}

// split halves an oversized node per its kind. Callers must already have
// filtered nodes that cannot shrink.
func (c Chunker) split(node Node) []Node {
	switch n := node.(type) {
	case Document:
		if c.strategy == StrategyBalanced || len(n.Sections) <= 1 {
			return n.Sections
		}
		half := ceilHalf(len(n.Sections))
		return []Node{
			Document{FileName: n.FileName, Sections: n.Sections[:half]},
			Document{FileName: n.FileName, Sections: n.Sections[half:]},
		}

	case Section:
		if c.strategy == StrategyBalanced || len(n.Children) <= 1 {
			return n.Children
		}
		half := ceilHalf(len(n.Children))
		return []Node{
			Section{Title: n.Title, Level: n.Level, Children: n.Children[:half]},
			Section{Title: n.Title, Level: n.Level, Children: n.Children[half:]},
		}

	case Table:
		// Both halves keep the full headers and caption so either one stays
		// self-describing.
		half := ceilHalf(len(n.Rows))
		return []Node{
			Table{Caption: n.Caption, Headers: n.Headers, Rows: n.Rows[:half]},
			Table{Caption: n.Caption, Headers: n.Headers, Rows: n.Rows[half:]},
		}

	case BulletList:
		half := ceilHalf(len(n.Items))
		return []Node{
			BulletList{Items: n.Items[:half]},
			BulletList{Items: n.Items[half:]},
		}

	case Paragraph:
		runes := []rune(n.Content)
		half := len(runes) / 2
		return []Node{
			Paragraph{Content: string(runes[:half])},
			Paragraph{Content: string(runes[half:])},
		}
	}

	return nil
}

// stringify renders a node for chunk content; documents render without their
// front-matter block.
func stringify(node Node) string {
	if doc, ok := node.(Document); ok {
		return doc.Body()
	}
	return node.String()
}

func ceilHalf(n int) int {
	return (n + 1) / 2
}

// Handler parses and chunks markdown files; it is the ingestion routine's
// document handler.
type Handler struct {
	chunker Chunker
}

// NewHandler wires a chunker into a document handler.
func NewHandler(chunker Chunker) Handler {
	return Handler{chunker: chunker}
}

// ChunkDocument parses the markdown content and splits it into chunks.
func (h Handler) ChunkDocument(content, fileName string, modTime time.Time) ([]goagenticrag.Chunk, error) {
	doc, err := NewParser(fileName, modTime).Parse(content)
	if err != nil {
		return nil, err
	}
	return h.chunker.Chunk(doc)
}
