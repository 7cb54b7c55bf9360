package document

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/dlclark/regexp2"
)

// mergePair is a pair of adjacent byte-pair tokens eligible for merging.
type mergePair struct {
	left  string
	right string
}

// BPETokenizer is an offline byte-pair tokenizer loaded from vocab and merges
// files. It gives the chunker exact token counts for the embedding model's
// own vocabulary, so the 90% estimation shrink of the default tokenizer is
// not needed.
type BPETokenizer struct {
	vocab         map[string]int
	merges        map[mergePair]int
	specialTokens map[string]int
	preTokenizeRe *regexp2.Regexp
}

// NewBPETokenizer loads a byte-pair tokenizer from a vocab.json and a
// merges.txt file in the Hugging Face layout.
func NewBPETokenizer(vocabPath, mergesPath string) (*BPETokenizer, error) {
	vocabFile, err := os.ReadFile(vocabPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read vocab file: %w", err)
	}
	var vocab map[string]int
	if err := json.Unmarshal(vocabFile, &vocab); err != nil {
		return nil, fmt.Errorf("failed to parse vocab JSON: %w", err)
	}

	mergesFile, err := os.ReadFile(mergesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read merges file: %w", err)
	}
	merges := make(map[mergePair]int)
	// First line is the version header.
	for i, line := range strings.Split(string(mergesFile), "\n")[1:] {
		parts := strings.Fields(line)
		if len(parts) != 2 {
			continue
		}
		merges[mergePair{left: parts[0], right: parts[1]}] = i
	}

	specialTokens := map[string]int{
		"<|endoftext|>": 151643,
		"<|im_start|>":  151644,
		"<|im_end|>":    151645,
	}

	// Splits by category (letters, numbers, punctuation, whitespace) and
	// captures special tokens whole.
	specialTokenPattern := `<\|endoftext\|>|<\|im_start\|>|<\|im_end\|>`
	pattern := fmt.Sprintf(`(?i)(%s)|'s|'t|'re|'ve|'m|'ll|'d|[\p{L}]+|[\p{N}]+|[^\s\p{L}\p{N}]+`, specialTokenPattern)
	re, err := regexp2.Compile(pattern, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to compile pre-tokenization regex: %w", err)
	}

	return &BPETokenizer{
		vocab:         vocab,
		merges:        merges,
		specialTokens: specialTokens,
		preTokenizeRe: re,
	}, nil
}

// Encode converts a string into a slice of token IDs.
func (t *BPETokenizer) Encode(text string) ([]int, error) {
	var ids []int

	for _, chunk := range t.preTokenize(text) {
		if id, isSpecial := t.specialTokens[chunk]; isSpecial {
			ids = append(ids, id)
			continue
		}

		var tokens []string
		for _, b := range []byte(chunk) {
			tokens = append(tokens, string(rune(b)))
		}

		for _, token := range t.merge(tokens) {
			id, ok := t.vocab[token]
			if !ok {
				return nil, fmt.Errorf("token not found in vocabulary: %s", token)
			}
			ids = append(ids, id)
		}
	}

	return ids, nil
}

// Count returns the number of tokens in text; its method value satisfies the
// chunker's Tokenizer signature.
func (t *BPETokenizer) Count(text string) (int, error) {
	ids, err := t.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// preTokenize splits the input text into initial chunks.
func (t *BPETokenizer) preTokenize(text string) []string {
	var parts []string
	match, err := t.preTokenizeRe.FindStringMatch(text)
	for match != nil && err == nil {
		parts = append(parts, match.String())
		match, err = t.preTokenizeRe.FindNextMatch(match)
	}
	return parts
}

// merge applies the byte-pair merge rules, highest-priority pair first, until
// no adjacent pair has a rule.
func (t *BPETokenizer) merge(tokens []string) []string {
	for len(tokens) >= 2 {
		best := mergePair{}
		minRank := int(^uint(0) >> 1)
		for i := 0; i < len(tokens)-1; i++ {
			pair := mergePair{left: tokens[i], right: tokens[i+1]}
			if rank, ok := t.merges[pair]; ok && rank < minRank {
				minRank = rank
				best = pair
			}
		}
		if minRank == int(^uint(0)>>1) {
			break
		}

		var merged []string
		i := 0
		for i < len(tokens) {
			if i < len(tokens)-1 && tokens[i] == best.left && tokens[i+1] == best.right {
				merged = append(merged, best.left+best.right)
				i += 2
			} else {
				merged = append(merged, tokens[i])
				i++
			}
		}
		tokens = merged
	}
	return tokens
}
