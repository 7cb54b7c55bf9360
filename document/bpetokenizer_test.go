package document_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/MegaGrindStone/go-agentic-rag/document"
)

func writeTokenizerFixtures(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()

	vocabPath := filepath.Join(dir, "vocab.json")
	vocab := `{"h": 0, "i": 1, "hi": 2, "t": 3, "here": 4, "e": 5, "r": 6, "he": 7, "er": 8, "her": 9, "!": 10}`
	if err := os.WriteFile(vocabPath, []byte(vocab), 0600); err != nil {
		t.Fatalf("failed to write vocab fixture: %v", err)
	}

	mergesPath := filepath.Join(dir, "merges.txt")
	merges := "#version: 0.2\nh i\nh e\ne r\nhe r\n"
	if err := os.WriteFile(mergesPath, []byte(merges), 0600); err != nil {
		t.Fatalf("failed to write merges fixture: %v", err)
	}

	return vocabPath, mergesPath
}

func TestBPETokenizer_Encode(t *testing.T) {
	vocabPath, mergesPath := writeTokenizerFixtures(t)

	tokenizer, err := document.NewBPETokenizer(vocabPath, mergesPath)
	if err != nil {
		t.Fatalf("NewBPETokenizer failed: %v", err)
	}

	tests := []struct {
		text string
		want []int
	}{
		// "h i" is the highest-priority merge.
		{text: "hi", want: []int{2}},
		// "h e" merges before "he r", yielding "her".
		{text: "her", want: []int{9}},
		{text: "hi!", want: []int{2, 10}},
	}

	for _, tt := range tests {
		got, err := tokenizer.Encode(tt.text)
		if err != nil {
			t.Fatalf("Encode(%q) failed: %v", tt.text, err)
		}
		if len(got) != len(tt.want) {
			t.Fatalf("Encode(%q) = %v, want %v", tt.text, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("Encode(%q) = %v, want %v", tt.text, got, tt.want)
			}
		}
	}
}

func TestBPETokenizer_UnknownToken(t *testing.T) {
	vocabPath, mergesPath := writeTokenizerFixtures(t)

	tokenizer, err := document.NewBPETokenizer(vocabPath, mergesPath)
	if err != nil {
		t.Fatalf("NewBPETokenizer failed: %v", err)
	}

	if _, err := tokenizer.Encode("xyz"); err == nil {
		t.Error("expected an error for out-of-vocabulary input")
	}
}

func TestBPETokenizer_CountFeedsChunker(t *testing.T) {
	vocabPath, mergesPath := writeTokenizerFixtures(t)

	tokenizer, err := document.NewBPETokenizer(vocabPath, mergesPath)
	if err != nil {
		t.Fatalf("NewBPETokenizer failed: %v", err)
	}

	count, err := tokenizer.Count("hi her")
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Count = %d, want 2", count)
	}

	if _, err := document.NewChunker(100, document.StrategyBalanced, tokenizer.Count); err != nil {
		t.Fatalf("NewChunker rejected the tokenizer: %v", err)
	}
}
