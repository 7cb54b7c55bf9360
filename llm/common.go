package llm

import (
	"regexp"
	"strings"
)

var thinkTagRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// RemoveThinkTags strips <think> blocks, including the tags, from a model
// reply. Reasoning models emit these around the actual payload.
func RemoveThinkTags(input string) string {
	return thinkTagRe.ReplaceAllString(input, "")
}

// RemoveMarkdownBackticks drops lines that open or close a fenced code block,
// leaving the fenced content in place.
func RemoveMarkdownBackticks(input string) string {
	var kept []string
	for line := range strings.SplitSeq(input, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
