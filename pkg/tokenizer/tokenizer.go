package tokenizer

import (
	"strings"
)

// CountTokens provides a rough token count estimate (~4/3 tokens per English word).
func CountTokens(text string) int {
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0
	}
	return max(len(words)*4/3, 1)
}

// TailLines keeps the trailing lines of text that fit within maxTokens. At least the
// final line is kept, cut to its last words when it alone exceeds the budget.
func TailLines(text string, maxTokens int) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if maxTokens <= 0 || CountTokens(text) <= maxTokens {
		return strings.Join(lines, "\n")
	}

	kept := 0
	used := 0
	for i := len(lines) - 1; i >= 0; i-- {
		n := CountTokens(lines[i])
		if kept > 0 && used+n > maxTokens {
			break
		}
		used += n
		kept++
	}
	tail := lines[len(lines)-kept:]
	if kept == 1 && used > maxTokens {
		words := strings.Fields(tail[0])
		keep := max(maxTokens*3/4, 1)
		if keep < len(words) {
			words = words[len(words)-keep:]
		}
		return strings.Join(words, " ")
	}
	return strings.Join(tail, "\n")
}
