package agent

import (
	"fmt"
	"strings"

	"github.com/GoCodeAlone/gauntlet/provider"
)

// Context window sizes by model name fragment; the longest matching
// fragment wins.
var contextWindows = map[string]int{
	"claude":        200_000,
	"claude-2":      100_000,
	"gpt-4o":        128_000,
	"gpt-4.1":       1_000_000,
	"gpt-4-turbo":   128_000,
	"gpt-4":         8_192,
	"o1":            128_000,
	"o3":            200_000,
	"qwen2.5-coder": 32_768,
	"llama3":        8_192,
	"llama3.1":      128_000,
	"deepseek":      64_000,
}

const (
	defaultContextWindow = 128_000
	// compactAt is the share of the window at which old tool output is elided.
	compactAt = 0.8
	// keepRecent messages at the tail are never elided.
	keepRecent = 6
)

func contextWindow(model string) int {
	lower := strings.ToLower(model)
	best, window := 0, defaultContextWindow
	for frag, size := range contextWindows {
		if len(frag) > best && strings.Contains(lower, frag) {
			best, window = len(frag), size
		}
	}
	return window
}

// compact elides the oldest tool outputs until the conversation fits under
// compactAt of window. The system prompt, the task prompt and the most
// recent messages are kept verbatim when that is enough; otherwise every
// tool output but the last one may go. No message is removed, so every
// tool call keeps its result. It reports how many outputs were elided.
func compact(messages []provider.Message, window int) int {
	limit := int(float64(window) * compactAt)
	tokens := provider.EstimateTokens(messages)
	if tokens < limit {
		return 0
	}
	elided := elide(messages, len(messages)-keepRecent, &tokens, limit)
	if tokens >= limit {
		elided += elide(messages, len(messages)-1, &tokens, limit)
	}
	return elided
}

// elide replaces tool outputs in messages[2:end] oldest first, while
// *tokens is at or above limit.
func elide(messages []provider.Message, end int, tokens *int, limit int) int {
	n := 0
	for i := 2; i < end && *tokens >= limit; i++ {
		m := &messages[i]
		if m.Role != provider.RoleTool || strings.HasPrefix(m.Content, elisionPrefix) {
			continue
		}
		before := len(m.Content) / 4
		m.Content = fmt.Sprintf("%s %d bytes of earlier output]", elisionPrefix, len(m.Content))
		*tokens -= before - len(m.Content)/4
		n++
	}
	return n
}

const elisionPrefix = "[elided:"
