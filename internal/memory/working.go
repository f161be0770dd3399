package memory

import (
	"fmt"
	"sort"
	"strings"

	"github.com/haasonsaas/aide/pkg/models"
)

// WorkingMemory bounds the conversation context fed to the model. When the
// estimated token count exceeds the budget, older turns are folded into a
// single summary line while the system message and the most recent turns
// survive verbatim.
type WorkingMemory struct {
	maxTokens  int
	keepRecent int
}

// NewWorkingMemory creates a working memory with the given token budget.
// Zero values fall back to 8000 tokens and 5 recent turns.
func NewWorkingMemory(maxTokens, keepRecent int) *WorkingMemory {
	if maxTokens <= 0 {
		maxTokens = 8000
	}
	if keepRecent <= 0 {
		keepRecent = 5
	}
	return &WorkingMemory{maxTokens: maxTokens, keepRecent: keepRecent}
}

// EstimateTokens approximates the token count of a text. Four characters
// per token is close enough for budget decisions.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// TotalTokens sums the token estimate over a message slice.
func TotalTokens(messages []models.Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Content)
	}
	return total
}

// Fit returns messages unchanged while they fit the budget; otherwise it
// compresses them. The returned slice is always safe to mutate.
func (w *WorkingMemory) Fit(messages []models.Message) []models.Message {
	if TotalTokens(messages) <= w.maxTokens {
		return append([]models.Message{}, messages...)
	}
	return w.compress(messages)
}

// compress keeps the leading system message (if any) and the trailing
// keepRecent turns, replacing everything between with a summary message.
func (w *WorkingMemory) compress(messages []models.Message) []models.Message {
	var out []models.Message

	start := 0
	if len(messages) > 0 && messages[0].Role == models.RoleSystem {
		out = append(out, messages[0])
		start = 1
	}

	middle := messages[start:]
	if len(middle) <= w.keepRecent {
		return append(out, middle...)
	}

	cut := len(middle) - w.keepRecent
	dropped := middle[:cut]
	kept := middle[cut:]

	if summary := summarizeTurns(dropped); summary != "" {
		out = append(out, models.Message{
			Role:    models.RoleSystem,
			Content: summary,
		})
	}
	return append(out, kept...)
}

// summarizeTurns produces a one-line topic summary of dropped turns from
// their most frequent content tokens.
func summarizeTurns(dropped []models.Message) string {
	if len(dropped) == 0 {
		return ""
	}

	freq := map[string]int{}
	for _, m := range dropped {
		for _, tok := range Tokenize(m.Content) {
			if len(tok) < 4 {
				continue
			}
			freq[tok]++
		}
	}

	type tokenCount struct {
		token string
		count int
	}
	var counts []tokenCount
	for tok, n := range freq {
		counts = append(counts, tokenCount{tok, n})
	}
	sort.SliceStable(counts, func(i, j int) bool {
		if counts[i].count != counts[j].count {
			return counts[i].count > counts[j].count
		}
		return counts[i].token < counts[j].token
	})
	if len(counts) > 8 {
		counts = counts[:8]
	}

	topics := make([]string, 0, len(counts))
	for _, c := range counts {
		topics = append(topics, c.token)
	}

	if len(topics) == 0 {
		return fmt.Sprintf("[Earlier conversation: %d turns omitted]", len(dropped))
	}
	return fmt.Sprintf("[Earlier conversation: %d turns omitted; topics: %s]",
		len(dropped), strings.Join(topics, ", "))
}
