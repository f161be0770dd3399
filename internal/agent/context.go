package agent

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/aide/internal/memory"
	"github.com/haasonsaas/aide/pkg/models"
)

// ContextBuilder assembles the model conversation for one agent step:
// system prompt enriched with recalled memories, then the session history
// squeezed through working memory's token budget.
type ContextBuilder struct {
	working      *memory.WorkingMemory
	systemPrompt string
}

// NewContextBuilder creates a builder over the given working memory.
func NewContextBuilder(working *memory.WorkingMemory, systemPrompt string) *ContextBuilder {
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	return &ContextBuilder{working: working, systemPrompt: systemPrompt}
}

const defaultSystemPrompt = `You are a personal assistant with durable memory and tools. ` +
	`Be concise. Save important facts with memory_save; look things up with memory_search before saying you don't know.`

// System renders the system prompt followed by a "[Relevant memory]" block
// holding recalled entries, prepended to the conversation as system text.
func (b *ContextBuilder) System(memories []*models.SearchResult) string {
	if len(memories) == 0 {
		return b.systemPrompt
	}

	var sb strings.Builder
	sb.WriteString(b.systemPrompt)
	sb.WriteString("\n\n[Relevant memory]\n")
	for _, r := range memories {
		fmt.Fprintf(&sb, "- (%s, confidence %.2f) %s\n", r.Entry.Type, r.Entry.Confidence, r.Entry.Content)
	}
	return sb.String()
}

// Conversation converts session history into completion messages within the
// working memory budget.
func (b *ContextBuilder) Conversation(history []models.Message) []CompletionMessage {
	fitted := b.working.Fit(history)
	out := make([]CompletionMessage, 0, len(fitted))
	for _, m := range fitted {
		out = append(out, CompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return out
}
