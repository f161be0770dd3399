package agent

import (
	"strings"
	"testing"

	"github.com/haasonsaas/aide/internal/memory"
	"github.com/haasonsaas/aide/pkg/models"
)

func TestSystemWithoutMemories(t *testing.T) {
	b := NewContextBuilder(memory.NewWorkingMemory(0, 0), "base prompt")

	if got := b.System(nil); got != "base prompt" {
		t.Errorf("expected bare prompt, got %q", got)
	}
}

func TestSystemRendersMemoryBlock(t *testing.T) {
	b := NewContextBuilder(memory.NewWorkingMemory(0, 0), "base prompt")

	results := []*models.SearchResult{
		{Entry: &models.MemoryEntry{Type: models.MemoryFact, Confidence: 0.9, Content: "user prefers tea"}},
		{Entry: &models.MemoryEntry{Type: models.MemoryBelief, Confidence: 0.6, Content: "dark mode"}},
	}
	got := b.System(results)

	if !strings.HasPrefix(got, "base prompt") {
		t.Errorf("prompt must lead the system text, got %q", got)
	}
	idx := strings.Index(got, "[Relevant memory]")
	if idx < 0 {
		t.Fatalf("memory block missing from %q", got)
	}
	block := got[idx:]
	if !strings.Contains(block, "user prefers tea") || !strings.Contains(block, "dark mode") {
		t.Errorf("recalled entries missing from block %q", block)
	}
}
