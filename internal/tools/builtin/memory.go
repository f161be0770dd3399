// Package builtin provides the tools every agent starts with: memory
// capture and search, and the task list.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/aide/internal/memory"
	"github.com/haasonsaas/aide/internal/tools"
	"github.com/haasonsaas/aide/pkg/models"
)

// MemorySaveTool persists a fact or observation into long-term memory.
type MemorySaveTool struct {
	system *memory.System
}

var _ tools.Tool = (*MemorySaveTool)(nil)

// NewMemorySaveTool creates the memory_save tool over system.
func NewMemorySaveTool(system *memory.System) *MemorySaveTool {
	return &MemorySaveTool{system: system}
}

func (t *MemorySaveTool) Name() string { return "memory_save" }

func (t *MemorySaveTool) Description() string {
	return "Save an important fact, preference, or solution to long-term memory so it survives across conversations."
}

func (t *MemorySaveTool) NeedsConfirmation() bool { return false }

func (t *MemorySaveTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"content": {"type": "string", "description": "The fact to remember, stated standalone"},
			"type": {"type": "string", "enum": ["fact", "belief", "event", "solution", "execution_pattern"], "description": "Kind of memory"},
			"confidence": {"type": "number", "minimum": 0, "maximum": 1, "description": "How certain this is (default 0.8)"},
			"tags": {"type": "array", "items": {"type": "string"}, "description": "Lookup tags"}
		},
		"required": ["content"]
	}`)
}

type memorySaveParams struct {
	Content    string   `json:"content"`
	Type       string   `json:"type"`
	Confidence float64  `json:"confidence"`
	Tags       []string `json:"tags"`
}

func (t *MemorySaveTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var p memorySaveParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}

	entry, err := t.system.Capture(ctx, memory.CaptureInput{
		Content:    p.Content,
		Type:       models.MemoryType(p.Type),
		Confidence: p.Confidence,
		Tags:       p.Tags,
	})
	if err != nil {
		return &models.ToolResult{
			Success:     false,
			Error:       err.Error(),
			Observation: "failed to save memory: " + err.Error(),
		}, nil
	}

	return &models.ToolResult{
		Success:     true,
		Data:        map[string]any{"id": entry.ID},
		Observation: fmt.Sprintf("saved memory %s (%s)", entry.ID, entry.Type),
	}, nil
}

// MemorySearchTool retrieves relevant long-term memories.
type MemorySearchTool struct {
	system *memory.System
}

var _ tools.Tool = (*MemorySearchTool)(nil)

// NewMemorySearchTool creates the memory_search tool over system.
func NewMemorySearchTool(system *memory.System) *MemorySearchTool {
	return &MemorySearchTool{system: system}
}

func (t *MemorySearchTool) Name() string { return "memory_search" }

func (t *MemorySearchTool) Description() string {
	return "Search long-term memory for facts relevant to a query."
}

func (t *MemorySearchTool) NeedsConfirmation() bool { return false }

func (t *MemorySearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "What to look for"},
			"limit": {"type": "integer", "minimum": 1, "maximum": 20, "description": "Maximum results (default 5)"}
		},
		"required": ["query"]
	}`)
}

type memorySearchParams struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func (t *MemorySearchTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var p memorySearchParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}

	results, err := t.system.Recall(ctx, p.Query, p.Limit)
	if err != nil {
		return &models.ToolResult{
			Success:     false,
			Error:       err.Error(),
			Observation: "memory search failed: " + err.Error(),
		}, nil
	}

	if len(results) == 0 {
		return &models.ToolResult{
			Success:     true,
			Observation: "no relevant memories found",
		}, nil
	}

	var lines []string
	for _, r := range results {
		lines = append(lines, fmt.Sprintf("- [%s, %.2f] %s", r.Entry.Type, r.Score, r.Entry.Content))
	}
	return &models.ToolResult{
		Success:     true,
		Data:        results,
		Observation: strings.Join(lines, "\n"),
	}, nil
}
