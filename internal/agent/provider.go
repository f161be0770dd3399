package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/aide/pkg/models"
)

// CompletionMessage is one turn in a model conversation.
type CompletionMessage struct {
	Role        string              `json:"role"`
	Content     string              `json:"content"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// ToolSpec describes one tool to the model.
type ToolSpec struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// CompletionRequest is a model invocation.
type CompletionRequest struct {
	Model     string
	System    string
	Messages  []CompletionMessage
	Tools     []ToolSpec
	MaxTokens int
}

// CompletionChunk is one streamed piece of a model response. Text chunks
// carry partial response text; ToolCall chunks carry a complete tool
// invocation; the final chunk has Done set (with Error on failure).
type CompletionChunk struct {
	Text     string
	ToolCall *models.ToolCall
	Done     bool
	Error    error
}

// Provider is a model backend. Complete returns immediately with a channel
// of response chunks; the channel is closed when the stream ends.
type Provider interface {
	// Name returns the provider identifier used for routing and logging.
	Name() string

	// Complete sends a completion request and streams the response.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// SupportsTools reports whether the provider handles tool definitions
	// natively. Providers that don't are wrapped in the prompted protocol.
	SupportsTools() bool
}
