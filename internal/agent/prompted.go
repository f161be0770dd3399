package agent

import (
	"context"
	"fmt"
	"strings"
)

// PromptedProvider layers tool calling onto a provider that lacks native
// support. Tool definitions are described in the system prompt and the
// model is asked to emit <tool_call>{"name": ..., "arguments": ...}</tool_call>
// blocks, which are parsed back out of the text stream into ToolCall
// chunks. Malformed blocks pass through as text.
type PromptedProvider struct {
	inner Provider
}

var _ Provider = (*PromptedProvider)(nil)

// NewPromptedProvider wraps inner with the prompted tool protocol. A
// provider with native tool support is returned unchanged.
func NewPromptedProvider(inner Provider) Provider {
	if inner.SupportsTools() {
		return inner
	}
	return &PromptedProvider{inner: inner}
}

func (p *PromptedProvider) Name() string { return p.inner.Name() }

func (p *PromptedProvider) SupportsTools() bool { return true }

func (p *PromptedProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	inner := *req
	if len(req.Tools) > 0 {
		inner.System = req.System + "\n\n" + toolProtocolPrompt(req.Tools)
		inner.Tools = nil
	}
	// Tool results have no native slot either; rendered as user turns.
	inner.Messages = flattenToolTurns(req.Messages)

	upstream, err := p.inner.Complete(ctx, &inner)
	if err != nil {
		return nil, err
	}

	chunks := make(chan *CompletionChunk)
	go func() {
		defer close(chunks)
		parser := NewToolCallParser()
		for chunk := range upstream {
			if chunk.Error != nil || chunk.Done {
				if tail := parser.Flush(); tail != "" {
					chunks <- &CompletionChunk{Text: tail}
				}
				chunks <- chunk
				return
			}
			if chunk.ToolCall != nil {
				chunks <- chunk
				continue
			}
			text, calls := parser.Feed(chunk.Text)
			if text != "" {
				chunks <- &CompletionChunk{Text: text}
			}
			for i := range calls {
				call := calls[i]
				chunks <- &CompletionChunk{ToolCall: &call}
			}
		}
		if tail := parser.Flush(); tail != "" {
			chunks <- &CompletionChunk{Text: tail}
		}
	}()
	return chunks, nil
}

func toolProtocolPrompt(tools []ToolSpec) string {
	var sb strings.Builder
	sb.WriteString("You can call tools. To call one, emit exactly:\n")
	sb.WriteString("<tool_call>{\"name\": \"<tool>\", \"arguments\": {...}}</tool_call>\n")
	sb.WriteString("Wait for the observation before continuing. Available tools:\n")
	for _, t := range tools {
		fmt.Fprintf(&sb, "- %s: %s\n  parameters schema: %s\n", t.Name, t.Description, string(t.Schema))
	}
	return sb.String()
}

// flattenToolTurns rewrites structured tool turns into plain text so
// providers without tool slots still see the full exchange.
func flattenToolTurns(messages []CompletionMessage) []CompletionMessage {
	out := make([]CompletionMessage, 0, len(messages))
	for _, m := range messages {
		switch {
		case m.Role == "tool" || len(m.ToolResults) > 0:
			var sb strings.Builder
			for _, r := range m.ToolResults {
				fmt.Fprintf(&sb, "<observation>%s</observation>\n", r.Observation)
			}
			if sb.Len() == 0 {
				sb.WriteString("<observation>" + m.Content + "</observation>")
			}
			out = append(out, CompletionMessage{Role: "user", Content: strings.TrimSpace(sb.String())})
		case len(m.ToolCalls) > 0:
			var sb strings.Builder
			sb.WriteString(m.Content)
			for _, c := range m.ToolCalls {
				fmt.Fprintf(&sb, "\n<tool_call>{\"name\": %q, \"arguments\": %s}</tool_call>",
					c.Name, string(c.Input))
			}
			out = append(out, CompletionMessage{Role: "assistant", Content: strings.TrimSpace(sb.String())})
		default:
			out = append(out, m)
		}
	}
	return out
}
