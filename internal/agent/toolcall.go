package agent

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/haasonsaas/aide/pkg/models"
)

const (
	toolCallOpen  = "<tool_call>"
	toolCallClose = "</tool_call>"
)

// ToolCallParser extracts tool-call blocks from streamed model text. It is
// stateful: deltas are fed as they arrive, plain text outside blocks is
// returned immediately, and a ToolCall is produced once a block closes.
// A block whose body is not valid JSON is passed through as literal text
// so the user sees what the model actually said.
type ToolCallParser struct {
	pending string
	inBlock bool
}

// NewToolCallParser returns a parser at the start of a response.
func NewToolCallParser() *ToolCallParser {
	return &ToolCallParser{}
}

type toolCallBody struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Input     json.RawMessage `json:"input"`
}

// Feed consumes one text delta and returns any plain text plus any tool
// calls completed by this delta.
func (p *ToolCallParser) Feed(delta string) (string, []models.ToolCall) {
	p.pending += delta

	var text strings.Builder
	var calls []models.ToolCall

	for {
		if p.inBlock {
			i := strings.Index(p.pending, toolCallClose)
			if i < 0 {
				return text.String(), calls
			}
			body := p.pending[:i]
			p.pending = p.pending[i+len(toolCallClose):]
			p.inBlock = false

			if call, ok := parseToolCallBody(body); ok {
				calls = append(calls, call)
			} else {
				text.WriteString(toolCallOpen + body + toolCallClose)
			}
			continue
		}

		i := strings.Index(p.pending, toolCallOpen)
		if i >= 0 {
			text.WriteString(p.pending[:i])
			p.pending = p.pending[i+len(toolCallOpen):]
			p.inBlock = true
			continue
		}

		// Hold back any suffix that could grow into an opening marker.
		hold := partialMarkerLen(p.pending, toolCallOpen)
		text.WriteString(p.pending[:len(p.pending)-hold])
		p.pending = p.pending[len(p.pending)-hold:]
		return text.String(), calls
	}
}

// Flush ends the response, returning any buffered text. An unterminated
// block comes back as literal text.
func (p *ToolCallParser) Flush() string {
	out := p.pending
	if p.inBlock {
		out = toolCallOpen + out
	}
	p.pending = ""
	p.inBlock = false
	return out
}

func parseToolCallBody(body string) (models.ToolCall, bool) {
	var parsed toolCallBody
	if err := json.Unmarshal([]byte(strings.TrimSpace(body)), &parsed); err != nil {
		return models.ToolCall{}, false
	}
	if parsed.Name == "" {
		return models.ToolCall{}, false
	}

	input := parsed.Arguments
	if len(input) == 0 {
		input = parsed.Input
	}
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}

	id := parsed.ID
	if id == "" {
		id = uuid.New().String()
	}
	return models.ToolCall{ID: id, Name: parsed.Name, Input: input}, true
}

// partialMarkerLen returns the length of the longest suffix of s that is a
// proper prefix of marker.
func partialMarkerLen(s, marker string) int {
	max := len(marker) - 1
	if max > len(s) {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(s, marker[:n]) {
			return n
		}
	}
	return 0
}
