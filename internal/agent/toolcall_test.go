package agent

import (
	"strings"
	"testing"
)

func TestParserPlainTextPassesThrough(t *testing.T) {
	p := NewToolCallParser()

	text, calls := p.Feed("just a normal reply")
	if text != "just a normal reply" {
		t.Errorf("expected passthrough, got %q", text)
	}
	if len(calls) != 0 {
		t.Errorf("expected no calls, got %d", len(calls))
	}
	if rest := p.Flush(); rest != "" {
		t.Errorf("expected empty flush, got %q", rest)
	}
}

func TestParserExtractsToolCall(t *testing.T) {
	p := NewToolCallParser()

	text, calls := p.Feed(`before <tool_call>{"id":"c1","name":"echo","arguments":{"text":"hi"}}</tool_call> after`)
	if text != "before  after" {
		t.Errorf("expected surrounding text, got %q", text)
	}
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].ID != "c1" || calls[0].Name != "echo" {
		t.Errorf("unexpected call: %+v", calls[0])
	}
	if string(calls[0].Input) != `{"text":"hi"}` {
		t.Errorf("unexpected input: %s", calls[0].Input)
	}
}

func TestParserMarkerSplitAcrossDeltas(t *testing.T) {
	p := NewToolCallParser()

	chunks := []string{"let me ", "<tool", "_call>{\"name\":", "\"search\",\"input\":{}}", "</tool_", "call> done"}
	var text strings.Builder
	var total int
	for _, c := range chunks {
		out, calls := p.Feed(c)
		text.WriteString(out)
		total += len(calls)
	}
	text.WriteString(p.Flush())

	if text.String() != "let me  done" {
		t.Errorf("unexpected text: %q", text.String())
	}
	if total != 1 {
		t.Errorf("expected 1 call across deltas, got %d", total)
	}
}

func TestParserHoldsBackPartialMarker(t *testing.T) {
	p := NewToolCallParser()

	// "<tool" could still grow into a marker, so it must not leak yet.
	text, _ := p.Feed("thinking <tool")
	if text != "thinking " {
		t.Errorf("partial marker leaked: %q", text)
	}

	// It was a false alarm; the held text surfaces with the next delta.
	text, _ = p.Feed("box is here")
	if text != "<toolbox is here" {
		t.Errorf("held text lost: %q", text)
	}
}

func TestParserMalformedBodyIsLiteralText(t *testing.T) {
	p := NewToolCallParser()

	text, calls := p.Feed("<tool_call>not json at all</tool_call>")
	if len(calls) != 0 {
		t.Fatalf("expected no calls, got %d", len(calls))
	}
	if text != "<tool_call>not json at all</tool_call>" {
		t.Errorf("expected literal passthrough, got %q", text)
	}

	// Valid JSON but no name is also not a call.
	text, calls = p.Feed(`<tool_call>{"arguments":{}}</tool_call>`)
	if len(calls) != 0 || !strings.Contains(text, `{"arguments":{}}`) {
		t.Errorf("expected nameless body passed through, got %q calls=%d", text, len(calls))
	}
}

func TestParserFlushRestoresUnterminatedBlock(t *testing.T) {
	p := NewToolCallParser()

	text, _ := p.Feed(`<tool_call>{"name":"echo"`)
	if text != "" {
		t.Errorf("expected no text while in block, got %q", text)
	}
	if got := p.Flush(); got != `<tool_call>{"name":"echo"` {
		t.Errorf("expected opening marker restored, got %q", got)
	}
}

func TestParserAcceptsInputOrArguments(t *testing.T) {
	p := NewToolCallParser()
	_, calls := p.Feed(`<tool_call>{"name":"a","input":{"k":1}}</tool_call>`)
	if len(calls) != 1 || string(calls[0].Input) != `{"k":1}` {
		t.Fatalf("expected input field accepted, got %+v", calls)
	}

	// Neither field present defaults to an empty object, and a missing id
	// gets generated.
	_, calls = p.Feed(`<tool_call>{"name":"b"}</tool_call>`)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if string(calls[0].Input) != "{}" {
		t.Errorf("expected empty object input, got %s", calls[0].Input)
	}
	if calls[0].ID == "" {
		t.Error("expected generated id")
	}
}

func TestParserMultipleCallsInOneDelta(t *testing.T) {
	p := NewToolCallParser()
	_, calls := p.Feed(`<tool_call>{"name":"a"}</tool_call><tool_call>{"name":"b"}</tool_call>`)
	if len(calls) != 2 || calls[0].Name != "a" || calls[1].Name != "b" {
		t.Errorf("expected both calls extracted, got %+v", calls)
	}
}
