package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/aide/pkg/models"
)

// fakeTool is a scriptable Tool for registry tests.
type fakeTool struct {
	name    string
	schema  string
	confirm bool
	execute func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error)
}

func (f *fakeTool) Name() string             { return f.name }
func (f *fakeTool) Description() string      { return "test tool" }
func (f *fakeTool) Schema() json.RawMessage  { return json.RawMessage(f.schema) }
func (f *fakeTool) NeedsConfirmation() bool  { return f.confirm }
func (f *fakeTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	return f.execute(ctx, params)
}

func echoTool(name string) *fakeTool {
	return &fakeTool{
		name:   name,
		schema: `{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`,
		execute: func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
			var in struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(params, &in); err != nil {
				return nil, err
			}
			return &models.ToolResult{Success: true, Observation: "echo: " + in.Text}, nil
		},
	}
}

func TestRegistryExecute(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	reg.Register(echoTool("echo"))

	result := reg.Execute(context.Background(), models.ToolCall{
		ID:    "call-1",
		Name:  "echo",
		Input: json.RawMessage(`{"text":"hello"}`),
	})

	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.Observation != "echo: hello" {
		t.Errorf("expected echo observation, got %q", result.Observation)
	}
	if result.ToolCallID != "call-1" {
		t.Errorf("expected tool call id carried through, got %q", result.ToolCallID)
	}
	if result.Metadata.Timestamp.IsZero() {
		t.Error("expected execution timestamp")
	}
}

func TestRegistryToolNotFound(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})

	result := reg.Execute(context.Background(), models.ToolCall{Name: "missing"})
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.Error != "tool not found: missing" {
		t.Errorf("unexpected error: %q", result.Error)
	}
	if result.Observation != result.Error {
		t.Errorf("observation should mirror the error, got %q", result.Observation)
	}
}

func TestRegistryParameterLimits(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	reg.Register(echoTool("echo"))

	result := reg.Execute(context.Background(), models.ToolCall{
		Name: strings.Repeat("n", MaxToolNameLength+1),
	})
	if result.Success || !strings.Contains(result.Error, "tool name exceeds") {
		t.Errorf("expected name length rejection, got %+v", result)
	}

	big := `{"text":"` + strings.Repeat("x", MaxToolParamsSize) + `"}`
	result = reg.Execute(context.Background(), models.ToolCall{Name: "echo", Input: json.RawMessage(big)})
	if result.Success || !strings.Contains(result.Error, "tool parameters exceed") {
		t.Errorf("expected params size rejection, got %+v", result)
	}
}

func TestRegistrySchemaValidation(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	reg.Register(echoTool("echo"))

	// Missing required property.
	result := reg.Execute(context.Background(), models.ToolCall{
		Name:  "echo",
		Input: json.RawMessage(`{}`),
	})
	if result.Success {
		t.Fatal("expected validation failure")
	}
	if !strings.HasPrefix(result.Error, "invalid parameters:") {
		t.Errorf("unexpected error: %q", result.Error)
	}

	// Malformed JSON.
	result = reg.Execute(context.Background(), models.ToolCall{
		Name:  "echo",
		Input: json.RawMessage(`{{{`),
	})
	if result.Success || !strings.HasPrefix(result.Error, "invalid parameters:") {
		t.Errorf("expected decode failure, got %+v", result)
	}
}

func TestRegistryTimeout(t *testing.T) {
	reg := NewRegistry(RegistryOptions{ExecTimeout: 20 * time.Millisecond})
	reg.Register(&fakeTool{
		name: "slow",
		execute: func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	result := reg.Execute(context.Background(), models.ToolCall{Name: "slow"})
	if result.Success {
		t.Fatal("expected timeout failure")
	}
	if !strings.Contains(result.Error, "timed out after") {
		t.Errorf("unexpected error: %q", result.Error)
	}
}

func TestRegistryPanicContainment(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	reg.Register(&fakeTool{
		name: "broken",
		execute: func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
			panic("nil map write")
		},
	})

	result := reg.Execute(context.Background(), models.ToolCall{Name: "broken"})
	if result.Success {
		t.Fatal("expected failure from panicking tool")
	}
	if !strings.Contains(result.Error, "tool broken panicked") {
		t.Errorf("unexpected error: %q", result.Error)
	}
}

func TestRegistryObservationBackfill(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	reg.Register(&fakeTool{
		name: "silent",
		execute: func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
			return &models.ToolResult{Success: true}, nil
		},
	})
	reg.Register(&fakeTool{
		name: "failed",
		execute: func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
			return &models.ToolResult{Success: false, Error: "disk full"}, nil
		},
	})

	result := reg.Execute(context.Background(), models.ToolCall{Name: "silent"})
	if result.Observation != "ok" {
		t.Errorf("expected ok backfill, got %q", result.Observation)
	}

	result = reg.Execute(context.Background(), models.ToolCall{Name: "failed"})
	if result.Observation != "disk full" {
		t.Errorf("expected error backfill, got %q", result.Observation)
	}
}

func TestRegistryListAndReplace(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	reg.Register(echoTool("a"))
	reg.Register(echoTool("b"))
	reg.Register(echoTool("a")) // replaces

	if got := len(reg.List()); got != 2 {
		t.Errorf("expected 2 tools, got %d", got)
	}
	if !reg.Has("a") || !reg.Has("b") || reg.Has("c") {
		t.Error("unexpected registry membership")
	}
}
