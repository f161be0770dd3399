package agent

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/aide/internal/memory"
	"github.com/haasonsaas/aide/internal/retry"
	"github.com/haasonsaas/aide/internal/sessions"
	"github.com/haasonsaas/aide/internal/tools"
	"github.com/haasonsaas/aide/pkg/models"
)

// scriptedProvider replays canned responses, one per Complete call. The
// last script repeats once the queue runs out.
type scriptedProvider struct {
	mu       sync.Mutex
	scripts  [][]*CompletionChunk
	requests []*CompletionRequest
	err      error
}

func (p *scriptedProvider) Name() string        { return "scripted" }
func (p *scriptedProvider) SupportsTools() bool { return true }

func (p *scriptedProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}

	var script []*CompletionChunk
	if len(p.scripts) > 0 {
		script = p.scripts[0]
		if len(p.scripts) > 1 {
			p.scripts = p.scripts[1:]
		}
	}

	ch := make(chan *CompletionChunk, len(script)+1)
	for _, c := range script {
		ch <- c
	}
	ch <- &CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func textChunks(parts ...string) []*CompletionChunk {
	out := make([]*CompletionChunk, len(parts))
	for i, t := range parts {
		out[i] = &CompletionChunk{Text: t}
	}
	return out
}

func toolChunk(id, name, input string) *CompletionChunk {
	return &CompletionChunk{ToolCall: &models.ToolCall{ID: id, Name: name, Input: json.RawMessage(input)}}
}

func newTestSupervisor(t *testing.T, provider Provider, registry *tools.Registry) (*Supervisor, *sessions.Store) {
	t.Helper()
	dir := t.TempDir()

	store, err := sessions.NewStore(filepath.Join(dir, "sessions"), sessions.Options{})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	ltStore, err := memory.NewLongTermStore(memory.LongTermConfig{Path: ":memory:", Dimension: 3})
	if err != nil {
		t.Fatalf("NewLongTermStore: %v", err)
	}
	t.Cleanup(func() { ltStore.Close() })
	fb, err := memory.NewFallbackStore(filepath.Join(dir, "fallback"))
	if err != nil {
		t.Fatalf("NewFallbackStore: %v", err)
	}
	mem := memory.NewSystem(ltStore, fb, memory.NewRawLog(filepath.Join(dir, "raw.jsonl")), nil, memory.SystemConfig{})

	if registry == nil {
		registry = tools.NewRegistry(tools.RegistryOptions{})
	}

	opts := SupervisorOptions{
		Model: "test-model",
		Retry: retry.Config{MaxAttempts: 1, InitialDelay: time.Millisecond},
	}
	return NewSupervisor(provider, registry, mem, store, nil, opts), store
}

func TestHandleTextTurn(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]*CompletionChunk{
		textChunks("Hello ", "there."),
	}}
	sup, store := newTestSupervisor(t, provider, nil)

	var deltas []string
	reply, err := sup.Handle(context.Background(), "agent:aide:console:local", "hi", func(d string) {
		deltas = append(deltas, d)
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if reply != "Hello there." {
		t.Errorf("unexpected reply: %q", reply)
	}
	if strings.Join(deltas, "") != "Hello there." {
		t.Errorf("unexpected deltas: %v", deltas)
	}

	history, err := store.History(context.Background(), "agent:aide:console:local", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected user and assistant messages, got %d", len(history))
	}
	if history[0].Role != models.RoleUser || history[0].Content != "hi" {
		t.Errorf("unexpected user message: %+v", history[0])
	}
	if history[1].Role != models.RoleAssistant || history[1].Content != "Hello there." {
		t.Errorf("unexpected assistant message: %+v", history[1])
	}
}

func TestHandleToolRoundTrip(t *testing.T) {
	registry := tools.NewRegistry(tools.RegistryOptions{})
	registry.Register(&staticTool{name: "clock", observation: "it is noon"})

	provider := &scriptedProvider{scripts: [][]*CompletionChunk{
		{toolChunk("c1", "clock", `{}`)},
		textChunks("It is noon."),
	}}
	sup, store := newTestSupervisor(t, provider, registry)

	reply, err := sup.Handle(context.Background(), "agent:aide:console:local", "what time is it", nil)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if reply != "It is noon." {
		t.Errorf("unexpected reply: %q", reply)
	}
	if provider.calls() != 2 {
		t.Errorf("expected 2 model calls, got %d", provider.calls())
	}

	// The second model call must carry the tool observation.
	second := provider.requests[1]
	var sawResult bool
	for _, m := range second.Messages {
		for _, r := range m.ToolResults {
			if r.Observation == "it is noon" {
				sawResult = true
			}
		}
	}
	if !sawResult {
		t.Error("tool observation missing from followup model call")
	}

	history, _ := store.History(context.Background(), "agent:aide:console:local", 10)
	var toolMsgs int
	for _, m := range history {
		if m.Role == models.RoleTool {
			toolMsgs++
		}
	}
	if toolMsgs != 1 {
		t.Errorf("expected 1 tool message in transcript, got %d", toolMsgs)
	}
}

func TestHandleConfirmationFlow(t *testing.T) {
	registry := tools.NewRegistry(tools.RegistryOptions{})
	guarded := &staticTool{name: "wipe", observation: "wiped", confirm: true}
	registry.Register(guarded)

	provider := &scriptedProvider{scripts: [][]*CompletionChunk{
		{toolChunk("c1", "wipe", `{}`)},
	}}
	sup, _ := newTestSupervisor(t, provider, registry)
	ctx := context.Background()

	notice, err := sup.Handle(ctx, "agent:aide:console:local", "wipe everything", nil)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if notice != `wipe wants to run. Reply "yes" to proceed or "no" to cancel.` {
		t.Errorf("unexpected notice: %q", notice)
	}
	if guarded.executions() != 0 {
		t.Fatal("guarded tool ran without confirmation")
	}
	callsBefore := provider.calls()

	reply, err := sup.Handle(ctx, "agent:aide:console:local", "yes", nil)
	if err != nil {
		t.Fatalf("Handle(yes): %v", err)
	}
	if guarded.executions() != 1 {
		t.Errorf("expected 1 execution after confirmation, got %d", guarded.executions())
	}
	// Confirmation resolves from the pending call alone; the tool output is
	// the reply and the model is never consulted.
	if reply != "wiped" {
		t.Errorf("unexpected reply: %q", reply)
	}
	if provider.calls() != callsBefore {
		t.Errorf("confirmation must not trigger a model call, got %d extra",
			provider.calls()-callsBefore)
	}
}

func TestHandleConfirmationCancel(t *testing.T) {
	registry := tools.NewRegistry(tools.RegistryOptions{})
	guarded := &staticTool{name: "wipe", observation: "wiped", confirm: true}
	registry.Register(guarded)

	provider := &scriptedProvider{scripts: [][]*CompletionChunk{
		{toolChunk("c1", "wipe", `{}`)},
	}}
	sup, _ := newTestSupervisor(t, provider, registry)
	ctx := context.Background()

	if _, err := sup.Handle(ctx, "agent:aide:console:local", "wipe everything", nil); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	callsBefore := provider.calls()

	reply, err := sup.Handle(ctx, "agent:aide:console:local", "no", nil)
	if err != nil {
		t.Fatalf("Handle(no): %v", err)
	}
	if reply != "Cancelled wipe." {
		t.Errorf("unexpected reply: %q", reply)
	}
	if guarded.executions() != 0 {
		t.Error("tool ran despite cancellation")
	}
	if provider.calls() != callsBefore {
		t.Error("cancellation must not trigger a model call")
	}
}

func TestHandleStepCap(t *testing.T) {
	registry := tools.NewRegistry(tools.RegistryOptions{})
	registry.Register(&staticTool{name: "loop", observation: "again"})

	// Every model call asks for another tool run.
	provider := &scriptedProvider{scripts: [][]*CompletionChunk{
		{toolChunk("", "loop", `{}`)},
	}}
	sup, _ := newTestSupervisor(t, provider, registry)

	reply, err := sup.Handle(context.Background(), "agent:aide:console:local", "go", nil)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.Contains(reply, "too many tool steps") {
		t.Errorf("expected step cap notice, got %q", reply)
	}
	if provider.calls() != DefaultMaxSteps {
		t.Errorf("expected %d model calls, got %d", DefaultMaxSteps, provider.calls())
	}
}

func TestHandleProviderError(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("upstream down")}
	sup, store := newTestSupervisor(t, provider, nil)

	_, err := sup.Handle(context.Background(), "agent:aide:console:local", "hi", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "model call failed") {
		t.Errorf("unexpected error: %v", err)
	}

	// The transcript still records an apology so the session is coherent.
	history, _ := store.History(context.Background(), "agent:aide:console:local", 10)
	last := history[len(history)-1]
	if last.Role != models.RoleAssistant || !strings.Contains(last.Content, "internal error") {
		t.Errorf("expected error notice in transcript, got %+v", last)
	}
}

func TestHandleInvalidSessionKey(t *testing.T) {
	sup, _ := newTestSupervisor(t, &scriptedProvider{}, nil)

	if _, err := sup.Handle(context.Background(), "not a key", "hi", nil); err == nil {
		t.Fatal("expected error for invalid session key")
	}
}

// staticTool returns a fixed observation and counts executions.
type staticTool struct {
	name        string
	observation string
	confirm     bool

	mu   sync.Mutex
	runs int
}

func (s *staticTool) Name() string            { return s.name }
func (s *staticTool) Description() string     { return "static test tool" }
func (s *staticTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (s *staticTool) NeedsConfirmation() bool { return s.confirm }

func (s *staticTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	s.mu.Lock()
	s.runs++
	s.mu.Unlock()
	return &models.ToolResult{Success: true, Observation: s.observation}, nil
}

func (s *staticTool) executions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}
