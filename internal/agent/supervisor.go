// Package agent runs the supervisor loop: recall, model call, tool
// execution, and confirmation gating, all serialized per session.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/aide/internal/memory"
	"github.com/haasonsaas/aide/internal/observability"
	"github.com/haasonsaas/aide/internal/retry"
	"github.com/haasonsaas/aide/internal/sessions"
	"github.com/haasonsaas/aide/internal/tools"
	"github.com/haasonsaas/aide/pkg/models"
)

// Termination reasons recorded per agent turn.
const (
	TerminationText       = "text"
	TerminationNeedsInput = "needs_input"
	TerminationStepCap    = "step_cap"
	TerminationCancelled  = "cancelled"
	TerminationError      = "error"
)

// DefaultMaxSteps bounds the tool-calling loop within one turn.
const DefaultMaxSteps = 10

// DefaultLLMTimeout bounds one model call including stream drain.
const DefaultLLMTimeout = 60 * time.Second

// SupervisorOptions configures the agent loop.
type SupervisorOptions struct {
	Model        string
	SystemPrompt string
	MaxSteps     int
	LLMTimeout   time.Duration
	Retry        retry.Config
	TopK         int
	ConfirmTTL   time.Duration
	Logger       *observability.Logger
	Metrics      *observability.Metrics
}

// StreamFunc receives assistant text deltas as they arrive. May be nil.
type StreamFunc func(delta string)

// Supervisor is the agent core. One Handle call is one user turn: recall
// relevant memories, loop the model against the tool registry until it
// produces text, and persist the exchange. Turns on the same session key
// are serialized; different sessions run concurrently.
type Supervisor struct {
	provider Provider
	tools    *tools.Registry
	memory   *memory.System
	sessions *sessions.Store
	builder  *ContextBuilder
	gate     *ConfirmationGate
	locker   *sessions.Locker
	opts     SupervisorOptions
}

// NewSupervisor assembles a supervisor. The provider is wrapped in the
// prompted tool protocol when it lacks native tool support.
func NewSupervisor(provider Provider, registry *tools.Registry, mem *memory.System, store *sessions.Store, working *memory.WorkingMemory, opts SupervisorOptions) *Supervisor {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.LLMTimeout <= 0 {
		opts.LLMTimeout = DefaultLLMTimeout
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewNopLogger()
	}
	if working == nil {
		working = memory.NewWorkingMemory(0, 0)
	}
	return &Supervisor{
		provider: NewPromptedProvider(provider),
		tools:    registry,
		memory:   mem,
		sessions: store,
		builder:  NewContextBuilder(working, opts.SystemPrompt),
		gate:     NewConfirmationGate(opts.ConfirmTTL),
		locker:   sessions.NewLocker(),
		opts:     opts,
	}
}

// Handle processes one user message and returns the assistant's reply.
// onDelta, when non-nil, receives streamed text as the model produces it.
func (s *Supervisor) Handle(ctx context.Context, rawKey, text string, onDelta StreamFunc) (string, error) {
	canonical, err := sessions.Normalize(rawKey)
	if err != nil {
		return "", err
	}

	unlock := s.locker.Lock(canonical)
	defer unlock()

	ctx = context.WithValue(ctx, observability.SessionKeyKey, canonical)

	session, err := s.sessions.GetOrCreate(ctx, canonical)
	if err != nil {
		return "", err
	}

	session.Append(models.Message{Role: models.RoleUser, Content: text})
	convo := s.builder.Conversation(session.Messages)

	// A pending confirmation intercepts the turn before any model call.
	// Both decisions resolve directly; the model is not consulted.
	if pending, ok := s.gate.Take(canonical); ok {
		switch Interpret(text) {
		case DecisionConfirm:
			result := s.tools.Execute(ctx, pending.Call)
			session.Append(models.Message{Role: models.RoleTool, Content: result.Observation,
				Metadata: map[string]any{"tool": pending.Call.Name, "success": result.Success}})
			reply := strings.TrimSpace(result.Observation)
			if reply == "" {
				reply = fmt.Sprintf("Ran %s.", pending.Call.Name)
			}
			session.Append(models.Message{Role: models.RoleAssistant, Content: reply})
			s.finish(ctx, session, TerminationText)
			if onDelta != nil {
				onDelta(reply)
			}
			return reply, nil
		case DecisionCancel:
			reply := fmt.Sprintf("Cancelled %s.", pending.Call.Name)
			session.Append(models.Message{Role: models.RoleAssistant, Content: reply})
			s.finish(ctx, session, TerminationText)
			if onDelta != nil {
				onDelta(reply)
			}
			return reply, nil
		default:
			// Not a decision; the pending call is dropped and the message
			// is handled as a fresh turn.
		}
	}

	memories, err := s.memory.Recall(ctx, text, s.opts.TopK)
	if err != nil {
		s.opts.Logger.Warn(ctx, "memory recall failed", "error", err)
	}
	system := s.builder.System(memories)

	reply, reason, err := s.loop(ctx, canonical, session, system, convo, onDelta)
	s.finish(ctx, session, reason)
	return reply, err
}

// loop is the tool-calling loop: call the model, run requested tools, feed
// observations back, until the model answers in text or a bound trips.
func (s *Supervisor) loop(ctx context.Context, sessionKey string, session *models.Session, system string, convo []CompletionMessage, onDelta StreamFunc) (string, string, error) {
	specs := s.toolSpecs()

	for step := 0; step < s.opts.MaxSteps; step++ {
		text, calls, err := s.complete(ctx, system, convo, specs, onDelta)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return "", TerminationCancelled, err
			}
			session.Append(models.Message{Role: models.RoleAssistant,
				Content: "I hit an internal error and could not finish this request."})
			return "", TerminationError, err
		}

		if text != "" {
			session.Append(models.Message{Role: models.RoleAssistant, Content: text})
		}
		if len(calls) == 0 {
			return text, TerminationText, nil
		}

		convo = append(convo, CompletionMessage{Role: "assistant", Content: text, ToolCalls: calls})

		for _, call := range calls {
			if tool, ok := s.tools.Get(call.Name); ok && tool.NeedsConfirmation() {
				s.gate.Request(sessionKey, call)
				notice := fmt.Sprintf("%s wants to run. Reply \"yes\" to proceed or \"no\" to cancel.", call.Name)
				session.Append(models.Message{Role: models.RoleAssistant, Content: notice,
					Metadata: map[string]any{"awaiting_confirmation": call.Name}})
				if onDelta != nil {
					onDelta(notice)
				}
				return notice, TerminationNeedsInput, nil
			}

			result := s.tools.Execute(ctx, call)
			session.Append(models.Message{Role: models.RoleTool, Content: result.Observation,
				Metadata: map[string]any{"tool": call.Name, "success": result.Success}})
			convo = append(convo, CompletionMessage{Role: "tool", ToolResults: []models.ToolResult{*result}})
		}
	}

	notice := "I stopped before finishing: too many tool steps in one turn. Tell me how to proceed."
	session.Append(models.Message{Role: models.RoleAssistant, Content: notice})
	if onDelta != nil {
		onDelta(notice)
	}
	return notice, TerminationStepCap, nil
}

// complete performs one model call. Stream creation is retried with
// backoff; once deltas have been streamed to the caller a mid-stream
// failure is surfaced rather than replayed.
func (s *Supervisor) complete(ctx context.Context, system string, convo []CompletionMessage, specs []ToolSpec, onDelta StreamFunc) (string, []models.ToolCall, error) {
	req := &CompletionRequest{
		Model:    s.opts.Model,
		System:   system,
		Messages: convo,
		Tools:    specs,
	}

	llmCtx, cancel := context.WithTimeout(ctx, s.opts.LLMTimeout)
	defer cancel()

	start := time.Now()

	var chunks <-chan *CompletionChunk
	result := retry.Do(llmCtx, s.opts.Retry, func() error {
		var err error
		chunks, err = s.provider.Complete(llmCtx, req)
		return err
	})
	if result.Err != nil {
		s.countLLM("error")
		return "", nil, fmt.Errorf("agent: model call failed after %d attempts: %w", result.Attempts, result.Err)
	}

	var sb strings.Builder
	var calls []models.ToolCall
	for chunk := range chunks {
		if chunk.Error != nil {
			s.countLLM("error")
			return "", nil, chunk.Error
		}
		if chunk.Text != "" {
			sb.WriteString(chunk.Text)
			if onDelta != nil {
				onDelta(chunk.Text)
			}
		}
		if chunk.ToolCall != nil {
			calls = append(calls, *chunk.ToolCall)
		}
		if chunk.Done {
			break
		}
	}

	if s.opts.Metrics != nil {
		s.opts.Metrics.LLMRequestDuration.WithLabelValues(s.provider.Name(), s.opts.Model).Observe(time.Since(start).Seconds())
	}
	s.countLLM("success")
	return sb.String(), calls, nil
}

func (s *Supervisor) toolSpecs() []ToolSpec {
	list := s.tools.List()
	specs := make([]ToolSpec, 0, len(list))
	for _, t := range list {
		specs = append(specs, ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      t.Schema(),
		})
	}
	return specs
}

// finish persists the session and records the termination reason.
func (s *Supervisor) finish(ctx context.Context, session *models.Session, reason string) {
	if err := s.sessions.Save(ctx, session); err != nil {
		s.opts.Logger.Error(ctx, "session save failed", "error", err, "session_key", session.Key)
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.AgentTerminations.WithLabelValues(reason).Inc()
	}
}

func (s *Supervisor) countLLM(status string) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.LLMRequestCounter.WithLabelValues(s.provider.Name(), s.opts.Model, status).Inc()
	}
}

// Summarize satisfies the memory consolidation contract using the same
// model that powers conversations.
func (s *Supervisor) Summarize(ctx context.Context, contents []string) (string, error) {
	prompt := "Condense these related notes into one standalone sentence that preserves every fact:\n"
	for _, c := range contents {
		prompt += "- " + c + "\n"
	}

	text, _, err := s.complete(ctx, "You compress notes. Reply with the summary sentence only.",
		[]CompletionMessage{{Role: "user", Content: prompt}}, nil, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
