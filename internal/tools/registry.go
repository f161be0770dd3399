// Package tools manages the agent's tool surface: registration, parameter
// validation, and bounded execution.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/aide/internal/observability"
	"github.com/haasonsaas/aide/pkg/models"
)

// Tool is one agent capability. Parameters arrive as raw JSON already
// validated against Schema.
type Tool interface {
	// Name returns the tool's unique name.
	Name() string

	// Description tells the model when to use the tool.
	Description() string

	// Schema returns the JSON Schema for the tool's parameters.
	Schema() json.RawMessage

	// NeedsConfirmation reports whether execution must be confirmed by the
	// user first.
	NeedsConfirmation() bool

	// Execute runs the tool. Implementations return a result rather than
	// an error for anything the model should see and react to.
	Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error)
}

// Parameter limits guard against runaway model output.
const (
	MaxToolNameLength = 256
	MaxToolParamsSize = 1 << 20

	// DefaultExecTimeout bounds one tool execution.
	DefaultExecTimeout = 30 * time.Second
)

// Registry manages available tools with thread-safe registration and
// lookup, and runs them with schema validation, a per-call timeout, and
// panic containment. Tool failures come back as failed results, never as
// errors: the model sees the failure and decides what to do next.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool

	execTimeout time.Duration
	logger      *observability.Logger
	metrics     *observability.Metrics

	schemaMu sync.Mutex
	schemas  map[string]*jsonschema.Schema
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	ExecTimeout time.Duration
	Logger      *observability.Logger
	Metrics     *observability.Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.ExecTimeout <= 0 {
		opts.ExecTimeout = DefaultExecTimeout
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewNopLogger()
	}
	return &Registry{
		tools:       make(map[string]Tool),
		schemas:     make(map[string]*jsonschema.Schema),
		execTimeout: opts.ExecTimeout,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}
}

// Register adds a tool, replacing any existing tool with the same name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Has reports whether a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// List returns all registered tools in registration-independent order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	return tools
}

// Execute runs one tool call end to end: lookup, parameter validation,
// timeout, panic containment. The returned result is never nil.
func (r *Registry) Execute(ctx context.Context, call models.ToolCall) *models.ToolResult {
	start := time.Now()
	result := r.execute(ctx, call)
	result.ToolCallID = call.ID
	result.Metadata = models.ToolResultMeta{
		DurationMs: time.Since(start).Milliseconds(),
		Timestamp:  start,
	}

	if r.metrics != nil {
		status := "success"
		if !result.Success {
			status = "error"
		}
		r.metrics.ToolExecutionCounter.WithLabelValues(call.Name, status).Inc()
		r.metrics.ToolExecutionDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())
	}
	return result
}

func (r *Registry) execute(ctx context.Context, call models.ToolCall) *models.ToolResult {
	if len(call.Name) > MaxToolNameLength {
		return failure(fmt.Sprintf("tool name exceeds %d characters", MaxToolNameLength))
	}
	if len(call.Input) > MaxToolParamsSize {
		return failure(fmt.Sprintf("tool parameters exceed %d bytes", MaxToolParamsSize))
	}

	tool, ok := r.Get(call.Name)
	if !ok {
		return failure("tool not found: " + call.Name)
	}

	if err := r.validateParams(tool, call.Input); err != nil {
		return failure("invalid parameters: " + err.Error())
	}

	execCtx, cancel := context.WithTimeout(ctx, r.execTimeout)
	defer cancel()

	result, err := r.runGuarded(execCtx, tool, call.Input)
	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return failure(fmt.Sprintf("tool %s timed out after %s", call.Name, r.execTimeout))
		}
		return failure(err.Error())
	}
	if result == nil {
		return failure("tool returned no result")
	}
	if result.Observation == "" {
		if result.Success {
			result.Observation = "ok"
		} else {
			result.Observation = result.Error
		}
	}
	return result
}

// runGuarded executes the tool, converting panics into errors so one bad
// tool cannot take the agent down.
func (r *Registry) runGuarded(ctx context.Context, tool Tool, params json.RawMessage) (result *models.ToolResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error(ctx, "tool panicked", "tool", tool.Name(), "panic", rec)
			result = nil
			err = fmt.Errorf("tool %s panicked: %v", tool.Name(), rec)
		}
	}()
	return tool.Execute(ctx, params)
}

func (r *Registry) validateParams(tool Tool, params json.RawMessage) error {
	raw := tool.Schema()
	if len(raw) == 0 {
		return nil
	}

	schema, err := r.compileSchema(tool.Name(), raw)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	var decoded any
	if err := json.Unmarshal(params, &decoded); err != nil {
		return fmt.Errorf("decode parameters: %w", err)
	}
	return schema.Validate(decoded)
}

func (r *Registry) compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	r.schemaMu.Lock()
	defer r.schemaMu.Unlock()

	if compiled, ok := r.schemas[name]; ok {
		return compiled, nil
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", string(raw))
	if err != nil {
		return nil, err
	}
	r.schemas[name] = compiled
	return compiled, nil
}

func failure(msg string) *models.ToolResult {
	return &models.ToolResult{
		Success:     false,
		Error:       msg,
		Observation: msg,
	}
}
