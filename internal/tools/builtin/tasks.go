package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/aide/internal/tasks"
	"github.com/haasonsaas/aide/internal/tools"
	"github.com/haasonsaas/aide/pkg/models"
)

// TaskAddTool appends an item to the user's task list.
type TaskAddTool struct {
	manager *tasks.Manager
}

var _ tools.Tool = (*TaskAddTool)(nil)

// NewTaskAddTool creates the task_add tool over manager.
func NewTaskAddTool(manager *tasks.Manager) *TaskAddTool {
	return &TaskAddTool{manager: manager}
}

func (t *TaskAddTool) Name() string { return "task_add" }

func (t *TaskAddTool) Description() string {
	return "Add an item to the user's task list."
}

func (t *TaskAddTool) NeedsConfirmation() bool { return false }

func (t *TaskAddTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"text": {"type": "string", "minLength": 1, "description": "The task to add"}
		},
		"required": ["text"]
	}`)
}

func (t *TaskAddTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var p struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}

	task, err := t.manager.Add(p.Text)
	if err != nil {
		return &models.ToolResult{
			Success:     false,
			Error:       err.Error(),
			Observation: "failed to add task: " + err.Error(),
		}, nil
	}
	return &models.ToolResult{
		Success:     true,
		Data:        task,
		Observation: fmt.Sprintf("added task %s: %s", task.ID, task.Text),
	}, nil
}

// TaskListTool lists the user's tasks.
type TaskListTool struct {
	manager *tasks.Manager
}

var _ tools.Tool = (*TaskListTool)(nil)

// NewTaskListTool creates the task_list tool over manager.
func NewTaskListTool(manager *tasks.Manager) *TaskListTool {
	return &TaskListTool{manager: manager}
}

func (t *TaskListTool) Name() string { return "task_list" }

func (t *TaskListTool) Description() string {
	return "List all items on the user's task list."
}

func (t *TaskListTool) NeedsConfirmation() bool { return false }

func (t *TaskListTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *TaskListTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	items := t.manager.List()
	if len(items) == 0 {
		return &models.ToolResult{
			Success:     true,
			Observation: "the task list is empty",
		}, nil
	}

	var lines []string
	for i, task := range items {
		status := " "
		if task.Done {
			status = "x"
		}
		lines = append(lines, fmt.Sprintf("%d. [%s] %s", i+1, status, task.Text))
	}
	return &models.ToolResult{
		Success:     true,
		Data:        items,
		Observation: strings.Join(lines, "\n"),
	}, nil
}

// TaskClearTool wipes the task list. Destructive, so it requires user
// confirmation before running.
type TaskClearTool struct {
	manager *tasks.Manager
}

var _ tools.Tool = (*TaskClearTool)(nil)

// NewTaskClearTool creates the task_clear tool over manager.
func NewTaskClearTool(manager *tasks.Manager) *TaskClearTool {
	return &TaskClearTool{manager: manager}
}

func (t *TaskClearTool) Name() string { return "task_clear" }

func (t *TaskClearTool) Description() string {
	return "Remove every item from the user's task list. Requires confirmation."
}

func (t *TaskClearTool) NeedsConfirmation() bool { return true }

func (t *TaskClearTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *TaskClearTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	n, err := t.manager.Clear()
	if err != nil {
		return &models.ToolResult{
			Success:     false,
			Error:       err.Error(),
			Observation: "failed to clear tasks: " + err.Error(),
		}, nil
	}
	return &models.ToolResult{
		Success:     true,
		Data:        map[string]any{"removed": n},
		Observation: fmt.Sprintf("cleared %d tasks", n),
	}, nil
}
