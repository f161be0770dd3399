// Package tasks keeps the user's lightweight task list, persisted as a
// single JSON file under the data directory.
package tasks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Task is one task list item.
type Task struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	Done      bool      `json:"done"`
}

// Manager holds the task list in memory and rewrites the backing file on
// every mutation.
type Manager struct {
	mu    sync.Mutex
	path  string
	tasks []Task
}

// NewManager loads (or initializes) the task list at path.
func NewManager(path string) (*Manager, error) {
	m := &Manager{path: path}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return m, nil
	case err != nil:
		return nil, fmt.Errorf("tasks: read %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &m.tasks); err != nil {
		return nil, fmt.Errorf("tasks: parse %s: %w", path, err)
	}
	return m, nil
}

// Add appends a new task and returns it. Blank text is rejected.
func (m *Manager) Add(text string) (Task, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Task{}, fmt.Errorf("tasks: text is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	task := Task{
		ID:        uuid.New().String(),
		Text:      text,
		CreatedAt: time.Now(),
	}
	m.tasks = append(m.tasks, task)
	if err := m.flush(); err != nil {
		m.tasks = m.tasks[:len(m.tasks)-1]
		return Task{}, err
	}
	return task, nil
}

// List returns a copy of all tasks in creation order.
func (m *Manager) List() []Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Task{}, m.tasks...)
}

// Complete marks a task done by ID.
func (m *Manager) Complete(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.tasks {
		if m.tasks[i].ID == id && !m.tasks[i].Done {
			m.tasks[i].Done = true
			if err := m.flush(); err != nil {
				m.tasks[i].Done = false
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

// Clear removes every task and returns how many were removed.
func (m *Manager) Clear() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.tasks)
	old := m.tasks
	m.tasks = nil
	if err := m.flush(); err != nil {
		m.tasks = old
		return 0, err
	}
	return n, nil
}

// flush is called with the lock held.
func (m *Manager) flush() error {
	data, err := json.MarshalIndent(m.tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("tasks: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("tasks: mkdir: %w", err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("tasks: write: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("tasks: commit: %w", err)
	}
	return nil
}
