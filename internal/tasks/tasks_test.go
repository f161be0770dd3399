package tasks

import (
	"path/filepath"
	"testing"
)

func TestAddAndList(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "tasks.json"))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	task, err := m.Add("buy milk")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if task.ID == "" || task.Text != "buy milk" || task.Done {
		t.Errorf("unexpected task: %+v", task)
	}

	if _, err := m.Add("   "); err == nil {
		t.Error("expected error for blank text")
	}

	list := m.List()
	if len(list) != 1 {
		t.Fatalf("expected 1 task, got %d", len(list))
	}
}

func TestComplete(t *testing.T) {
	m, _ := NewManager(filepath.Join(t.TempDir(), "tasks.json"))
	task, _ := m.Add("write report")

	ok, err := m.Complete(task.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !ok {
		t.Fatal("expected task found")
	}
	if !m.List()[0].Done {
		t.Error("expected task marked done")
	}

	ok, err = m.Complete("missing-id")
	if err != nil {
		t.Fatalf("Complete missing: %v", err)
	}
	if ok {
		t.Error("expected false for unknown id")
	}
}

func TestClear(t *testing.T) {
	m, _ := NewManager(filepath.Join(t.TempDir(), "tasks.json"))
	m.Add("one")
	m.Add("two")

	n, err := m.Clear()
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 cleared, got %d", n)
	}
	if len(m.List()) != 0 {
		t.Error("expected empty list after clear")
	}
}

func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")

	m, _ := NewManager(path)
	task, _ := m.Add("survive restart")
	m.Complete(task.ID)

	reopened, err := NewManager(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	list := reopened.List()
	if len(list) != 1 {
		t.Fatalf("expected 1 task after reload, got %d", len(list))
	}
	if list[0].Text != "survive restart" || !list[0].Done {
		t.Errorf("state lost across restart: %+v", list[0])
	}
}
