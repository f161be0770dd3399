package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/haasonsaas/aide/pkg/models"
)

func TestFallbackSaveAndSearch(t *testing.T) {
	fb, err := NewFallbackStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFallbackStore: %v", err)
	}
	ctx := context.Background()

	first := &models.MemoryEntry{Content: "prefers tabs over spaces", Confidence: 0.9, CreatedAt: time.Now().Add(-time.Hour)}
	second := &models.MemoryEntry{Content: "works at Initech", Confidence: 0.8, Tags: []string{"employer"}}
	for _, e := range []*models.MemoryEntry{first, second} {
		if err := fb.Save(ctx, e); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	results, err := fb.Search(ctx, "tabs", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Entry.Content != "prefers tabs over spaces" {
		t.Errorf("unexpected results: %+v", results)
	}
	if results[0].Score != 0.9 {
		t.Errorf("score should be the entry confidence, got %f", results[0].Score)
	}

	// Tag substring matches too.
	results, err = fb.Search(ctx, "employ", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Entry.Content != "works at Initech" {
		t.Errorf("expected tag match, got %+v", results)
	}

	// Empty query returns everything newest first.
	results, err = fb.Search(ctx, "", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 || results[0].Entry.Content != "works at Initech" {
		t.Errorf("expected newest first, got %+v", results)
	}
}

func TestFallbackSkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	fb, _ := NewFallbackStore(dir)
	ctx := context.Background()

	if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{{{"), 0o644); err != nil {
		t.Fatalf("write corrupt: %v", err)
	}
	fb.Save(ctx, &models.MemoryEntry{Content: "good entry", Confidence: 0.5})

	entries, err := fb.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected corrupt file skipped, got %d entries", len(entries))
	}
}

func TestFallbackDrain(t *testing.T) {
	dir := t.TempDir()
	fb, _ := NewFallbackStore(dir)
	ctx := context.Background()

	fb.Save(ctx, &models.MemoryEntry{Content: "one", Confidence: 0.5})
	fb.Save(ctx, &models.MemoryEntry{Content: "two", Confidence: 0.5})

	entries, err := fb.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("expected 2 drained entries, got %d", len(entries))
	}

	remaining, _ := fb.All(ctx)
	if len(remaining) != 0 {
		t.Errorf("expected directory emptied, got %d entries", len(remaining))
	}
}
