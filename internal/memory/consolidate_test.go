package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/haasonsaas/aide/pkg/models"
)

type cannedSummarizer struct {
	summary string
	calls   [][]string
}

func (c *cannedSummarizer) Summarize(ctx context.Context, contents []string) (string, error) {
	c.calls = append(c.calls, contents)
	return c.summary, nil
}

func TestConsolidateClustersSimilarEntries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entries := []*models.MemoryEntry{
		{Content: "user lives in Berlin", Type: models.MemoryFact, Confidence: 0.9, Embedding: []float32{1, 0, 0}},
		{Content: "user moved to Berlin last year", Type: models.MemoryFact, Confidence: 0.7, Embedding: []float32{0.99, 0.05, 0}},
		{Content: "user owns a bicycle", Type: models.MemoryFact, Confidence: 0.8, Embedding: []float32{0, 1, 0}},
	}
	if err := store.Index(ctx, entries); err != nil {
		t.Fatalf("Index: %v", err)
	}

	summarizer := &cannedSummarizer{summary: "The user lives in Berlin, having moved there last year."}
	report, err := NewConsolidator(store, nil, summarizer).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Clusters != 1 {
		t.Fatalf("expected 1 cluster, got %d", report.Clusters)
	}
	if report.Decayed != 2 {
		t.Errorf("expected 2 decayed sources, got %d", report.Decayed)
	}
	if len(summarizer.calls) != 1 || len(summarizer.calls[0]) != 2 {
		t.Errorf("summarizer should see the two clustered contents, got %+v", summarizer.calls)
	}

	// The summary entry carries the max source confidence and a centroid
	// embedding.
	summary, err := store.Get(ctx, report.Summaries[0])
	if err != nil {
		t.Fatalf("Get summary: %v", err)
	}
	if summary.Type != models.MemorySummary {
		t.Errorf("expected summary type, got %q", summary.Type)
	}
	if summary.Confidence != 0.9 {
		t.Errorf("expected confidence 0.9, got %f", summary.Confidence)
	}
	if len(summary.Embedding) != 3 {
		t.Errorf("expected centroid embedding, got %v", summary.Embedding)
	}
	if !strings.Contains(summary.Content, "Berlin") {
		t.Errorf("unexpected summary content: %q", summary.Content)
	}

	// Sources survive with decayed confidence.
	decayed, _ := store.Get(ctx, entries[0].ID)
	if decayed == nil {
		t.Fatal("source entry must survive consolidation")
	}
	if got := decayed.Confidence; got < 0.62 || got > 0.64 {
		t.Errorf("expected confidence 0.9*0.7=0.63, got %f", got)
	}

	// The unrelated entry is untouched.
	other, _ := store.Get(ctx, entries[2].ID)
	if other.Confidence != 0.8 {
		t.Errorf("unrelated entry decayed: %f", other.Confidence)
	}

	// A second pass re-clusters the surviving sources but never the
	// summary entry itself.
	report2, err := NewConsolidator(store, nil, summarizer).Run(ctx)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if report2.Clusters != 1 {
		t.Fatalf("expected 1 cluster on second pass, got %d", report2.Clusters)
	}
	if got := summarizer.calls[1]; len(got) != 2 {
		t.Errorf("summary entry must not join clusters, summarizer saw %v", got)
	}
}

func TestForgettable(t *testing.T) {
	tests := []struct {
		name     string
		entry    models.MemoryEntry
		expected bool
	}{
		{"low confidence, rarely accessed belief", models.MemoryEntry{Type: models.MemoryBelief, Confidence: 0.2, AccessCount: 1}, true},
		{"facts are protected", models.MemoryEntry{Type: models.MemoryFact, Confidence: 0.1, AccessCount: 0}, false},
		{"solutions are protected", models.MemoryEntry{Type: models.MemorySolution, Confidence: 0.1, AccessCount: 0}, false},
		{"confidence at threshold survives", models.MemoryEntry{Type: models.MemoryBelief, Confidence: 0.3, AccessCount: 0}, false},
		{"frequently accessed survives", models.MemoryEntry{Type: models.MemoryBelief, Confidence: 0.1, AccessCount: 2}, false},
		{"event below both thresholds", models.MemoryEntry{Type: models.MemoryEvent, Confidence: 0.1, AccessCount: 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Forgettable(&tt.entry); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestConsolidateForgetsStaleEntries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entries := []*models.MemoryEntry{
		{Content: "weak belief", Type: models.MemoryBelief, Confidence: 0.1, AccessCount: 0},
		{Content: "protected fact", Type: models.MemoryFact, Confidence: 0.1, AccessCount: 0},
	}
	if err := store.Index(ctx, entries); err != nil {
		t.Fatalf("Index: %v", err)
	}

	report, err := NewConsolidator(store, nil, nil).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Forgotten != 1 {
		t.Errorf("expected 1 forgotten, got %d", report.Forgotten)
	}

	all, _ := store.All(ctx)
	if len(all) != 1 || all[0].Content != "protected fact" {
		t.Errorf("expected only the fact to survive, got %+v", all)
	}
}

func TestConsolidateWithoutSummarizerJoinsContents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entries := []*models.MemoryEntry{
		{Content: "alpha", Type: models.MemoryFact, Confidence: 0.9, Embedding: []float32{1, 0, 0}},
		{Content: "beta", Type: models.MemoryFact, Confidence: 0.9, Embedding: []float32{1, 0.01, 0}},
	}
	store.Index(ctx, entries)

	report, err := NewConsolidator(store, nil, nil).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Clusters != 1 {
		t.Fatalf("expected 1 cluster, got %d", report.Clusters)
	}
	summary, _ := store.Get(ctx, report.Summaries[0])
	if summary.Content != "alpha; beta" {
		t.Errorf("expected joined contents, got %q", summary.Content)
	}
}

func TestSharedTags(t *testing.T) {
	cluster := []*models.MemoryEntry{
		{Tags: []string{"city", "home"}},
		{Tags: []string{"city", "travel"}},
	}
	got := sharedTags(cluster)
	if len(got) != 1 || got[0] != "city" {
		t.Errorf("expected shared tag city, got %v", got)
	}

	// Disjoint tags fall back to the seed's tags.
	disjoint := []*models.MemoryEntry{
		{Tags: []string{"a"}},
		{Tags: []string{"b"}},
	}
	got = sharedTags(disjoint)
	if len(got) != 1 || got[0] != "a" {
		t.Errorf("expected seed tags fallback, got %v", got)
	}
}
