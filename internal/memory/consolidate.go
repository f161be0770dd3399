package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/aide/pkg/models"
)

// Summarizer condenses a cluster of related memories into one line. The
// agent's model adapter satisfies this; tests use a canned implementation.
type Summarizer interface {
	Summarize(ctx context.Context, contents []string) (string, error)
}

const (
	// clusterThreshold is the minimum cosine similarity for two entries to
	// consolidate into one summary.
	clusterThreshold = 0.85
	// decayFactor is applied to a source entry's confidence after its
	// content has been absorbed into a summary.
	decayFactor = 0.7
	// forgetConfidence and forgetAccess bound the forgetting rule: entries
	// below both thresholds are deleted unless their type is protected.
	forgetConfidence = 0.3
	forgetAccess     = 2
)

// ConsolidationReport describes what one consolidation pass did.
type ConsolidationReport struct {
	Clusters  int
	Summaries []string
	Decayed   int
	Forgotten int
}

// Consolidator periodically merges near-duplicate memories into summaries
// and forgets entries that never proved useful.
type Consolidator struct {
	store      *LongTermStore
	raw        *RawLog
	summarizer Summarizer
}

// NewConsolidator creates a consolidator. summarizer may be nil, in which
// case cluster contents are joined verbatim.
func NewConsolidator(store *LongTermStore, raw *RawLog, summarizer Summarizer) *Consolidator {
	return &Consolidator{store: store, raw: raw, summarizer: summarizer}
}

// Run performs one consolidation pass: cluster similar entries, write one
// summary per cluster, decay the sources, then apply the forgetting rule.
func (c *Consolidator) Run(ctx context.Context) (*ConsolidationReport, error) {
	entries, err := c.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("memory: load entries for consolidation: %w", err)
	}

	report := &ConsolidationReport{}

	clusters := clusterBySimilarity(entries, clusterThreshold)
	for _, cluster := range clusters {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		summary, err := c.summarizeCluster(ctx, cluster)
		if err != nil {
			return report, err
		}
		if err := c.store.Index(ctx, []*models.MemoryEntry{summary}); err != nil {
			return report, fmt.Errorf("memory: store summary: %w", err)
		}
		report.Clusters++
		report.Summaries = append(report.Summaries, summary.ID)
		c.logEvent(RawEvent{Kind: "consolidate", EntryID: summary.ID, Content: summary.Content,
			Detail: clusterIDs(cluster)})

		// Sources stay around with reduced confidence; the forgetting rule
		// reaps them once they stop being accessed.
		for _, src := range cluster {
			decayed := src.Confidence * decayFactor
			if err := c.store.SetConfidence(ctx, src.ID, decayed); err != nil {
				return report, fmt.Errorf("memory: decay entry %s: %w", src.ID, err)
			}
			src.Confidence = decayed
			report.Decayed++
			c.logEvent(RawEvent{Kind: "decay", EntryID: src.ID})
		}
	}

	forgotten, err := c.forget(ctx)
	if err != nil {
		return report, err
	}
	report.Forgotten = forgotten
	return report, nil
}

// forget deletes entries that are low-confidence, rarely accessed, and not
// of a protected type. Facts and solutions are never forgotten.
func (c *Consolidator) forget(ctx context.Context) (int, error) {
	entries, err := c.store.All(ctx)
	if err != nil {
		return 0, err
	}

	var doomed []string
	for _, entry := range entries {
		if !Forgettable(entry) {
			continue
		}
		doomed = append(doomed, entry.ID)
		c.logEvent(RawEvent{Kind: "forget", EntryID: entry.ID, Content: entry.Content})
	}
	if len(doomed) == 0 {
		return 0, nil
	}
	if err := c.store.Delete(ctx, doomed); err != nil {
		return 0, fmt.Errorf("memory: forget entries: %w", err)
	}
	return len(doomed), nil
}

// Forgettable reports whether the forgetting rule applies to an entry.
func Forgettable(entry *models.MemoryEntry) bool {
	if entry.Type == models.MemoryFact || entry.Type == models.MemorySolution {
		return false
	}
	return entry.Confidence < forgetConfidence && entry.AccessCount < forgetAccess
}

func (c *Consolidator) summarizeCluster(ctx context.Context, cluster []*models.MemoryEntry) (*models.MemoryEntry, error) {
	contents := make([]string, len(cluster))
	for i, e := range cluster {
		contents[i] = e.Content
	}

	var content string
	if c.summarizer != nil {
		summarized, err := c.summarizer.Summarize(ctx, contents)
		if err != nil {
			return nil, fmt.Errorf("memory: summarize cluster: %w", err)
		}
		content = strings.TrimSpace(summarized)
	}
	if content == "" {
		content = strings.Join(contents, "; ")
	}

	now := time.Now()
	return &models.MemoryEntry{
		ID:             uuid.New().String(),
		Content:        content,
		Type:           models.MemorySummary,
		Confidence:     maxConfidence(cluster),
		CreatedAt:      now,
		LastAccessedAt: now,
		Tags:           sharedTags(cluster),
		Embedding:      centroid(cluster),
		Metadata:       map[string]any{"source_ids": clusterIDs(cluster)},
	}, nil
}

func (c *Consolidator) logEvent(event RawEvent) {
	if c.raw == nil {
		return
	}
	_ = c.raw.Append(event)
}

// clusterBySimilarity greedily groups entries whose embeddings are within
// threshold of a cluster seed. Summaries and entries without embeddings
// are left alone. Only clusters of two or more are returned.
func clusterBySimilarity(entries []*models.MemoryEntry, threshold float64) [][]*models.MemoryEntry {
	var clusters [][]*models.MemoryEntry
	used := make(map[string]bool, len(entries))

	for i, seed := range entries {
		if used[seed.ID] || seed.Type == models.MemorySummary || len(seed.Embedding) == 0 {
			continue
		}
		cluster := []*models.MemoryEntry{seed}
		for _, other := range entries[i+1:] {
			if used[other.ID] || other.Type == models.MemorySummary || len(other.Embedding) == 0 {
				continue
			}
			if CosineSimilarity(seed.Embedding, other.Embedding) >= threshold {
				cluster = append(cluster, other)
				used[other.ID] = true
			}
		}
		if len(cluster) < 2 {
			continue
		}
		used[seed.ID] = true
		clusters = append(clusters, cluster)
	}
	return clusters
}

// sharedTags returns tags carried by more than one cluster member, falling
// back to the seed's tags for two-entry clusters with disjoint tags.
func sharedTags(cluster []*models.MemoryEntry) []string {
	counts := map[string]int{}
	var order []string
	for _, e := range cluster {
		seen := map[string]bool{}
		for _, tag := range e.Tags {
			if seen[tag] {
				continue
			}
			seen[tag] = true
			if counts[tag] == 0 {
				order = append(order, tag)
			}
			counts[tag]++
		}
	}
	var shared []string
	for _, tag := range order {
		if counts[tag] >= 2 {
			shared = append(shared, tag)
		}
	}
	if len(shared) == 0 {
		return append([]string{}, cluster[0].Tags...)
	}
	return shared
}

func clusterIDs(cluster []*models.MemoryEntry) []string {
	ids := make([]string, len(cluster))
	for i, e := range cluster {
		ids[i] = e.ID
	}
	return ids
}

func maxConfidence(cluster []*models.MemoryEntry) float64 {
	best := 0.0
	for _, e := range cluster {
		if e.Confidence > best {
			best = e.Confidence
		}
	}
	return best
}

func centroid(cluster []*models.MemoryEntry) []float32 {
	if len(cluster) == 0 || len(cluster[0].Embedding) == 0 {
		return nil
	}
	dim := len(cluster[0].Embedding)
	sum := make([]float64, dim)
	n := 0
	for _, e := range cluster {
		if len(e.Embedding) != dim {
			continue
		}
		for i, v := range e.Embedding {
			sum[i] += float64(v)
		}
		n++
	}
	if n == 0 {
		return nil
	}
	out := make([]float32, dim)
	for i, v := range sum {
		out[i] = float32(v / float64(n))
	}
	return out
}
