// Package memory implements the three-tier memory system: bounded working
// memory, a durable long-term store with hybrid retrieval, and a file-based
// fallback tier for when the primary store is unavailable.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/aide/internal/memory/embeddings"
	"github.com/haasonsaas/aide/internal/observability"
	"github.com/haasonsaas/aide/pkg/models"
)

// SystemConfig configures the memory system.
type SystemConfig struct {
	// TopK is the default recall result count.
	TopK int
	// Weights for hybrid score fusion.
	Weights FuseWeights
	// Logger receives diagnostics. Nil means silent.
	Logger *observability.Logger
	// Metrics receives fallback counters. Optional.
	Metrics *observability.Metrics
}

// System is the memory facade the agent talks to. It journals every event,
// degrades to the fallback store when SQLite fails, and recovers by
// draining the fallback back into the primary once it responds again.
type System struct {
	store    *LongTermStore
	fallback *FallbackStore
	raw      *RawLog
	embedder embeddings.Provider
	cfg      SystemConfig

	mu       sync.Mutex
	degraded bool
}

// NewSystem assembles a memory system. embedder may be nil; recall then
// runs keyword-only.
func NewSystem(store *LongTermStore, fallback *FallbackStore, raw *RawLog, embedder embeddings.Provider, cfg SystemConfig) *System {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.Weights == (FuseWeights{}) {
		cfg.Weights = DefaultFuseWeights
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	return &System{
		store:    store,
		fallback: fallback,
		raw:      raw,
		embedder: embedder,
		cfg:      cfg,
	}
}

// CaptureInput names what to remember.
type CaptureInput struct {
	Content    string
	Type       models.MemoryType
	Confidence float64
	Tags       []string
	Metadata   map[string]any
}

// Capture journals and stores one memory. The journal write happens first;
// a primary store failure degrades to the fallback tier instead of losing
// the entry. Returns the stored entry.
func (s *System) Capture(ctx context.Context, in CaptureInput) (*models.MemoryEntry, error) {
	if in.Content == "" {
		return nil, fmt.Errorf("memory: empty content")
	}
	if in.Type == "" {
		in.Type = models.MemoryFact
	}
	if in.Confidence <= 0 {
		in.Confidence = 0.8
	}

	now := time.Now()
	entry := &models.MemoryEntry{
		ID:             uuid.New().String(),
		Content:        in.Content,
		Type:           in.Type,
		Confidence:     in.Confidence,
		CreatedAt:      now,
		LastAccessedAt: now,
		Tags:           in.Tags,
		Metadata:       in.Metadata,
	}

	if err := s.raw.Append(RawEvent{Kind: "capture", EntryID: entry.ID, Content: entry.Content,
		Detail: map[string]any{"type": string(entry.Type), "confidence": entry.Confidence}}); err != nil {
		return nil, err
	}

	if s.embedder != nil {
		embedding, err := s.embedder.Embed(ctx, entry.Content)
		if err != nil {
			// Store without an embedding; keyword search still finds it.
			s.cfg.Logger.Warn(ctx, "embedding failed, storing without vector", "error", err)
		} else {
			entry.Embedding = embedding
		}
	}

	if s.primaryHealthy(ctx) {
		err := s.store.Index(ctx, []*models.MemoryEntry{entry})
		if err == nil {
			return entry, nil
		}
		s.trip(ctx, "capture", err)
	}

	if err := s.fallback.Save(ctx, entry); err != nil {
		return nil, fmt.Errorf("memory: fallback save: %w", err)
	}
	return entry, nil
}

// Recall retrieves up to topK memories relevant to query using hybrid
// vector and keyword retrieval fused with relevance decay. topK <= 0 uses
// the configured default. Returned entries have their access statistics
// bumped.
func (s *System) Recall(ctx context.Context, query string, topK int) ([]*models.SearchResult, error) {
	if topK <= 0 {
		topK = s.cfg.TopK
	}

	if !s.primaryHealthy(ctx) {
		return s.fallback.Search(ctx, query, topK)
	}

	// Over-fetch both signals so fusion has candidates to reorder.
	candidates := topK * 2

	var vector []*models.SearchResult
	if s.embedder != nil {
		queryEmbedding, err := s.embedder.Embed(ctx, query)
		if err != nil {
			s.cfg.Logger.Warn(ctx, "query embedding failed, keyword-only recall", "error", err)
		} else {
			vector, err = s.store.VectorSearch(ctx, queryEmbedding, candidates)
			if err != nil {
				s.trip(ctx, "recall", err)
				return s.fallback.Search(ctx, query, topK)
			}
		}
	}

	keyword, err := s.store.KeywordSearch(ctx, query, candidates)
	if err != nil {
		s.trip(ctx, "recall", err)
		return s.fallback.Search(ctx, query, topK)
	}

	now := time.Now()
	results := Fuse(vector, keyword, s.cfg.Weights, now, topK)

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Entry.ID
	}
	if err := s.store.TouchAccess(ctx, ids, now); err != nil {
		s.cfg.Logger.Warn(ctx, "access stats update failed", "error", err)
	} else {
		for _, r := range results {
			r.Entry.AccessCount++
			r.Entry.LastAccessedAt = now
		}
	}
	return results, nil
}

// Consolidate runs one consolidation pass with the given summarizer.
func (s *System) Consolidate(ctx context.Context, summarizer Summarizer) (*ConsolidationReport, error) {
	if !s.primaryHealthy(ctx) {
		return nil, fmt.Errorf("memory: store degraded, skipping consolidation")
	}
	return NewConsolidator(s.store, s.raw, summarizer).Run(ctx)
}

// Degraded reports whether the system is running on the fallback tier.
func (s *System) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// Close closes the primary store.
func (s *System) Close() error {
	return s.store.Close()
}

// primaryHealthy returns true when the primary store is usable. A degraded
// system probes the store once per call; on recovery, fallback entries are
// drained back into SQLite.
func (s *System) primaryHealthy(ctx context.Context) bool {
	s.mu.Lock()
	degraded := s.degraded
	s.mu.Unlock()
	if !degraded {
		return true
	}

	if _, err := s.store.Count(ctx); err != nil {
		return false
	}

	entries, err := s.fallback.Drain(ctx)
	if err == nil && len(entries) > 0 {
		if err := s.store.Index(ctx, entries); err != nil {
			s.cfg.Logger.Error(ctx, "fallback drain failed", "error", err)
			for _, e := range entries {
				_ = s.fallback.Save(ctx, e)
			}
			return false
		}
		s.cfg.Logger.Info(ctx, "memory store recovered", "drained", len(entries))
	}

	s.mu.Lock()
	s.degraded = false
	s.mu.Unlock()
	return true
}

// trip switches to the fallback tier after a primary store failure.
func (s *System) trip(ctx context.Context, operation string, err error) {
	s.mu.Lock()
	already := s.degraded
	s.degraded = true
	s.mu.Unlock()

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.MemoryFallbacks.WithLabelValues(operation).Inc()
	}
	if !already {
		s.cfg.Logger.Error(ctx, "memory store failed, switching to fallback", "error", err)
	}
}
