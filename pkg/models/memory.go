package models

import "time"

// MemoryType classifies a long-term memory entry.
type MemoryType string

const (
	MemoryFact             MemoryType = "fact"
	MemoryBelief           MemoryType = "belief"
	MemoryEvent            MemoryType = "event"
	MemorySolution         MemoryType = "solution"
	MemorySummary          MemoryType = "summary"
	MemoryExecutionPattern MemoryType = "execution_pattern"
)

// MemoryEntry is a long-term fact or belief held by the memory system.
type MemoryEntry struct {
	ID             string         `json:"id"`
	Content        string         `json:"content"`
	Type           MemoryType     `json:"type"`
	Confidence     float64        `json:"confidence"` // 0..1
	CreatedAt      time.Time      `json:"created_at"`
	LastAccessedAt time.Time      `json:"last_accessed_at"`
	AccessCount    int            `json:"access_count"`
	Tags           []string       `json:"tags,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Embedding      []float32      `json:"embedding,omitempty"`
}

// HasTag reports whether the entry carries the given tag.
func (e *MemoryEntry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// SearchResult pairs a memory entry with its retrieval score.
type SearchResult struct {
	Entry *MemoryEntry `json:"entry"`
	Score float64      `json:"score"`

	// Score components, kept for diagnostics and tests.
	VectorScore  float64 `json:"vector_score,omitempty"`
	KeywordScore float64 `json:"keyword_score,omitempty"`
	RIFScore     float64 `json:"rif_score,omitempty"`
}
