package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/aide/pkg/models"
)

// FallbackStore is the degraded memory tier used when the SQLite store is
// unavailable: one JSON file per entry, substring search, no embeddings.
// Capture keeps working so nothing is lost while the primary store is down.
type FallbackStore struct {
	dir string
}

// NewFallbackStore creates the fallback directory if needed.
func NewFallbackStore(dir string) (*FallbackStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("memory: create fallback dir: %w", err)
	}
	return &FallbackStore{dir: dir}, nil
}

// Save writes one entry as a JSON file named by its ID.
func (f *FallbackStore) Save(ctx context.Context, entry *models.MemoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.LastAccessedAt.IsZero() {
		entry.LastAccessedAt = entry.CreatedAt
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("memory: marshal fallback entry: %w", err)
	}

	path := filepath.Join(f.dir, entry.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("memory: write fallback entry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("memory: commit fallback entry: %w", err)
	}
	return nil
}

// Search returns entries whose content or tags contain the query,
// case-insensitively, newest first. Corrupt files are skipped.
func (f *FallbackStore) Search(ctx context.Context, query string, limit int) ([]*models.SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	needle := strings.ToLower(strings.TrimSpace(query))

	entries, err := f.All(ctx)
	if err != nil {
		return nil, err
	}

	var results []*models.SearchResult
	for _, entry := range entries {
		if needle != "" && !matchesSubstring(entry, needle) {
			continue
		}
		results = append(results, &models.SearchResult{Entry: entry, Score: entry.Confidence})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Entry.CreatedAt.After(results[j].Entry.CreatedAt)
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// All loads every readable entry in the fallback directory.
func (f *FallbackStore) All(ctx context.Context) ([]*models.MemoryEntry, error) {
	dirents, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("memory: read fallback dir: %w", err)
	}

	var entries []*models.MemoryEntry
	for _, de := range dirents {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(f.dir, de.Name()))
		if err != nil {
			continue
		}
		var entry models.MemoryEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

// Drain returns all fallback entries and removes their files. Used to
// reabsorb entries into the primary store once it recovers.
func (f *FallbackStore) Drain(ctx context.Context) ([]*models.MemoryEntry, error) {
	entries, err := f.All(ctx)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		os.Remove(filepath.Join(f.dir, entry.ID+".json"))
	}
	return entries, nil
}

func matchesSubstring(entry *models.MemoryEntry, needle string) bool {
	if strings.Contains(strings.ToLower(entry.Content), needle) {
		return true
	}
	for _, tag := range entry.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}
