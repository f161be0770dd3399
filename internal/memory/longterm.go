package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/haasonsaas/aide/pkg/models"
)

// schemaVersion is bumped whenever the long-term table layout changes. A
// database with a newer version than this binary understands is refused so
// an old process never corrupts a newer file.
const schemaVersion = 1

// ErrSchemaTooNew is returned when the database was written by a newer
// binary.
var ErrSchemaTooNew = errors.New("memory: database schema is newer than this binary")

// LongTermStore is the durable memory tier: a SQLite database holding
// entries with their embeddings. Embeddings are stored as little-endian
// float32 blobs; similarity is computed in Go over full scans, which is
// fine at personal-assistant scale.
type LongTermStore struct {
	db        *sql.DB
	dimension int
}

// LongTermConfig contains configuration for the long-term store.
type LongTermConfig struct {
	Path      string // Path to SQLite database file, ":memory:" for tests
	Dimension int    // Embedding dimension
}

// NewLongTermStore opens (creating if needed) the long-term database.
func NewLongTermStore(cfg LongTermConfig) (*LongTermStore, error) {
	if cfg.Path == "" {
		cfg.Path = ":memory:"
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = 1536
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite handles one writer at a time; serialize through a single conn.
	db.SetMaxOpenConns(1)

	s := &LongTermStore{db: db, dimension: cfg.Dimension}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *LongTermStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var current int
	err = s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to read schema version: %w", err)
	case current > schemaVersion:
		return fmt.Errorf("%w (have %d, understand %d)", ErrSchemaTooNew, current, schemaVersion)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			type TEXT NOT NULL,
			confidence REAL NOT NULL,
			created_at DATETIME NOT NULL,
			last_accessed_at DATETIME NOT NULL,
			access_count INTEGER NOT NULL DEFAULT 0,
			tags TEXT,
			metadata TEXT,
			embedding BLOB
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create memories table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(type)",
		"CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at)",
	}
	for _, idx := range indexes {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// Index stores entries, replacing any existing rows with the same ID.
// Missing IDs and timestamps are filled in.
func (s *LongTermStore) Index(ctx context.Context, entries []*models.MemoryEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			_ = err
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO memories
			(id, content, type, confidence, created_at, last_accessed_at, access_count, tags, metadata, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, entry := range entries {
		if entry.ID == "" {
			entry.ID = uuid.New().String()
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = now
		}
		if entry.LastAccessedAt.IsZero() {
			entry.LastAccessedAt = entry.CreatedAt
		}

		tags, err := json.Marshal(entry.Tags)
		if err != nil {
			return fmt.Errorf("failed to marshal tags: %w", err)
		}
		metadata, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}

		_, err = stmt.ExecContext(ctx,
			entry.ID,
			entry.Content,
			string(entry.Type),
			entry.Confidence,
			entry.CreatedAt,
			entry.LastAccessedAt,
			entry.AccessCount,
			string(tags),
			string(metadata),
			encodeEmbedding(entry.Embedding),
		)
		if err != nil {
			return fmt.Errorf("failed to insert entry: %w", err)
		}
	}

	return tx.Commit()
}

// Get returns one entry by ID, or nil when absent.
func (s *LongTermStore) Get(ctx context.Context, id string) (*models.MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+" FROM memories WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	entry, err := scanEntry(rows)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// All returns every entry. Callers doing vector search scan this in Go.
func (s *LongTermStore) All(ctx context.Context) ([]*models.MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+" FROM memories")
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var entries []*models.MemoryEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// VectorSearch returns up to limit entries ranked by cosine similarity to
// the query embedding.
func (s *LongTermStore) VectorSearch(ctx context.Context, queryEmbedding []float32, limit int) ([]*models.SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	entries, err := s.All(ctx)
	if err != nil {
		return nil, err
	}

	var results []*models.SearchResult
	for _, entry := range entries {
		score := CosineSimilarity(queryEmbedding, entry.Embedding)
		results = append(results, &models.SearchResult{
			Entry:       entry,
			VectorScore: score,
			Score:       score,
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// KeywordSearch returns up to limit entries whose content or tags contain
// all query terms, case-insensitively. Scoring is the fraction of query
// terms found in content (tag hits count half).
func (s *LongTermStore) KeywordSearch(ctx context.Context, query string, limit int) ([]*models.SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	terms := Tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	// Pull candidates matching any term, score them in Go.
	var conds []string
	var args []any
	for _, term := range terms {
		conds = append(conds, "(lower(content) LIKE ? OR lower(tags) LIKE ?)")
		pattern := "%" + term + "%"
		args = append(args, pattern, pattern)
	}
	q := selectColumns + " FROM memories WHERE " + strings.Join(conds, " OR ")

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var results []*models.SearchResult
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		score := keywordScore(entry, terms)
		if score <= 0 {
			continue
		}
		results = append(results, &models.SearchResult{
			Entry:        entry,
			KeywordScore: score,
			Score:        score,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// TouchAccess bumps access statistics for the given IDs.
func (s *LongTermStore) TouchAccess(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			_ = err
		}
	}()

	stmt, err := tx.PrepareContext(ctx,
		"UPDATE memories SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, at, id); err != nil {
			return fmt.Errorf("failed to touch entry %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// SetConfidence rewrites one entry's confidence.
func (s *LongTermStore) SetConfidence(ctx context.Context, id string, confidence float64) error {
	_, err := s.db.ExecContext(ctx, "UPDATE memories SET confidence = ? WHERE id = ?", confidence, id)
	return err
}

// Delete removes entries by ID.
func (s *LongTermStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			_ = err
		}
	}()

	stmt, err := tx.PrepareContext(ctx, "DELETE FROM memories WHERE id = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("failed to delete entry %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// Count returns the number of stored entries.
func (s *LongTermStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories").Scan(&count)
	return count, err
}

// Compact reclaims space after deletions.
func (s *LongTermStore) Compact(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases the database handle.
func (s *LongTermStore) Close() error {
	return s.db.Close()
}

const selectColumns = "SELECT id, content, type, confidence, created_at, last_accessed_at, access_count, tags, metadata, embedding"

func scanEntry(rows *sql.Rows) (*models.MemoryEntry, error) {
	var entry models.MemoryEntry
	var typ, tagsJSON, metadataJSON string
	var embeddingBlob []byte

	err := rows.Scan(
		&entry.ID,
		&entry.Content,
		&typ,
		&entry.Confidence,
		&entry.CreatedAt,
		&entry.LastAccessedAt,
		&entry.AccessCount,
		&tagsJSON,
		&metadataJSON,
		&embeddingBlob,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	entry.Type = models.MemoryType(typ)
	if tagsJSON != "" && tagsJSON != "null" {
		if err := json.Unmarshal([]byte(tagsJSON), &entry.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	if metadataJSON != "" && metadataJSON != "null" {
		if err := json.Unmarshal([]byte(metadataJSON), &entry.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	entry.Embedding = decodeEmbedding(embeddingBlob)
	return &entry, nil
}

// Tokenize lowercases and splits a query into search terms, dropping
// one-character fragments.
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !isWordRune(r)
	})
	var terms []string
	for _, f := range fields {
		if len(f) >= 2 {
			terms = append(terms, f)
		}
	}
	return terms
}

func isWordRune(r rune) bool {
	return r == '_' || r == '-' ||
		(r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') ||
		r >= 0x80 // keep non-ASCII (CJK etc.) intact
}

func keywordScore(entry *models.MemoryEntry, terms []string) float64 {
	content := strings.ToLower(entry.Content)
	tags := strings.ToLower(strings.Join(entry.Tags, " "))

	var hits float64
	for _, term := range terms {
		switch {
		case strings.Contains(content, term):
			hits += 1.0
		case strings.Contains(tags, term):
			hits += 0.5
		}
	}
	return hits / float64(len(terms))
}

// encodeEmbedding converts []float32 to little-endian bytes for storage.
func encodeEmbedding(embedding []float32) []byte {
	if len(embedding) == 0 {
		return nil
	}
	data := make([]byte, len(embedding)*4)
	for i, f := range embedding {
		bits := math.Float32bits(f)
		data[i*4] = byte(bits)
		data[i*4+1] = byte(bits >> 8)
		data[i*4+2] = byte(bits >> 16)
		data[i*4+3] = byte(bits >> 24)
	}
	return data
}

// decodeEmbedding converts stored bytes back to []float32.
func decodeEmbedding(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	embedding := make([]float32, len(data)/4)
	for i := range embedding {
		bits := uint32(data[i*4]) |
			uint32(data[i*4+1])<<8 |
			uint32(data[i*4+2])<<16 |
			uint32(data[i*4+3])<<24
		embedding[i] = math.Float32frombits(bits)
	}
	return embedding
}

// CosineSimilarity calculates the cosine similarity between two vectors.
// Mismatched or empty vectors score zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
