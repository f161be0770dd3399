// Package sessions persists per-peer conversation transcripts.
//
// Layout under the sessions directory:
//
//	sessions.jsonl           compact index, one session record per line
//	transcripts/<key>.jsonl  append-only full transcript per session
//	archive/<key>.jsonl      transcripts of archived or deleted sessions
package sessions

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/aide/internal/observability"
	"github.com/haasonsaas/aide/pkg/models"
)

const (
	indexFile      = "sessions.jsonl"
	transcriptsDir = "transcripts"
	archiveDir     = "archive"

	// workingSetDefault bounds how many transcript lines are loaded back
	// into memory when a session is reopened.
	workingSetDefault = 50
)

// Store persists sessions as a JSONL index plus per-session transcripts.
// All operations are serialized per key; cross-key operations run in
// parallel.
type Store struct {
	dir        string
	workingSet int
	logger     *observability.Logger

	locker *Locker

	// index guards the in-memory session index; sessions themselves are
	// guarded by the per-key locker.
	indexMu  sync.RWMutex
	sessions map[string]*models.Session
}

// Options configures a Store.
type Options struct {
	// WorkingSetSize caps messages loaded into memory per session.
	WorkingSetSize int
	// Logger receives store diagnostics. Nil means silent.
	Logger *observability.Logger
}

// NewStore opens (or initializes) a session store rooted at dir.
func NewStore(dir string, opts Options) (*Store, error) {
	if opts.WorkingSetSize <= 0 {
		opts.WorkingSetSize = workingSetDefault
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewNopLogger()
	}

	for _, sub := range []string{dir, filepath.Join(dir, transcriptsDir), filepath.Join(dir, archiveDir)} {
		if err := os.MkdirAll(sub, 0o750); err != nil {
			return nil, fmt.Errorf("sessions: create %s: %w", sub, err)
		}
	}

	s := &Store{
		dir:        dir,
		workingSet: opts.WorkingSetSize,
		logger:     opts.Logger,
		locker:     NewLocker(),
		sessions:   make(map[string]*models.Session),
	}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

// loadIndex reads sessions.jsonl into memory, normalizing keys on load.
func (s *Store) loadIndex() error {
	path := filepath.Join(s.dir, indexFile)
	f, err := os.Open(path) // #nosec G304 -- path rooted at the store dir
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("sessions: open index: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var session models.Session
		if err := json.Unmarshal(line, &session); err != nil {
			s.logger.Warn(context.Background(), "skipping corrupt index line", "error", err, "path", path)
			continue
		}
		if canonical, err := Normalize(session.Key); err == nil {
			session.Key = canonical
		}
		s.sessions[session.Key] = &session
	}
	return scanner.Err()
}

// GetOrCreate returns the session for key, creating it on first reference.
// It never fails for a well-formed key.
func (s *Store) GetOrCreate(ctx context.Context, rawKey string) (*models.Session, error) {
	key, err := ParseKey(rawKey)
	if err != nil {
		return nil, err
	}
	canonical := key.String()

	unlock := s.locker.Lock(canonical)
	defer unlock()

	s.indexMu.RLock()
	existing := s.sessions[canonical]
	s.indexMu.RUnlock()

	if existing != nil {
		if existing.Messages == nil {
			msgs, err := s.readTranscriptTail(canonical, s.workingSet)
			if err != nil {
				s.logger.Warn(ctx, "transcript read failed", "error", err, "session_key", canonical)
			}
			existing.Messages = msgs
		}
		return snapshot(existing), nil
	}

	now := time.Now()
	session := &models.Session{
		Key:       canonical,
		AgentID:   key.AgentID,
		Channel:   key.Channel,
		PeerID:    key.PeerID,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []models.Message{},
	}

	s.indexMu.Lock()
	s.sessions[canonical] = session
	s.indexMu.Unlock()

	if err := s.writeIndex(); err != nil {
		return nil, err
	}
	return snapshot(session), nil
}

// Get returns a snapshot of the session for key, or nil when absent.
func (s *Store) Get(ctx context.Context, rawKey string) (*models.Session, error) {
	canonical, err := Normalize(rawKey)
	if err != nil {
		return nil, err
	}

	unlock := s.locker.Lock(canonical)
	defer unlock()

	s.indexMu.RLock()
	session := s.sessions[canonical]
	s.indexMu.RUnlock()
	if session == nil {
		return nil, nil
	}
	if session.Messages == nil {
		msgs, err := s.readTranscriptTail(canonical, s.workingSet)
		if err != nil {
			s.logger.Warn(ctx, "transcript read failed", "error", err, "session_key", canonical)
		}
		session.Messages = msgs
	}
	return snapshot(session), nil
}

// Save appends the session's buffered messages to its transcript, updates the
// index, and clears the buffer. The caller's snapshot is updated in place.
func (s *Store) Save(ctx context.Context, session *models.Session) error {
	if session == nil {
		return fmt.Errorf("sessions: nil session")
	}
	canonical, err := Normalize(session.Key)
	if err != nil {
		return err
	}

	unlock := s.locker.Lock(canonical)
	defer unlock()

	if session.Unsaved > 0 {
		pending := session.Messages[len(session.Messages)-session.Unsaved:]
		if err := s.appendTranscript(canonical, pending); err != nil {
			return err
		}
		session.Unsaved = 0
	}
	session.UpdatedAt = time.Now()

	s.indexMu.Lock()
	stored := s.sessions[canonical]
	if stored == nil {
		stored = snapshot(session)
		s.sessions[canonical] = stored
	} else {
		stored.UpdatedAt = session.UpdatedAt
		stored.Messages = append([]models.Message{}, session.Messages...)
		stored.Unsaved = 0
		s.trimWorkingSet(stored)
	}
	s.indexMu.Unlock()

	return s.writeIndex()
}

// History returns up to limit most recent transcript messages for key.
// An unknown session yields an empty slice.
func (s *Store) History(ctx context.Context, rawKey string, limit int) ([]models.Message, error) {
	canonical, err := Normalize(rawKey)
	if err != nil {
		return nil, err
	}

	unlock := s.locker.Lock(canonical)
	defer unlock()

	s.indexMu.RLock()
	_, known := s.sessions[canonical]
	s.indexMu.RUnlock()
	if !known {
		return []models.Message{}, nil
	}
	if limit <= 0 {
		limit = s.workingSet
	}
	return s.readTranscriptTail(canonical, limit)
}

// List returns sessions ordered by UpdatedAt descending, optionally filtered
// by agent id.
func (s *Store) List(ctx context.Context, agentID string) ([]*models.Session, error) {
	s.indexMu.RLock()
	out := make([]*models.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		if agentID != "" && session.AgentID != agentID {
			continue
		}
		out = append(out, snapshot(session))
	}
	s.indexMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Delete removes the session from the index and moves its transcript to
// archive/. Deleting an absent session is a no-op.
func (s *Store) Delete(ctx context.Context, rawKey string) error {
	canonical, err := Normalize(rawKey)
	if err != nil {
		return err
	}

	unlock := s.locker.Lock(canonical)
	defer unlock()

	s.indexMu.Lock()
	_, known := s.sessions[canonical]
	delete(s.sessions, canonical)
	s.indexMu.Unlock()

	if !known {
		return nil
	}
	if err := s.archiveTranscript(canonical); err != nil {
		return err
	}
	return s.writeIndex()
}

// ArchiveOld moves sessions idle for more than maxAge out of the active
// index, archiving their transcripts. Returns the number archived.
func (s *Store) ArchiveOld(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)

	s.indexMu.RLock()
	var stale []string
	for key, session := range s.sessions {
		if session.UpdatedAt.Before(cutoff) {
			stale = append(stale, key)
		}
	}
	s.indexMu.RUnlock()

	archived := 0
	for _, key := range stale {
		if err := s.Delete(ctx, key); err != nil {
			s.logger.Warn(ctx, "archive failed", "error", err, "session_key", key)
			continue
		}
		archived++
	}
	return archived, nil
}

func (s *Store) transcriptPath(key string) string {
	return filepath.Join(s.dir, transcriptsDir, Sanitize(key)+".jsonl")
}

func (s *Store) appendTranscript(key string, msgs []models.Message) error {
	path := s.transcriptPath(key)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) // #nosec G304 -- path derived from sanitized key
	if err != nil {
		return fmt.Errorf("sessions: open transcript %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i := range msgs {
		if err := enc.Encode(&msgs[i]); err != nil {
			return fmt.Errorf("sessions: encode transcript line: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("sessions: flush transcript %s: %w", path, err)
	}
	return f.Sync()
}

func (s *Store) readTranscriptTail(key string, limit int) ([]models.Message, error) {
	path := s.transcriptPath(key)
	f, err := os.Open(path) // #nosec G304 -- path derived from sanitized key
	if os.IsNotExist(err) {
		return []models.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sessions: open transcript %s: %w", path, err)
	}
	defer f.Close()

	var msgs []models.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg models.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			s.logger.Warn(context.Background(), "skipping corrupt transcript line", "error", err, "path", path)
			continue
		}
		msgs = append(msgs, msg)
	}
	if err := scanner.Err(); err != nil {
		return msgs, err
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return msgs, nil
}

func (s *Store) archiveTranscript(key string) error {
	src := s.transcriptPath(key)
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil
	}
	dst := filepath.Join(s.dir, archiveDir, fmt.Sprintf("%s.%d.jsonl", Sanitize(key), time.Now().Unix()))
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("sessions: archive transcript %s: %w", src, err)
	}
	return nil
}

// writeIndex rewrites sessions.jsonl atomically via tmp+rename.
func (s *Store) writeIndex() error {
	s.indexMu.RLock()
	records := make([]*models.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		records = append(records, session)
	}
	s.indexMu.RUnlock()

	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })

	path := filepath.Join(s.dir, indexFile)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640) // #nosec G304 -- path rooted at the store dir
	if err != nil {
		return fmt.Errorf("sessions: write index: %w", err)
	}

	enc := json.NewEncoder(f)
	for _, session := range records {
		if err := enc.Encode(session); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("sessions: encode index line: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sessions: sync index: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Store) trimWorkingSet(session *models.Session) {
	if len(session.Messages) > s.workingSet {
		session.Messages = append([]models.Message{}, session.Messages[len(session.Messages)-s.workingSet:]...)
	}
}

func snapshot(session *models.Session) *models.Session {
	clone := *session
	clone.Messages = append([]models.Message{}, session.Messages...)
	return &clone
}
