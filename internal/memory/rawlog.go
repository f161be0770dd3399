package memory

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// RawLog is the append-only event journal (raw.jsonl). Every capture,
// consolidation, and forgetting decision lands here before anything else,
// so the long-term store can always be rebuilt.
type RawLog struct {
	mu   sync.Mutex
	path string
}

// RawEvent is one journal line.
type RawEvent struct {
	Timestamp time.Time `json:"ts"`
	Kind      string    `json:"kind"` // capture, consolidate, forget, decay
	EntryID   string    `json:"entry_id,omitempty"`
	Content   string    `json:"content,omitempty"`
	Detail    any       `json:"detail,omitempty"`
}

// NewRawLog creates a journal writer for path.
func NewRawLog(path string) *RawLog {
	return &RawLog{path: path}
}

// Append writes one event line and syncs it to disk.
func (l *RawLog) Append(event RawEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("memory: marshal raw event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("memory: open raw log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("memory: append raw log: %w", err)
	}
	return f.Sync()
}

// ReadRawEvents replays the journal at path. Unparseable lines are
// skipped so a torn final write never blocks a rebuild.
func ReadRawEvents(path string) ([]RawEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("memory: open raw log: %w", err)
	}
	defer f.Close()

	var events []RawEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var event RawEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("memory: read raw log: %w", err)
	}
	return events, nil
}
