// Package delivery provides an on-disk, at-least-once outbound delivery
// queue.
//
// Layout under the queue directory:
//
//	<id>.json   a pending delivery, written via tmp+fsync+rename
//	<id>.tmp    an in-progress write; never read, removed on recovery
//	failed/     dead-letter directory for deliveries that exhausted retries
package delivery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/aide/pkg/models"
)

const (
	liveSuffix = ".json"
	tmpSuffix  = ".tmp"
	failedDir  = "failed"

	// DefaultMaxRetries is the retry budget before dead-lettering.
	DefaultMaxRetries = 5
)

// Queue owns the on-disk delivery directory. Enqueue may be called from any
// goroutine; all mutation of existing files is done by the single worker.
type Queue struct {
	dir string
}

// NewQueue opens (or initializes) a queue rooted at dir.
func NewQueue(dir string) (*Queue, error) {
	for _, sub := range []string{dir, filepath.Join(dir, failedDir)} {
		if err := os.MkdirAll(sub, 0o750); err != nil {
			return nil, fmt.Errorf("delivery: create %s: %w", sub, err)
		}
	}
	return &Queue{dir: dir}, nil
}

// Dir returns the queue directory.
func (q *Queue) Dir() string { return q.dir }

// Enqueue durably persists one outbound message and returns its delivery id.
// The file reaches the live *.json name only after a successful fsync; a
// crash mid-write leaves at most an ignorable *.tmp.
func (q *Queue) Enqueue(msg models.OutboundMessage, agentID, sessionKey string) (string, error) {
	d := models.QueuedDelivery{
		ID:          uuid.NewString(),
		Channel:     msg.Channel,
		To:          msg.ChatID,
		Text:        msg.Content,
		AgentID:     agentID,
		SessionKey:  sessionKey,
		MaxRetries:  DefaultMaxRetries,
		EnqueuedAt:  time.Now(),
		NextRetryAt: time.Now(),
	}
	if err := q.write(&d); err != nil {
		return "", err
	}
	return d.ID, nil
}

// write persists a delivery record via the tmp+fsync+rename protocol.
func (q *Queue) write(d *models.QueuedDelivery) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("delivery: marshal %s: %w", d.ID, err)
	}

	tmp := filepath.Join(q.dir, d.ID+tmpSuffix)
	live := filepath.Join(q.dir, d.ID+liveSuffix)

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640) // #nosec G304 -- path rooted at the queue dir
	if err != nil {
		return fmt.Errorf("delivery: open %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("delivery: write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("delivery: fsync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("delivery: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, live); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("delivery: rename %s: %w", tmp, err)
	}
	return nil
}

// load reads one live delivery file.
func (q *Queue) load(path string) (*models.QueuedDelivery, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path rooted at the queue dir
	if err != nil {
		return nil, err
	}
	var d models.QueuedDelivery
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("delivery: decode %s: %w", path, err)
	}
	return &d, nil
}

// ack removes a delivered file.
func (q *Queue) ack(id string) error {
	return os.Remove(filepath.Join(q.dir, id+liveSuffix))
}

// deadLetter moves an exhausted delivery to failed/.
func (q *Queue) deadLetter(id string) error {
	src := filepath.Join(q.dir, id+liveSuffix)
	dst := filepath.Join(q.dir, failedDir, id+liveSuffix)
	return os.Rename(src, dst)
}

// Pending lists live deliveries in directory order.
func (q *Queue) Pending() ([]*models.QueuedDelivery, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, fmt.Errorf("delivery: scan %s: %w", q.dir, err)
	}

	var out []*models.QueuedDelivery
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), liveSuffix) {
			continue
		}
		d, err := q.load(filepath.Join(q.dir, entry.Name()))
		if err != nil {
			// Leave corrupt files in place; they are retried next tick
			// and surfaced through the worker's logger.
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// Failed lists dead-lettered deliveries.
func (q *Queue) Failed() ([]*models.QueuedDelivery, error) {
	dir := filepath.Join(q.dir, failedDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("delivery: scan %s: %w", dir, err)
	}

	var out []*models.QueuedDelivery
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), liveSuffix) {
			continue
		}
		d, err := q.load(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// Recover deletes stale *.tmp files left by a crash. Live files need no
// repair; they are picked up by the next scan.
func (q *Queue) Recover() error {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return fmt.Errorf("delivery: scan %s: %w", q.dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), tmpSuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(q.dir, entry.Name())); err != nil {
			return fmt.Errorf("delivery: remove stale tmp %s: %w", entry.Name(), err)
		}
	}
	return nil
}
