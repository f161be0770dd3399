package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/haasonsaas/aide/internal/backoff"
	"github.com/haasonsaas/aide/internal/observability"
	"github.com/haasonsaas/aide/pkg/models"
)

// Sender delivers one outbound message for a channel. Implementations are
// expected to be idempotent: the queue guarantees at-least-once, not
// exactly-once.
type Sender func(ctx context.Context, d *models.QueuedDelivery) error

// NonRetryableError marks a delivery failure that should go straight to the
// dead-letter directory instead of being retried.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string { return e.Err.Error() }
func (e *NonRetryableError) Unwrap() error { return e.Err }

// NonRetryable wraps err so the worker dead-letters the delivery at once.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// WorkerOptions configures the delivery worker.
type WorkerOptions struct {
	// ScanInterval is the directory poll period (default 5s).
	ScanInterval time.Duration
	// Logger receives worker diagnostics. Nil means silent.
	Logger *observability.Logger
	// Metrics receives delivery counters. Optional.
	Metrics *observability.Metrics
}

// Worker is the single mutator of queue files. It scans the directory on an
// interval (and on fsnotify create events, which only shorten the wait) and
// attempts due deliveries through the registered per-channel senders.
type Worker struct {
	queue   *Queue
	senders map[models.ChannelType]Sender
	opts    WorkerOptions
}

// NewWorker creates a worker over queue with the given per-channel senders.
func NewWorker(queue *Queue, senders map[models.ChannelType]Sender, opts WorkerOptions) *Worker {
	if opts.ScanInterval <= 0 {
		opts.ScanInterval = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewNopLogger()
	}
	if senders == nil {
		senders = map[models.ChannelType]Sender{}
	}
	return &Worker{queue: queue, senders: senders, opts: opts}
}

// RegisterSender installs or replaces the sender for a channel.
func (w *Worker) RegisterSender(channel models.ChannelType, send Sender) {
	w.senders[channel] = send
}

// Run recovers the queue directory and then processes deliveries until ctx
// is cancelled. Delivery errors never terminate the loop.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.queue.Recover(); err != nil {
		return err
	}

	wake := w.watch(ctx)

	ticker := time.NewTicker(w.opts.ScanInterval)
	defer ticker.Stop()

	// Process whatever survived the restart before the first tick.
	w.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Tick(ctx)
		case <-wake:
			w.Tick(ctx)
		}
	}
}

// watch returns a channel that fires when new files land in the queue dir.
// A failed watcher degrades to interval-only scanning.
func (w *Worker) watch(ctx context.Context) <-chan struct{} {
	wake := make(chan struct{}, 1)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.opts.Logger.Warn(ctx, "queue watcher unavailable, falling back to interval scans", "error", err)
		return wake
	}
	if err := watcher.Add(w.queue.Dir()); err != nil {
		w.opts.Logger.Warn(ctx, "queue watcher unavailable, falling back to interval scans", "error", err)
		watcher.Close()
		return wake
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Rename) {
					select {
					case wake <- struct{}{}:
					default:
					}
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return wake
}

// Tick runs one scan pass: every due delivery is attempted once.
func (w *Worker) Tick(ctx context.Context) {
	pending, err := w.queue.Pending()
	if err != nil {
		w.opts.Logger.Error(ctx, "queue scan failed", "error", err)
		return
	}
	if w.opts.Metrics != nil {
		w.opts.Metrics.QueueDepth.Set(float64(len(pending)))
	}

	now := time.Now()
	for _, d := range pending {
		if ctx.Err() != nil {
			return
		}
		if d.NextRetryAt.After(now) {
			continue
		}
		w.attempt(ctx, d)
	}
}

func (w *Worker) attempt(ctx context.Context, d *models.QueuedDelivery) {
	if d.RetryCount >= d.MaxRetries {
		w.bury(ctx, d, "retries exhausted")
		return
	}

	send, ok := w.senders[d.Channel]
	if !ok {
		// No sender registered yet; try again next tick without burning
		// a retry.
		return
	}

	err := send(ctx, d)
	if err == nil {
		if ackErr := w.queue.ack(d.ID); ackErr != nil {
			w.opts.Logger.Error(ctx, "delivery ack failed", "error", ackErr, "delivery_id", d.ID)
			return
		}
		w.count(d.Channel, "success")
		w.opts.Logger.Info(ctx, "delivery sent",
			"delivery_id", d.ID, "channel", string(d.Channel), "attempts", d.RetryCount+1)
		return
	}

	var nonRetryable *NonRetryableError
	if errors.As(err, &nonRetryable) {
		w.bury(ctx, d, err.Error())
		return
	}

	d.RetryCount++
	d.LastError = err.Error()
	d.NextRetryAt = time.Now().Add(backoff.ForDelivery(d.RetryCount))

	if d.RetryCount >= d.MaxRetries {
		w.bury(ctx, d, d.LastError)
		return
	}

	if writeErr := w.queue.write(d); writeErr != nil {
		// Leave the old file in place; the stale record retries next tick.
		w.opts.Logger.Error(ctx, "delivery reschedule failed", "error", writeErr, "delivery_id", d.ID)
		return
	}
	w.count(d.Channel, "retry")
	w.opts.Logger.Warn(ctx, "delivery failed, scheduled retry",
		"delivery_id", d.ID, "channel", string(d.Channel),
		"retry_count", d.RetryCount, "next_retry_at", d.NextRetryAt, "error", err)
}

func (w *Worker) bury(ctx context.Context, d *models.QueuedDelivery, reason string) {
	d.LastError = reason
	if err := w.queue.write(d); err != nil {
		w.opts.Logger.Error(ctx, "dead-letter write failed", "error", err, "delivery_id", d.ID)
	}
	if err := w.queue.deadLetter(d.ID); err != nil {
		w.opts.Logger.Error(ctx, "dead-letter move failed", "error", err, "delivery_id", d.ID)
		return
	}
	w.count(d.Channel, "dead_letter")
	w.opts.Logger.Error(ctx, "delivery dead-lettered",
		"delivery_id", d.ID, "channel", string(d.Channel), "reason", reason)
}

func (w *Worker) count(channel models.ChannelType, status string) {
	if w.opts.Metrics != nil {
		w.opts.Metrics.DeliveryAttempts.WithLabelValues(string(channel), status).Inc()
	}
}
