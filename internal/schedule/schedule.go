// Package schedule runs periodic maintenance jobs (memory consolidation,
// session archiving) on cron expressions.
package schedule

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/aide/internal/observability"
)

// Job is one scheduled unit of work. Errors are logged, never fatal.
type Job func(ctx context.Context) error

// Scheduler wraps a cron runner with logging and panic containment. Jobs
// fire and forget; overlapping runs of the same job are skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger *observability.Logger
	base   context.Context
	cancel context.CancelFunc
}

// New creates a stopped scheduler.
func New(logger *observability.Logger) *Scheduler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: logger,
		base:   base,
		cancel: cancel,
	}
}

// Add schedules job under the given cron spec (standard 5-field syntax).
func (s *Scheduler) Add(spec, name string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx := s.base
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error(ctx, "scheduled job panicked", "job", name, "panic", rec)
			}
		}()

		start := time.Now()
		if err := job(ctx); err != nil {
			s.logger.Error(ctx, "scheduled job failed", "job", name, "error", err)
			return
		}
		s.logger.Info(ctx, "scheduled job done", "job", name, "duration", time.Since(start))
	})
	return err
}

// Start begins firing jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}
