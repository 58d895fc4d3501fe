package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/linyora/settlement/internal/metrics"
)

// Scheduler drives the workers in process when no job queue is available.
type Scheduler struct {
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
}

// NewScheduler registers the clearance and outbox runs on s.
func NewScheduler(c Clearer, d Drainer, s Schedule, m *metrics.Metrics, logger *slog.Logger) (*Scheduler, error) {
	if s.OutboxDrain <= 0 {
		return nil, fmt.Errorf("outbox drain interval must be positive, got %s", s.OutboxDrain)
	}
	ctx, cancel := context.WithCancel(context.Background())
	sch := &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		ctx:     ctx,
		cancel:  cancel,
		timeout: 5 * time.Minute,
	}

	if _, err := sch.cron.AddFunc(s.Clearance, func() {
		ctx, cancel := context.WithTimeout(sch.ctx, sch.timeout)
		defer cancel()
		_ = runClearance(ctx, c, logger)
	}); err != nil {
		cancel()
		return nil, fmt.Errorf("parse clearance schedule %q: %w", s.Clearance, err)
	}
	sch.cron.Schedule(cron.Every(s.OutboxDrain), cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(sch.ctx, sch.timeout)
		defer cancel()
		_ = drainOutbox(ctx, d, m, logger)
	}))
	return sch, nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entries reports how many jobs are registered.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
