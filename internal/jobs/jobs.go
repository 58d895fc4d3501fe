// Package jobs runs the background settlement work: the clearance pass and the
// outbox drain. With PostgreSQL both run as River periodic jobs; without it a
// cron scheduler drives the same workers in process.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/linyora/settlement/internal/clearance"
	"github.com/linyora/settlement/internal/metrics"
	"github.com/linyora/settlement/internal/outbox"
)

// Clearer runs one clearance pass.
type Clearer interface {
	Run(ctx context.Context) (clearance.Report, error)
}

// Drainer delivers one batch of outbox events.
type Drainer interface {
	Drain(ctx context.Context) (outbox.DrainResult, error)
}

// ClearanceArgs triggers a clearance pass.
type ClearanceArgs struct{}

func (ClearanceArgs) Kind() string { return "settlement_clearance" }

// InsertOpts keeps at most one pass queued per minute.
func (ClearanceArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{UniqueOpts: river.UniqueOpts{ByPeriod: time.Minute}}
}

// OutboxDrainArgs triggers an outbox drain.
type OutboxDrainArgs struct{}

func (OutboxDrainArgs) Kind() string { return "settlement_outbox_drain" }

// ClearanceWorker runs the clearance service.
type ClearanceWorker struct {
	river.WorkerDefaults[ClearanceArgs]
	clearer Clearer
	logger  *slog.Logger
}

func NewClearanceWorker(c Clearer, logger *slog.Logger) *ClearanceWorker {
	return &ClearanceWorker{clearer: c, logger: logger}
}

func (w *ClearanceWorker) Work(ctx context.Context, _ *river.Job[ClearanceArgs]) error {
	return runClearance(ctx, w.clearer, w.logger)
}

// Timeout bounds one pass.
func (w *ClearanceWorker) Timeout(*river.Job[ClearanceArgs]) time.Duration {
	return 5 * time.Minute
}

// OutboxWorker drains the outbox and records delivery counts.
type OutboxWorker struct {
	river.WorkerDefaults[OutboxDrainArgs]
	drainer Drainer
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewOutboxWorker(d Drainer, m *metrics.Metrics, logger *slog.Logger) *OutboxWorker {
	return &OutboxWorker{drainer: d, metrics: m, logger: logger}
}

func (w *OutboxWorker) Work(ctx context.Context, _ *river.Job[OutboxDrainArgs]) error {
	return drainOutbox(ctx, w.drainer, w.metrics, w.logger)
}

func runClearance(ctx context.Context, c Clearer, logger *slog.Logger) error {
	report, err := c.Run(ctx)
	if err != nil {
		logger.Error("clearance run failed", slog.Any("error", err))
		return fmt.Errorf("clearance run: %w", err)
	}
	if report.Skipped {
		logger.Debug("clearance run skipped, previous run still active")
	}
	return nil
}

func drainOutbox(ctx context.Context, d Drainer, m *metrics.Metrics, logger *slog.Logger) error {
	res, err := d.Drain(ctx)
	if err != nil {
		logger.Error("outbox drain failed", slog.Any("error", err))
		return fmt.Errorf("outbox drain: %w", err)
	}
	m.RecordOutbox(res.Dispatched, res.Failed)
	return nil
}
