package jobs

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/robfig/cron/v3"

	"github.com/linyora/settlement/internal/metrics"
)

// Schedule configures when background work runs.
type Schedule struct {
	// Clearance is a standard five-field cron expression.
	Clearance   string
	OutboxDrain time.Duration
}

// PeriodicJobs builds the River periodic jobs for s.
func PeriodicJobs(s Schedule) ([]*river.PeriodicJob, error) {
	clearanceSchedule, err := cron.ParseStandard(s.Clearance)
	if err != nil {
		return nil, fmt.Errorf("parse clearance schedule %q: %w", s.Clearance, err)
	}
	if s.OutboxDrain <= 0 {
		return nil, fmt.Errorf("outbox drain interval must be positive, got %s", s.OutboxDrain)
	}
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			clearanceSchedule,
			func() (river.JobArgs, *river.InsertOpts) { return ClearanceArgs{}, nil },
			&river.PeriodicJobOpts{RunOnStart: true},
		),
		river.NewPeriodicJob(
			river.PeriodicInterval(s.OutboxDrain),
			func() (river.JobArgs, *river.InsertOpts) { return OutboxDrainArgs{}, nil },
			nil,
		),
	}, nil
}

// NewRiverClient builds a River client running the clearance and outbox
// workers on their schedule. Call Start to begin processing.
func NewRiverClient(pool *pgxpool.Pool, c Clearer, d Drainer, s Schedule, m *metrics.Metrics, logger *slog.Logger) (*river.Client[pgx.Tx], error) {
	workers := river.NewWorkers()
	river.AddWorker(workers, NewClearanceWorker(c, logger))
	river.AddWorker(workers, NewOutboxWorker(d, m, logger))

	periodic, err := PeriodicJobs(s)
	if err != nil {
		return nil, err
	}

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 2},
		},
		Workers:      workers,
		PeriodicJobs: periodic,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}
	return client, nil
}
