// Package clearance promotes earnings to the available balance once their
// hold period has passed.
package clearance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/linyora/settlement/internal/apperr"
	"github.com/linyora/settlement/internal/ledger"
	"github.com/linyora/settlement/internal/metrics"
	"github.com/linyora/settlement/internal/money"
	"github.com/linyora/settlement/internal/outbox"
	"github.com/linyora/settlement/internal/settings"
)

// Tx is the part of a unit of work a clearance run writes through.
type Tx interface {
	Ledger() ledger.Repository
	Outbox() outbox.Repository
}

// TxRunner runs fn inside one unit of work.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Report describes one run.
type Report struct {
	Cleared  int       `json:"cleared"`
	Cutoff   time.Time `json:"cutoff"`
	RanAt    time.Time `json:"ran_at"`
	HoldDays int       `json:"hold_days"`
	// Skipped is set when another run in this process was still going.
	Skipped bool `json:"skipped"`
}

// Service runs clearance. Runs inside one process never overlap; across
// processes the update predicate keeps overlapping runs harmless.
type Service struct {
	runner   TxRunner
	settings settings.Provider
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	running sync.Mutex
}

func NewService(runner TxRunner, cfg settings.Provider, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{
		runner:   runner,
		settings: cfg,
		metrics:  m,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the service clock.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Run clears every pending entry created at or before now minus the hold period.
func (s *Service) Run(ctx context.Context) (Report, error) {
	if !s.running.TryLock() {
		s.metrics.RecordClearance(0, 0, true)
		return Report{Skipped: true, RanAt: s.now()}, nil
	}
	defer s.running.Unlock()

	started := time.Now()
	days, err := s.settings.ClearancePeriodDays(ctx)
	if err != nil {
		return Report{}, apperr.Wrap("clearance.HoldDays", err)
	}
	if days < 0 {
		return Report{}, fmt.Errorf("clearance hold period %d days is negative", days)
	}

	now := s.now()
	report := Report{
		RanAt:    now,
		HoldDays: days,
		Cutoff:   now.Add(-time.Duration(days) * 24 * time.Hour),
	}
	err = s.runner.InTx(ctx, func(ctx context.Context, tx Tx) error {
		cleared, err := tx.Ledger().ClearMatured(ctx, report.Cutoff, now)
		if err != nil {
			return err
		}
		for _, e := range cleared {
			if err := outbox.Enqueue(ctx, tx.Outbox(), outbox.TopicEntryCleared, "ledger_entry", e.ID, e.AccountID, map[string]string{
				"entry_id": e.ID,
				"amount":   money.String(e.Amount),
			}); err != nil {
				return err
			}
		}
		report.Cleared = len(cleared)
		return nil
	})
	if err != nil {
		return Report{}, apperr.Wrap("clearance.Run", err)
	}

	s.metrics.RecordClearance(report.Cleared, time.Since(started), false)
	s.logger.Info("clearance run finished",
		slog.Int("cleared", report.Cleared),
		slog.Time("cutoff", report.Cutoff),
		slog.Int("hold_days", days))
	return report, nil
}
