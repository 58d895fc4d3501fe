package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/linyora/settlement/internal/notification"
)

const (
	defaultBatchSize   = 100
	defaultLease       = time.Minute
	defaultMaxAttempts = 10
)

// Dispatcher delivers pending events to a notifier. Delivery is at least once:
// an event whose send succeeded but whose mark failed is sent again once its
// lease runs out.
type Dispatcher struct {
	runner      TxRunner
	notifier    notification.Notifier
	logger      *slog.Logger
	batchSize   int
	lease       time.Duration
	maxAttempts int
	now         func() time.Time
}

// NewDispatcher wires a dispatcher over runner.
func NewDispatcher(runner TxRunner, notifier notification.Notifier, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		runner:      runner,
		notifier:    notifier,
		logger:      logger,
		batchSize:   defaultBatchSize,
		lease:       defaultLease,
		maxAttempts: defaultMaxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithMaxAttempts caps delivery attempts per event. An event that used its last
// attempt stays undelivered with its last error for manual follow-up.
func (d *Dispatcher) WithMaxAttempts(n int) *Dispatcher {
	if n > 0 {
		d.maxAttempts = n
	}
	return d
}

// WithClock replaces the dispatcher clock.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Dispatched int `json:"dispatched"`
	Failed     int `json:"failed"`
	// Exhausted counts failed events that have no attempts left.
	Exhausted int `json:"exhausted"`
}

// Drain sends one batch of pending events. The batch is leased in one unit of
// work, sent with no unit of work open, and the outcomes recorded in a second
// one. Send failures are recorded on the event and do not abort the batch.
func (d *Dispatcher) Drain(ctx context.Context) (DrainResult, error) {
	now := d.now()
	var events []Event
	err := d.runner.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		events, err = tx.Outbox().Claim(ctx, now, now.Add(d.lease), d.maxAttempts, d.batchSize)
		return err
	})
	if err != nil {
		return DrainResult{}, fmt.Errorf("claim outbox events: %w", err)
	}
	if len(events) == 0 {
		return DrainResult{}, nil
	}

	sendErrs := make([]error, len(events))
	for i, ev := range events {
		sendErrs[i] = d.notifier.Send(ctx, notification.Message{
			Kind:        ev.Topic,
			Destination: ev.RecipientID,
			Body:        string(ev.Payload),
		})
		if sendErrs[i] != nil {
			d.logger.Warn("outbox delivery failed",
				slog.String("event_id", ev.ID),
				slog.String("topic", ev.Topic),
				slog.Int("attempt", ev.Attempts+1),
				slog.Any("error", sendErrs[i]))
		}
	}

	var res DrainResult
	err = d.runner.InTx(ctx, func(ctx context.Context, tx Tx) error {
		res = DrainResult{}
		for i, ev := range events {
			if sendErrs[i] == nil {
				if err := tx.Outbox().MarkDispatched(ctx, ev.ID, d.now()); err != nil {
					return err
				}
				res.Dispatched++
				continue
			}
			if err := tx.Outbox().MarkFailed(ctx, ev.ID, sendErrs[i].Error()); err != nil {
				return err
			}
			res.Failed++
			if ev.Attempts+1 >= d.maxAttempts {
				res.Exhausted++
				d.logger.Error("outbox event out of attempts",
					slog.String("event_id", ev.ID),
					slog.String("topic", ev.Topic),
					slog.Int("attempts", ev.Attempts+1))
			}
		}
		return nil
	})
	if err != nil {
		return DrainResult{}, fmt.Errorf("record outbox outcomes: %w", err)
	}
	d.logger.Info("outbox drained",
		slog.Int("dispatched", res.Dispatched),
		slog.Int("failed", res.Failed),
		slog.Int("exhausted", res.Exhausted))
	return res, nil
}
