package outbox_test

import (
	"context"
	"testing"
	"time"

	"github.com/linyora/settlement/internal/logging"
	"github.com/linyora/settlement/internal/notification"
	"github.com/linyora/settlement/internal/outbox"
	"github.com/linyora/settlement/internal/store"
)

// lockCheckingNotifier runs a unit of work on the same store from inside Send. It
// only completes when the dispatcher holds no unit of work while sending.
type lockCheckingNotifier struct {
	runner outbox.TxRunner
	sent   int
	stuck  int
}

func (n *lockCheckingNotifier) Send(ctx context.Context, _ notification.Message) error {
	done := make(chan error, 1)
	go func() {
		done <- n.runner.InTx(ctx, func(context.Context, outbox.Tx) error { return nil })
	}()
	select {
	case err := <-done:
		if err != nil {
			return err
		}
		n.sent++
	case <-time.After(time.Second):
		n.stuck++
	}
	return nil
}

func TestDrainSendsOutsideUnitOfWork(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	runner := store.OutboxRunner(mem)
	err := runner.InTx(ctx, func(ctx context.Context, tx outbox.Tx) error {
		return outbox.Enqueue(ctx, tx.Outbox(), outbox.TopicPayoutReviewed, "payout_request", "req-1", "p1", map[string]string{"status": "rejected"})
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	notifier := &lockCheckingNotifier{runner: runner}
	res, err := outbox.NewDispatcher(runner, notifier, logging.Discard()).Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if notifier.stuck != 0 {
		t.Fatalf("store stayed locked during %d sends", notifier.stuck)
	}
	if res.Dispatched != 1 || notifier.sent != 1 {
		t.Fatalf("expected one delivery, got %+v sent=%d", res, notifier.sent)
	}
}
