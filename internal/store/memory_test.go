package store

import (
	"context"
	"errors"
	"testing"

	"github.com/linyora/settlement/internal/ledger"
	"github.com/linyora/settlement/internal/money"
	"github.com/linyora/settlement/internal/outbox"
)

func TestMemoryRollsBackFailedUnitOfWork(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	boom := errors.New("boom")

	err := mem.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := ledger.Record(ctx, tx.Ledger(), ledger.Entry{
			AccountID: "acc-1", Amount: money.MustParse("10.00"), Kind: ledger.KindAdjustment, Status: ledger.StatusCleared,
		}); err != nil {
			return err
		}
		if err := outbox.Enqueue(ctx, tx.Outbox(), outbox.TopicPayoutRequested, "payout_request", "r1", "acc-1", nil); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if n := len(mem.LedgerEntries()); n != 0 {
		t.Fatalf("expected ledger rollback, got %d entries", n)
	}
	if n := len(mem.Events(outbox.TopicPayoutRequested)); n != 0 {
		t.Fatalf("expected outbox rollback, got %d events", n)
	}
}

func TestMemoryRollsBackOnPanic(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_ = mem.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			if err := tx.Ledger().Insert(ctx, ledger.Entry{ID: "e1", AccountID: "acc-1"}); err != nil {
				return err
			}
			panic("fault")
		})
	}()
	if n := len(mem.LedgerEntries()); n != 0 {
		t.Fatalf("expected rollback after panic, got %d entries", n)
	}

	if _, err := mem.SeedEntry(ctx, ledger.Entry{
		AccountID: "acc-1", Amount: money.MustParse("1.00"), Kind: ledger.KindAdjustment, Status: ledger.StatusCleared,
	}); err != nil {
		t.Fatalf("store unusable after panic: %v", err)
	}
}
