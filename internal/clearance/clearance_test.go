package clearance_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/linyora/settlement/internal/clearance"
	"github.com/linyora/settlement/internal/ledger"
	"github.com/linyora/settlement/internal/logging"
	"github.com/linyora/settlement/internal/metrics"
	"github.com/linyora/settlement/internal/money"
	"github.com/linyora/settlement/internal/outbox"
	"github.com/linyora/settlement/internal/settings"
	"github.com/linyora/settlement/internal/store"
)

var now = time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)

func seedEarning(t *testing.T, mem *store.Memory, account, amount string, age time.Duration) ledger.Entry {
	t.Helper()
	e, err := mem.SeedEntry(context.Background(), ledger.Entry{
		AccountID:   account,
		Amount:      money.MustParse(amount),
		Kind:        ledger.KindEarning,
		Status:      ledger.StatusPendingClearance,
		Description: "earning",
		CreatedAt:   now.Add(-age),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return e
}

func TestRunClearsMaturedEntriesOnce(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	old := seedEarning(t, mem, "prov-1", "900.00", 15*24*time.Hour)
	seedEarning(t, mem, "prov-1", "45.00", 24*time.Hour)

	cfg := settings.Static{CommissionPercent: decimal.NewFromInt(10), ClearanceDays: 14}
	svc := clearance.NewService(store.ClearanceRunner(mem), cfg, metrics.New(), logging.Discard()).
		WithClock(func() time.Time { return now })

	report, err := svc.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Cleared != 1 || report.HoldDays != 14 || report.Skipped {
		t.Fatalf("unexpected report %+v", report)
	}
	if !report.Cutoff.Equal(now.Add(-14 * 24 * time.Hour)) {
		t.Fatalf("unexpected cutoff %s", report.Cutoff)
	}

	b := ledger.Summarize("prov-1", mem.LedgerEntries())
	if money.String(b.Available) != "900.00" || money.String(b.PendingClearance) != "45.00" {
		t.Fatalf("unexpected balances available=%s pending=%s", b.Available, b.PendingClearance)
	}
	for _, e := range mem.LedgerEntries() {
		if e.ID == old.ID && (e.Status != ledger.StatusCleared || e.ClearedAt == nil || !e.ClearedAt.Equal(now)) {
			t.Fatalf("matured entry not stamped: %+v", e)
		}
	}
	if n := len(mem.Events(outbox.TopicEntryCleared)); n != 1 {
		t.Fatalf("expected one cleared event, got %d", n)
	}

	report, err = svc.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report.Cleared != 0 {
		t.Fatalf("second run should clear nothing, cleared %d", report.Cleared)
	}
}

func TestZeroHoldClearsEverything(t *testing.T) {
	mem := store.NewMemory()
	seedEarning(t, mem, "prov-1", "10.00", time.Minute)
	seedEarning(t, mem, "prov-2", "20.00", 0)

	svc := clearance.NewService(store.ClearanceRunner(mem), settings.Static{}, nil, logging.Discard()).
		WithClock(func() time.Time { return now })
	report, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Cleared != 2 {
		t.Fatalf("expected both entries cleared, got %d", report.Cleared)
	}
}

type blockingSettings struct {
	settings.Static
	entered chan struct{}
	release chan struct{}
}

func (b blockingSettings) ClearancePeriodDays(ctx context.Context) (int, error) {
	close(b.entered)
	<-b.release
	return b.Static.ClearancePeriodDays(ctx)
}

func TestOverlappingRunIsSkipped(t *testing.T) {
	mem := store.NewMemory()
	seedEarning(t, mem, "prov-1", "10.00", 30*24*time.Hour)

	cfg := blockingSettings{
		Static:  settings.Static{ClearanceDays: 14},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	svc := clearance.NewService(store.ClearanceRunner(mem), cfg, metrics.New(), logging.Discard()).
		WithClock(func() time.Time { return now })

	done := make(chan clearance.Report, 1)
	go func() {
		report, err := svc.Run(context.Background())
		if err != nil {
			t.Errorf("first run: %v", err)
		}
		done <- report
	}()
	<-cfg.entered

	skipped, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("overlapping run: %v", err)
	}
	if !skipped.Skipped || skipped.Cleared != 0 {
		t.Fatalf("expected skipped report, got %+v", skipped)
	}

	close(cfg.release)
	first := <-done
	if first.Cleared != 1 {
		t.Fatalf("first run should clear the entry, got %+v", first)
	}
}
